// Package canopen provides the CANopen services that map onto cyclic
// transmission: heartbeat and SYNC producers backed by a cyclic.Engine,
// plus the COB-ID, NMT and filter helpers needed to consume them.
//
// It does not implement an object dictionary, SDO or PDO mapping.
package canopen
