// Package capture records CAN traffic to a CBOR stream and reads it back.
//
// A Writer is safe for concurrent use and tags every record with the
// session identifier generated when it was created, so captures appended to
// the same file from several runs can be told apart.
package capture
