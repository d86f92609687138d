// Package cansocket provides core types and a Linux SocketCAN endpoint for
// working with Controller Area Network (CAN) in Go.
//
// It includes:
//   - A core Frame type with validation, raw identifier and binary helpers
//   - The Bus and Transmitter abstractions used by higher-level packages
//   - An in-memory loopback bus for tests and simulations
//   - A Linux SocketCAN socket (linux-only) built on golang.org/x/sys/unix
//
// Cyclic retransmission of frames lives in the cyclic subpackage.
package cansocket
