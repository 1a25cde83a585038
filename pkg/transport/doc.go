// Package transport negotiates how a session's bytes will move, without
// moving them itself.
//
// Kinds are tried along a fixed priority ladder:
//
//	mesh → direct → rendezvous → relay
//
// The controller offers the kinds it can use; the host answers with its own
// candidates for the mutually supported kinds; the controller builds a Plan
// and walks it, falling back deterministically each time a candidate is
// rejected or fails to connect.
//
// Pipe provides an in-memory datagram link built on pion's test.Bridge for
// tests and demos.
package transport
