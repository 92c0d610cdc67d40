// Package l2reassembly owns Layer 2 (Reassembly) of the tactile data model.
//
// Responsibilities: a fixed pool of reassembly slots keyed by the sender's
// serial number, timeout-based reclamation of stalled slots, and the
// dispatcher that places each datagram's payload at its offset and detects
// frame completion. Completed frames are handed to a FrameHandler while the
// slot is still held; the slot is released as soon as the handler returns.
//
// The pool and dispatcher are not safe for concurrent use. They are owned by
// the single goroutine running the receive loop.
//
// Dependency rule: L2 may depend on L1, but never on L3+.
package l2reassembly
