// Package l3frames owns Layer 3 (Frames) of the tactile data model.
//
// Responsibilities: decoding the textual frame header into metadata and field
// descriptors, copying typed field bytes out of a reassembled data buffer into
// a reusable Store, and the readiness gate that withholds frames from a
// sensor that is still initialising.
// Key types: Header, FieldDescriptor, Store, Decoder, Frame, Snapshot.
//
// A Store and the Frame handed out by a Decoder are overwritten by the next
// decode. Consumers that keep data past their callback take a Snapshot.
//
// Dependency rule: L3 may depend on L1 and L2, but never on the session layer.
package l3frames
