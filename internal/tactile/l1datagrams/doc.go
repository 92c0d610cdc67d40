// Package l1datagrams owns Layer 1 (Datagrams) of the tactile data model.
//
// Responsibilities: the fixed 8-byte datagram sub-header (serial number,
// data datagram count, datagram index) and the sender-side split of one
// frame into a header datagram plus data datagrams.
//
// Dependency rule: L1 has no inward dependencies on higher layers.
package l1datagrams
