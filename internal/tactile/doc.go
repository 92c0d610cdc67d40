// Package tactile holds the pieces shared by every layer of the tactile
// frame receiver: datagram and frame statistics and their drop reasons.
//
// Layers:
//   - l1datagrams: datagram sub-header and fragmentation
//   - l2reassembly: reassembly buffer pool and datagram dispatcher
//   - l3frames: header decoding, frame store, readiness gate
//   - session: receive loop owner, control datagrams, frame delivery
package tactile
