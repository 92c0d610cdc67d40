// Package session owns a tactile sensor receive session: the receive loop,
// the table of sensor endpoints used for calibrate and quit control datagrams,
// delivery of ready frames to the consumer callback, and a bounded queue of
// frame snapshots for consumers that poll instead.
package session
