// Package network moves raw tactile datagrams in and out of the process: the
// UDP socket abstraction and its mock, the listener loop that hands each
// datagram to a DatagramHandler, an optional raw forwarder, and replay of
// captured traffic through the same handler.
package network
