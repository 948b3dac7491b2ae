// Package memory provides the low-level primitives for slot management
// and safe reclamation. It includes the handle-addressed Arena used to
// store orders, a lock-free SPSC RetireRing, reader epochs for
// RCU-style reclamation, and a typed object Pool.
//
// Nothing here knows about orders; the order book and the service build
// on these pieces.
package memory
