// Package service orchestrates the core components of the engine:
// the order book, memory reclamation, sequencing, the outbox and
// subscribers.
//
// OrderService is the external synchronization boundary the book
// requires. Adders share the gate and never wait for each other; a
// matching pass holds it exclusively.
package service
