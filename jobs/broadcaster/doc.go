// Package broadcaster forwards execution reports from the outbox to the
// message broker. Delivery is at-least-once: a record is only removed
// after the publisher acknowledged it.
package broadcaster
