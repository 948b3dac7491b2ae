// Package orderbook implements the in-memory order book: two lock-free
// stacks of resting orders, one per side, and a greedy single-pass
// matcher that pairs them.
//
// Insertion is safe from any number of goroutines. Matching is a
// single-writer operation: the caller must guarantee that no other
// MatchOrders call and no AddOrder call runs while a pass is in
// progress. The book does not detect violations of this contract.
package orderbook
