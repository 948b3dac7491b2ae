// Package snapshot provides read-only access to the in-memory book
// without taking the matching gate. A Reader enters a read epoch for
// the duration of a traversal so that order slots it may still be
// looking at are not recycled underneath it.
//
// A snapshot taken while a matching pass runs is best effort: it can
// miss orders being unlinked or report quantities mid-update.
package snapshot
