// Package member implements the member state snapshot and the mutation
// session, the only writer of that state.
//
// Every mutating call follows the same optimistic-concurrency protocol:
// build intent operations, read the member's current LastHash fresh from the
// gateway, submit a signed update chained to that hash, and merge the
// returned authoritative snapshot. A stale hash fails the compare-and-swap
// with interfaces.ErrConcurrentModification; the session never retries on
// its own because retry safety depends on the operation (adding an alias is
// not idempotent without dedup).
//
// The session does not serialize concurrent mutating calls. Two overlapping
// mutations read the same stale hash and the loser fails the server-side
// check; callers requiring strict ordering must await each mutation before
// issuing the next.
package member
