// Package recovery drives the multi-step account recovery protocol. A
// coordinator runs one in-flight recovery: begin with an alias, prove
// control either through an out-of-band code or a trusted agent's signed
// authorization, then complete by replacing the member's keys with a fresh
// ring.
//
// Recovery never requires the old private keys. Both proof channels bind to
// the member's hash at authorization time, so a stale or intercepted
// authorization cannot be replayed after the member's state moves on.
package recovery
