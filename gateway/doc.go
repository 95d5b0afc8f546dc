// Package gateway provides the HTTP implementation of interfaces.Gateway
// plus a testify mock for unit tests.
//
// Protocol-level rejections are mapped to the typed errors in package
// interfaces (conflict, not-found, verification failure); transport-level
// failures are wrapped in RPCUnavailableError with the cause preserved. The
// client never retries; retry policy belongs to the caller.
package gateway
