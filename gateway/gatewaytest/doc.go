// Package gatewaytest provides an in-memory authoritative gateway for
// tests: a Backend implementing interfaces.Gateway with real signature
// verification and hash-chain advancement, and an HTTP handler exposing it
// over the same wire protocol the production client speaks.
//
// The backend holds a platform member with its own key ring, so
// verification-code recovery and hosted-flow callback signing behave like
// the real service. Helpers expose the pieces a test needs to play the
// out-of-band parts of the protocols (verification codes, callback URLs).
package gatewaytest
