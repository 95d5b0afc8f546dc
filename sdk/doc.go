// Package sdk is the top-level entry point: member creation, login, device
// provisioning, alias resolution, recovery, and hosted-flow callback
// verification, all built on the lower-level member, recovery, and
// tokenrequest packages.
//
// Every operation takes a context and returns explicit errors; nothing here
// blocks beyond the context's deadline. Use Await to bound an operation with
// a plain timeout.
package sdk
