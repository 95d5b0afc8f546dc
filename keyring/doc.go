// Package keyring manages a member's signing key material. A KeyRing
// generates Ed25519 key pairs tagged with a privilege level and hands out
// Signer capabilities; private halves never leave the ring boundary.
//
// Key material lives in a KeyStore. The in-memory store is the default; the
// file store persists entries in an argon2id + XChaCha20-Poly1305 envelope
// for devices that must survive process restarts.
package keyring
