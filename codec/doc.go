// Package codec provides deterministic serialization of protocol payloads
// for signing and verification. Canonicalization fixes object key order,
// number formatting, and optional-field omission, so semantically identical
// payloads always produce identical bytes regardless of which process built
// them.
//
// The codec isolates cryptographic agility from protocol logic: today
// signatures are Ed25519, and substituting another asymmetric scheme touches
// only this package and the keyring.
package codec
