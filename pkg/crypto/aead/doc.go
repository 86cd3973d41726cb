// Package aead provides authenticated encryption for values at rest.
//
// Every Seal call draws a fresh random nonce and prepends it to the
// ciphertext, so the nonce always travels with the data it protects.
// Open fails with ErrAuthentication on any tampering, wrong key, or a
// mismatched nonce. A passthrough codec serves deployments with
// encryption disabled.
package aead
