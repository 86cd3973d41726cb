// Package buildinfo exposes version information set at build time.
package buildinfo
