// Package artifact describes files written into the mirror: their path,
// size and SHA-256 checksum computed while the bytes are copied.
package artifact
