// Package protocol owns the layer codec contract.
//
// Ownership boundary:
// - Codec interface and the consumed-count convention
// - shared codec errors
// - concrete codecs live in subpackages (checksum, headerfooter, slip)
package protocol
