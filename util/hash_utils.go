package util

import (
	"github.com/OneOfOne/xxhash"
)

// HashCode hashes an arbitrary byte key with 64-bit xxhash.
func HashCode(key []byte) uint64 {
	h := xxhash.New64()
	h.Write(key)
	return h.Sum64()
}

// ChecksumBlock computes a content checksum for a block payload. The
// external block manager logs this on writeback and read so a corrupted
// backing file surfaces as a checksum mismatch in the logs instead of a
// silent content change.
func ChecksumBlock(content []byte) uint64 {
	return xxhash.Checksum64(content)
}
