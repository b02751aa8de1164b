package wire

import "hash/crc32"

// castagnoliTable is the CRC32C (Castagnoli, polynomial 0x1EDC6F41) table
// used to validate frame payload integrity. hash/crc32 selects a
// hardware-accelerated implementation for this polynomial on amd64/arm64,
// which is why the checksum stays on the standard library instead of a
// third-party crc32c package: nothing in the retrieved corpus ships one,
// and the standard library's is already the fast path.
var castagnoliTable = crc32.MakeTable(crc32.Castagnoli)

// ChecksumPayload computes the CRC32C of a frame's payload bytes only (the
// FrameHeader itself is excluded, per the wire contract).
func ChecksumPayload(payload []byte) uint32 {
	return crc32.Checksum(payload, castagnoliTable)
}
