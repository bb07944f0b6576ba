// Package hash provides the SHA-256 helpers used for photo checksums and
// request idempotency keys.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
)

// IDLength is the number of hex characters used for truncated hash IDs.
const IDLength = 16

// Checksum returns the full hex SHA-256 of data.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// TruncatedSHA256 returns the first IDLength hex characters of the SHA-256
// of s.
func TruncatedSHA256(s string) string {
	return Checksum([]byte(s))[:IDLength]
}

// IdempotencyKey identifies one queue item across retries. Queue ids are
// only unique per device, so the device id is folded in when known.
func IdempotencyKey(deviceID string, queueID uint64) string {
	id := strconv.FormatUint(queueID, 10)
	if deviceID == "" {
		return "fieldsync-" + id
	}
	return "fieldsync-" + TruncatedSHA256(deviceID+":"+id)
}
