package crypto

import "encoding/binary"

// StreamNonce constructs the 12-byte AEAD nonce for a channel message.
//
// Format: StreamID (4 bytes BE) || Counter (8 bytes BE)
//
// A (key, stream, counter) triple must never repeat; callers enforce that
// by keeping per-stream counters strictly increasing.
func StreamNonce(streamID uint32, counter uint64) []byte {
	nonce := make([]byte, AEADNonceSize)
	binary.BigEndian.PutUint32(nonce[0:4], streamID)
	binary.BigEndian.PutUint64(nonce[4:12], counter)
	return nonce
}
