package session

import (
	"encoding/binary"
	"sync"

	"github.com/google/uuid"

	"github.com/backkem/trustlink/pkg/crypto"
)

const (
	// KeySize is the size of each channel key.
	KeySize = crypto.SymmetricKeySize

	sessionKeysInfo = "trustlink/session-keys/v1"
)

// Keys holds the eight channel keys of one session plus the local send
// counters and receive replay filter.
//
// Seal and Open may be called concurrently. Destroy zeroizes every key and
// waits for in-flight operations to finish first.
type Keys struct {
	role   Role
	replay *ReplayFilter

	mu        sync.RWMutex
	keys      [2][numChannels][]byte
	sent      [numChannels]SendCounter
	destroyed bool
}

// DeriveKeys runs one KDF over session_binding ‖ ticket_id ‖ shared and
// splits the output into [HostToController, ControllerToHost] ×
// [Control, Frames, Clipboard, Files]. A nil replay filter gets a fresh one
// with DefaultWindowSize.
func DeriveKeys(binding [32]byte, ticketID uuid.UUID, shared [32]byte, role Role, replay *ReplayFilter) (*Keys, error) {
	ikm := make([]byte, 0, len(binding)+len(ticketID)+len(shared))
	ikm = append(ikm, binding[:]...)
	ikm = append(ikm, ticketID[:]...)
	ikm = append(ikm, shared[:]...)
	defer crypto.Wipe(ikm)

	okm, err := crypto.HKDFSHA256(ikm, nil, []byte(sessionKeysInfo), 2*numChannels*KeySize)
	if err != nil {
		return nil, err
	}
	defer crypto.Wipe(okm)

	if replay == nil {
		replay = NewReplayFilter(0)
	}
	k := &Keys{role: role, replay: replay}
	for d := 0; d < 2; d++ {
		for c := 0; c < numChannels; c++ {
			off := (d*numChannels + c) * KeySize
			k.keys[d][c] = append([]byte(nil), okm[off:off+KeySize]...)
		}
	}
	return k, nil
}

// Role returns the local role.
func (k *Keys) Role() Role {
	return k.role
}

// Replay returns the receive-side replay filter.
func (k *Keys) Replay() *ReplayFilter {
	return k.replay
}

// channelAAD is stream_id ‖ seq ‖ aad.
func channelAAD(stream uint32, seq uint64, aad []byte) []byte {
	out := make([]byte, 12, 12+len(aad))
	binary.BigEndian.PutUint32(out[0:4], stream)
	binary.BigEndian.PutUint64(out[4:12], seq)
	return append(out, aad...)
}

// Seal encrypts plaintext on ch with an explicit sequence number, which
// must exceed every sequence number already used on ch.
func (k *Keys) Seal(ch Channel, seq uint64, plaintext, aad []byte) ([]byte, error) {
	if !ch.IsValid() {
		return nil, ErrInvalidChannel
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.destroyed {
		return nil, ErrKeysDestroyed
	}
	if err := k.sent[ch].Advance(seq); err != nil {
		return nil, err
	}
	return k.seal(ch, seq, plaintext, aad)
}

// SealNext encrypts plaintext on ch with the next sequence number and
// returns that number.
func (k *Keys) SealNext(ch Channel, plaintext, aad []byte) (uint64, []byte, error) {
	if !ch.IsValid() {
		return 0, nil, ErrInvalidChannel
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.destroyed {
		return 0, nil, ErrKeysDestroyed
	}
	seq, err := k.sent[ch].Next()
	if err != nil {
		return 0, nil, err
	}
	ct, err := k.seal(ch, seq, plaintext, aad)
	return seq, ct, err
}

// seal must be called with mu read-held.
func (k *Keys) seal(ch Channel, seq uint64, plaintext, aad []byte) ([]byte, error) {
	d := k.role.Send()
	stream := StreamID(d, ch)
	return crypto.SealAEAD(k.keys[d][ch], crypto.StreamNonce(stream, seq), plaintext, channelAAD(stream, seq, aad))
}

// Open decrypts a message received on ch. The sequence number is checked
// against the replay filter before decryption and marked only after the
// ciphertext authenticates, so forgeries cannot burn window slots.
func (k *Keys) Open(ch Channel, seq uint64, ciphertext, aad []byte) ([]byte, error) {
	if !ch.IsValid() {
		return nil, ErrInvalidChannel
	}
	k.mu.RLock()
	defer k.mu.RUnlock()
	if k.destroyed {
		return nil, ErrKeysDestroyed
	}

	d := k.role.Recv()
	stream := StreamID(d, ch)
	if err := k.replay.Check(stream, seq); err != nil {
		return nil, err
	}
	pt, err := crypto.OpenAEAD(k.keys[d][ch], crypto.StreamNonce(stream, seq), ciphertext, channelAAD(stream, seq, aad))
	if err != nil {
		return nil, ErrDecrypt
	}
	if err := k.replay.CheckAndUpdate(stream, seq); err != nil {
		crypto.Wipe(pt)
		return nil, err
	}
	return pt, nil
}

// EncryptControl seals a control-channel message at seq.
func (k *Keys) EncryptControl(seq uint64, plaintext []byte) ([]byte, error) {
	return k.Seal(ChannelControl, seq, plaintext, nil)
}

// DecryptControl opens a control-channel message at seq.
func (k *Keys) DecryptControl(seq uint64, ciphertext []byte) ([]byte, error) {
	return k.Open(ChannelControl, seq, ciphertext, nil)
}

// LastSent returns the last sequence number used on ch.
func (k *Keys) LastSent(ch Channel) uint64 {
	if !ch.IsValid() {
		return 0
	}
	return k.sent[ch].Last()
}

// Destroy zeroizes all keys. It is idempotent.
func (k *Keys) Destroy() {
	if k == nil {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.destroyed {
		return
	}
	for d := range k.keys {
		for c := range k.keys[d] {
			crypto.Wipe(k.keys[d][c])
			k.keys[d][c] = nil
		}
	}
	k.destroyed = true
}

// Destroyed reports whether Destroy has run.
func (k *Keys) Destroyed() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.destroyed
}
