package session

import (
	"bytes"
	"testing"

	"github.com/google/uuid"
)

func testKeyPair(t *testing.T) (host, controller *Keys) {
	t.Helper()
	var binding, shared [32]byte
	for i := range binding {
		binding[i] = byte(i)
		shared[i] = byte(0xA0 + i)
	}
	id := uuid.MustParse("6f1c0e0a-2b7d-4a53-9d54-0c2f3c6a9b11")

	host, err := DeriveKeys(binding, id, shared, RoleHost, nil)
	if err != nil {
		t.Fatalf("DeriveKeys(host) error = %v", err)
	}
	controller, err = DeriveKeys(binding, id, shared, RoleController, nil)
	if err != nil {
		t.Fatalf("DeriveKeys(controller) error = %v", err)
	}
	return host, controller
}

func TestDeriveKeys_DistinctPerDirectionAndChannel(t *testing.T) {
	host, _ := testKeyPair(t)

	seen := make(map[string]bool)
	for d := range host.keys {
		for c := range host.keys[d] {
			k := host.keys[d][c]
			if len(k) != KeySize {
				t.Fatalf("key[%d][%d] len = %d, want %d", d, c, len(k), KeySize)
			}
			if seen[string(k)] {
				t.Errorf("key[%d][%d] repeats another key", d, c)
			}
			seen[string(k)] = true
		}
	}
	if len(seen) != 8 {
		t.Errorf("distinct keys = %d, want 8", len(seen))
	}
}

func TestKeys_ControlRoundTrip(t *testing.T) {
	host, controller := testKeyPair(t)
	msg := []byte("pointer move 10,20")

	ct, err := controller.EncryptControl(1, msg)
	if err != nil {
		t.Fatalf("EncryptControl() error = %v", err)
	}
	pt, err := host.DecryptControl(1, ct)
	if err != nil {
		t.Fatalf("DecryptControl() error = %v", err)
	}
	if !bytes.Equal(pt, msg) {
		t.Errorf("DecryptControl() = %q, want %q", pt, msg)
	}

	// Same ciphertext again is a replay.
	if _, err := host.DecryptControl(1, ct); err != ErrReplay {
		t.Errorf("replayed DecryptControl() error = %v, want %v", err, ErrReplay)
	}
}

func TestKeys_SequenceBoundIntoAAD(t *testing.T) {
	host, controller := testKeyPair(t)

	ct, err := controller.EncryptControl(5, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := host.DecryptControl(6, ct); err != ErrDecrypt {
		t.Errorf("DecryptControl at wrong seq error = %v, want %v", err, ErrDecrypt)
	}
	// The failed attempt must not have burned seq 6 or 5.
	if _, err := host.DecryptControl(5, ct); err != nil {
		t.Errorf("DecryptControl at right seq error = %v", err)
	}
}

func TestKeys_DirectionsDoNotMix(t *testing.T) {
	host, _ := testKeyPair(t)

	ct, err := host.EncryptControl(1, []byte("x"))
	if err != nil {
		t.Fatal(err)
	}
	// A host cannot open its own outgoing traffic.
	if _, err := host.DecryptControl(1, ct); err != ErrDecrypt {
		t.Errorf("DecryptControl(own) error = %v, want %v", err, ErrDecrypt)
	}
}

func TestKeys_SendMonotonic(t *testing.T) {
	_, controller := testKeyPair(t)

	if _, err := controller.EncryptControl(2, []byte("a")); err != nil {
		t.Fatal(err)
	}
	if _, err := controller.EncryptControl(2, []byte("b")); err != ErrSequenceNotMonotonic {
		t.Errorf("reused seq error = %v, want %v", err, ErrSequenceNotMonotonic)
	}
	if _, err := controller.EncryptControl(1, []byte("c")); err != ErrSequenceNotMonotonic {
		t.Errorf("lower seq error = %v, want %v", err, ErrSequenceNotMonotonic)
	}
	seq, _, err := controller.SealNext(ChannelControl, []byte("d"), nil)
	if err != nil || seq != 3 {
		t.Errorf("SealNext() = %d, %v; want 3", seq, err)
	}
	if controller.LastSent(ChannelControl) != 3 {
		t.Errorf("LastSent() = %d, want 3", controller.LastSent(ChannelControl))
	}
}

func TestKeys_ChannelsIndependent(t *testing.T) {
	host, controller := testKeyPair(t)

	seq, ct, err := host.SealNext(ChannelFrames, []byte("frame"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := controller.Open(ChannelClipboard, seq, ct, nil); err != ErrDecrypt {
		t.Errorf("Open on wrong channel error = %v, want %v", err, ErrDecrypt)
	}
	if _, err := controller.Open(ChannelFrames, seq, ct, nil); err != nil {
		t.Errorf("Open on right channel error = %v", err)
	}
	if _, err := controller.Open(Channel(9), seq, ct, nil); err != ErrInvalidChannel {
		t.Errorf("Open on invalid channel error = %v, want %v", err, ErrInvalidChannel)
	}
}

func TestKeys_Destroy(t *testing.T) {
	host, _ := testKeyPair(t)
	k := host.keys[0][0]

	host.Destroy()
	host.Destroy()

	if !host.Destroyed() {
		t.Error("Destroyed() = false after Destroy")
	}
	if !bytes.Equal(k, make([]byte, KeySize)) {
		t.Error("key bytes not zeroized")
	}
	if _, err := host.EncryptControl(1, nil); err != ErrKeysDestroyed {
		t.Errorf("EncryptControl after Destroy error = %v, want %v", err, ErrKeysDestroyed)
	}

	var nilKeys *Keys
	nilKeys.Destroy()
}

func TestControlMsg_SealOpen(t *testing.T) {
	host, controller := testKeyPair(t)
	sid := uuid.New()

	m, err := SealMessage(controller, sid, ChannelClipboard, []byte("copied"))
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := UnmarshalControlMsg(m.Marshal())
	if err != nil {
		t.Fatalf("UnmarshalControlMsg() error = %v", err)
	}
	pt, err := OpenMessage(host, sid, decoded)
	if err != nil {
		t.Fatalf("OpenMessage() error = %v", err)
	}
	if string(pt) != "copied" {
		t.Errorf("OpenMessage() = %q", pt)
	}

	if _, err := OpenMessage(host, uuid.New(), decoded); err != ErrSessionMismatch {
		t.Errorf("OpenMessage(other session) error = %v, want %v", err, ErrSessionMismatch)
	}
}
