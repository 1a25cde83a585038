package transport

import (
	"bytes"
	"testing"
	"time"
)

func recvAsync(l *PipeLink) <-chan []byte {
	ch := make(chan []byte, 4)
	go func() {
		for {
			b, err := l.Recv()
			if err != nil {
				close(ch)
				return
			}
			ch <- b
		}
	}()
	return ch
}

func expectDatagram(t *testing.T, ch <-chan []byte, want []byte) {
	t.Helper()
	select {
	case got, ok := <-ch:
		if !ok {
			t.Fatal("link closed before datagram arrived")
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("got %q, want %q", got, want)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("timeout waiting for %q", want)
	}
}

// TestPipe_AutoProcess verifies that datagrams flow automatically by default.
func TestPipe_AutoProcess(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	if !p.AutoProcess() {
		t.Fatal("AutoProcess should be true by default")
	}

	l0, l1 := p.Links()
	got := recvAsync(l1)

	if err := l0.Send([]byte("auto-delivered")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	expectDatagram(t, got, []byte("auto-delivered"))
}

// TestPipe_ManualProcess verifies delivery waits for Process when
// auto-processing is disabled.
func TestPipe_ManualProcess(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{AutoProcess: false})
	defer p.Close()

	l0, l1 := p.Links()
	got := recvAsync(l1)

	if err := l0.Send([]byte("manual")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}

	select {
	case <-got:
		t.Fatal("datagram delivered without Process()")
	case <-time.After(30 * time.Millisecond):
	}

	p.Process()
	expectDatagram(t, got, []byte("manual"))
}

func TestPipe_Bidirectional(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	l0, l1 := p.Links()
	got0 := recvAsync(l0)
	got1 := recvAsync(l1)

	l0.Send([]byte("from 0"))
	l1.Send([]byte("from 1"))

	expectDatagram(t, got1, []byte("from 0"))
	expectDatagram(t, got0, []byte("from 1"))
}

func TestPipe_PreservesBoundaries(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	l0, l1 := p.Links()
	got := recvAsync(l1)

	msgs := [][]byte{[]byte("a"), []byte("bb"), bytes.Repeat([]byte{7}, 4096)}
	for _, m := range msgs {
		if err := l0.Send(m); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	for _, m := range msgs {
		expectDatagram(t, got, m)
	}
}

func TestPipe_Drop(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{AutoProcess: false, Seed: 1})
	defer p.Close()

	p.SetCondition(NetworkCondition{DropRate: 1.0})
	l0, _ := p.Links()

	for i := 0; i < 5; i++ {
		if err := l0.Send([]byte("lost")); err != nil {
			t.Fatalf("Send() error = %v", err)
		}
	}
	if n := p.Process(); n != 0 {
		t.Errorf("Process() delivered %d datagrams, want 0", n)
	}
}

func TestPipe_Duplicate(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{AutoProcess: true, Seed: 1})
	defer p.Close()

	p.SetCondition(NetworkCondition{DuplicateRate: 1.0})
	l0, l1 := p.Links()
	got := recvAsync(l1)

	l0.Send([]byte("twice"))
	expectDatagram(t, got, []byte("twice"))
	expectDatagram(t, got, []byte("twice"))
}

func TestPipe_TooLarge(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	l0, _ := p.Links()
	if err := l0.Send(make([]byte, MaxDatagramSize+1)); err != ErrDatagramTooLarge {
		t.Errorf("Send() error = %v, want ErrDatagramTooLarge", err)
	}
}

func TestPipe_CloseUnblocksRecv(t *testing.T) {
	p := NewPipe()
	_, l1 := p.Links()
	got := recvAsync(l1)

	p.Close()

	select {
	case _, ok := <-got:
		if ok {
			t.Fatal("unexpected datagram after Close")
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Recv did not return after Close")
	}

	if err := p.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestPipe_CloseDropsUndelivered(t *testing.T) {
	p := NewPipeWithConfig(PipeConfig{AutoProcess: false})
	l0, l1 := p.Links()
	if err := l0.Send([]byte("queued")); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	got := recvAsync(l1)

	if err := p.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	select {
	case b, ok := <-got:
		if ok {
			t.Fatalf("Recv() = %q after Close, want error", b)
		}
	case <-time.After(200 * time.Millisecond):
		t.Fatal("Recv did not return after Close")
	}
}

func TestPipe_LinkIndex(t *testing.T) {
	p := NewPipe()
	defer p.Close()

	if p.Link(0) == nil || p.Link(1) == nil {
		t.Fatal("Link(0/1) should not be nil")
	}
	if p.Link(2) != nil || p.Link(-1) != nil {
		t.Error("Link out of range should be nil")
	}
}
