package transport

import (
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/pion/transport/v3/test"
)

// MaxDatagramSize bounds a single datagram on a Link.
const MaxDatagramSize = 64 * 1024

// Link moves whole datagrams between two peers. The negotiated transport
// (mesh, QUIC, relay) provides one in production; Pipe provides one for tests.
type Link interface {
	// Send writes one datagram.
	Send(b []byte) error

	// Recv blocks until a datagram arrives and returns it.
	Recv() ([]byte, error)

	// Close releases the link. Pending Recv calls return an error.
	Close() error
}

// NetworkCondition configures network behavior simulation.
type NetworkCondition struct {
	// DropRate is the probability of dropping a datagram (0.0 - 1.0).
	DropRate float64

	// DelayMin is the minimum delay to add to each datagram.
	DelayMin time.Duration

	// DelayMax is the maximum delay to add to each datagram.
	// Actual delay is uniformly distributed between DelayMin and DelayMax.
	DelayMax time.Duration

	// DuplicateRate is the probability of sending a datagram twice (0.0 - 1.0).
	DuplicateRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic delivery in a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers datagrams.
	// Default: 1ms
	ProcessInterval time.Duration

	// Seed for the condition RNG. Zero uses the current time.
	Seed int64
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe provides bidirectional in-memory datagram delivery between two
// endpoints. It wraps pion's test.Bridge and adds network condition
// simulation.
//
// By default, Pipe delivers in a background goroutine. Use
// SetAutoProcess(false) and Tick/Process for deterministic orderings.
type Pipe struct {
	bridge *test.Bridge
	links  [2]*PipeLink

	mu              sync.RWMutex
	condition       NetworkCondition
	closed          bool
	rng             *rand.Rand
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewPipe creates a new bidirectional pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a new pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p := &Pipe{
		bridge:          test.NewBridge(),
		rng:             rand.New(rand.NewSource(seed)),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}
	if p.processInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}

	p.links[0] = &PipeLink{conn: p.bridge.GetConn0(), pipe: p}
	p.links[1] = &PipeLink{conn: p.bridge.GetConn1(), pipe: p}

	if p.autoProcess {
		p.startAutoProcess()
	}
	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// SetAutoProcess enables or disables automatic delivery.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.autoProcess == enabled {
		return
	}
	p.autoProcess = enabled

	if enabled {
		p.stopCh = make(chan struct{})
		p.startAutoProcess()
	} else {
		close(p.stopCh)
		p.wg.Wait()
	}
}

// AutoProcess returns whether auto-processing is enabled.
func (p *Pipe) AutoProcess() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoProcess
}

// SetCondition configures network condition simulation for both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Condition returns the current network condition configuration.
func (p *Pipe) Condition() NetworkCondition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.condition
}

// Link returns endpoint 0 or 1.
func (p *Pipe) Link(id int) *PipeLink {
	if id < 0 || id > 1 {
		return nil
	}
	return p.links[id]
}

// Links returns both endpoints.
func (p *Pipe) Links() (*PipeLink, *PipeLink) {
	return p.links[0], p.links[1]
}

// Tick delivers one datagram in each direction (if available).
// Returns the number delivered (0, 1, or 2).
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued datagrams and returns how many.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			break
		}
		count += n
	}
	return count
}

// Close closes both endpoints and stops auto-processing. Pending Recv
// calls return an error and undelivered datagrams are dropped.
func (p *Pipe) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.links[0].conn.Close()
	err1 := p.links[1].conn.Close()

	// The bridge closes a conn's read side on a tick once nothing is queued
	// for it, so undelivered datagrams are discarded first.
	p.bridge.Drop(0, 0, p.bridge.Len(0))
	p.bridge.Drop(1, 0, p.bridge.Len(1))
	p.bridge.Tick()

	if err0 != nil {
		return err0
	}
	return err1
}

// sample decides the fate of one datagram under the current condition.
func (p *Pipe) sample() (drop, dup bool, delay time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()

	cond := p.condition
	if cond.DropRate > 0 && p.rng.Float64() < cond.DropRate {
		return true, false, 0
	}
	if cond.DelayMax > 0 {
		delay = cond.DelayMin
		if cond.DelayMax > cond.DelayMin {
			delay += time.Duration(p.rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
		}
	}
	dup = cond.DuplicateRate > 0 && p.rng.Float64() < cond.DuplicateRate
	return false, dup, delay
}

// PipeLink is one endpoint of a Pipe.
type PipeLink struct {
	conn net.Conn
	pipe *Pipe
}

// Send writes one datagram, applying the pipe's network condition.
func (l *PipeLink) Send(b []byte) error {
	if len(b) > MaxDatagramSize {
		return ErrDatagramTooLarge
	}
	drop, dup, delay := l.pipe.sample()
	if drop {
		return nil
	}
	if delay > 0 {
		time.Sleep(delay)
	}
	if dup {
		if _, err := l.conn.Write(b); err != nil {
			return err
		}
	}
	_, err := l.conn.Write(b)
	return err
}

// Recv blocks until a datagram arrives.
func (l *PipeLink) Recv() ([]byte, error) {
	buf := make([]byte, MaxDatagramSize)
	n, err := l.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// Close closes this endpoint.
func (l *PipeLink) Close() error {
	return l.conn.Close()
}

var _ Link = (*PipeLink)(nil)
