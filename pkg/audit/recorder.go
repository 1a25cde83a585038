package audit

import (
	"context"

	"github.com/pion/logging"

	"github.com/backkem/trustlink/pkg/clock"
	"github.com/backkem/trustlink/pkg/identity"
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Device signs every event. Required.
	Device *identity.Identity

	// Sink receives signed events. Required.
	Sink Sink

	// Clock stamps events. Default: clock.Real.
	Clock clock.Clock

	// LoggerFactory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Recorder stamps, signs and emits events. A nil *Recorder discards
// everything, so components can hold one unconditionally.
type Recorder struct {
	device *identity.Identity
	sink   Sink
	clock  clock.Clock
	log    logging.LeveledLogger
}

// NewRecorder creates a recorder.
func NewRecorder(config RecorderConfig) *Recorder {
	r := &Recorder{
		device: config.Device,
		sink:   config.Sink,
		clock:  clock.OrReal(config.Clock),
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("audit")
	}
	return r
}

// Record signs e and hands it to the sink. Failures are logged locally;
// auditing never changes the outcome of the operation being audited.
func (r *Recorder) Record(ctx context.Context, e Event) {
	if r == nil || r.sink == nil || r.device == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = r.clock.Now()
	}
	if err := Sign(&e, r.device); err != nil {
		if r.log != nil {
			r.log.Warnf("audit sign %s: %v", e.Type, err)
		}
		return
	}
	if err := r.sink.Emit(ctx, e); err != nil && r.log != nil {
		r.log.Warnf("audit emit %s: %v", e.Type, err)
	}
}
