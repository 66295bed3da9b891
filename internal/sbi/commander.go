package sbi

import (
	"context"
	"sync"

	"github.com/signalsfoundry/nan-scheduler/internal/logging"
)

// Commander delivers commands to the firmware. Transport retries and
// timeouts belong to the implementation.
type Commander interface {
	Send(ctx context.Context, cmd Command) error
}

// Recorder is a Commander that keeps every command it receives, marshalled
// and structured. The simulator and the tests use it in place of a radio.
type Recorder struct {
	mu      sync.Mutex
	cmds    []Command
	raw     [][]byte
	metrics *SBIMetrics
	log     logging.Logger

	// Fail, when set, is consulted before a command is accepted.
	Fail func(Command) error
}

// NewRecorder builds a Recorder that counts into metrics (may be nil).
func NewRecorder(metrics *SBIMetrics, log logging.Logger) *Recorder {
	if log == nil {
		log = logging.Noop()
	}
	return &Recorder{metrics: metrics, log: log}
}

func (r *Recorder) Send(ctx context.Context, cmd Command) error {
	if r.Fail != nil {
		if err := r.Fail(cmd); err != nil {
			if r.metrics != nil {
				r.metrics.IncFailed(cmd.Type())
			}
			r.log.Warn(ctx, "firmware command rejected",
				logging.String("command", cmd.Type().String()),
				logging.Any("error", err),
			)
			return err
		}
	}
	raw, err := cmd.MarshalBinary()
	if err != nil {
		if r.metrics != nil {
			r.metrics.IncFailed(cmd.Type())
		}
		return err
	}
	r.mu.Lock()
	r.cmds = append(r.cmds, cmd)
	r.raw = append(r.raw, raw)
	r.mu.Unlock()
	if r.metrics != nil {
		r.metrics.IncSent(cmd.Type())
	}
	r.log.Debug(ctx, "firmware command",
		logging.String("command", cmd.Type().String()),
		logging.Int("bytes", len(raw)),
	)
	return nil
}

// Commands returns the recorded commands in order.
func (r *Recorder) Commands() []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Command(nil), r.cmds...)
}

// Raw returns the marshalled form of every recorded command.
func (r *Recorder) Raw() [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][]byte(nil), r.raw...)
}

// OfType returns the recorded commands of one type.
func (r *Recorder) OfType(t CommandType) []Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Command
	for _, c := range r.cmds {
		if c.Type() == t {
			out = append(out, c)
		}
	}
	return out
}

// Reset forgets everything recorded so far.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cmds = nil
	r.raw = nil
}
