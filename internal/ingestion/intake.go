package ingestion

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"LyraeLedger/internal/core"
	"LyraeLedger/internal/intent"
	"LyraeLedger/internal/observability"
	"LyraeLedger/internal/state"
)

// Submitter applies a decoded intent. *core.Engine implements it.
type Submitter interface {
	Submit(intent.Intent) (core.Result, error)
}

// Intake decodes raw intents and submits them in arrival order.
type Intake struct {
	engine  Submitter
	input   <-chan RawIntent
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewIntake(engine Submitter, input <-chan RawIntent, metrics *observability.Metrics, log zerolog.Logger) *Intake {
	return &Intake{engine: engine, input: input, metrics: metrics, log: log}
}

// Run processes intents until ctx is done or input is closed.
func (in *Intake) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-in.input:
			if !ok {
				return nil
			}
			in.Handle(raw)
		}
	}
}

// Handle settles one delivery. Malformed messages are terminated. A
// rejection against a stale cache is redelivered, since a later crank can
// make it succeed; any other outcome, duplicates included, is acked.
func (in *Intake) Handle(raw RawIntent) {
	typ, err := TypeFromSubject(raw.Subject)
	var it intent.Intent
	if err == nil {
		it, err = ParseIntent(typ, raw.Data)
	}
	if err != nil {
		in.metrics.NATSMessages.WithLabelValues(raw.Subject, "malformed").Inc()
		in.log.Warn().Err(err).Str("subject", raw.Subject).Msg("dropping malformed intent")
		settle(raw.TermFunc)
		return
	}

	_, err = in.engine.Submit(it)
	switch {
	case err == nil:
		in.metrics.NATSMessages.WithLabelValues(raw.Subject, "applied").Inc()
		in.metrics.IngestToApply.WithLabelValues(string(typ)).Observe(time.Since(raw.Received).Seconds())
		settle(raw.AckFunc)
	case errors.Is(err, core.ErrDuplicate):
		in.metrics.NATSMessages.WithLabelValues(raw.Subject, "duplicate").Inc()
		settle(raw.AckFunc)
	case errors.Is(err, state.ErrStaleCache):
		in.metrics.NATSMessages.WithLabelValues(raw.Subject, "retry").Inc()
		settle(raw.NakFunc)
	default:
		in.metrics.NATSMessages.WithLabelValues(raw.Subject, "rejected").Inc()
		settle(raw.AckFunc)
	}
}

func settle(f func()) {
	if f != nil {
		f()
	}
}
