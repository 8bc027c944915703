package ingestion

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"LyraeLedger/internal/core"
	"LyraeLedger/internal/event"
	"LyraeLedger/internal/observability"
)

// StreamPublisher is the part of jetstream.JetStream the publisher uses.
type StreamPublisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// Publisher publishes committed audit envelopes to NATS for downstream
// consumers. Subjects follow the pattern {audit_subject}.{RecordType}.
// Each message id is the envelope sequence, so a republish after restart is
// dropped by the stream's duplicate window.
type Publisher struct {
	js      StreamPublisher
	subject string
	input   <-chan core.Output
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewPublisher(js StreamPublisher, subject string, input <-chan core.Output, metrics *observability.Metrics, log zerolog.Logger) *Publisher {
	return &Publisher{js: js, subject: subject, input: input, metrics: metrics, log: log}
}

// Run publishes until ctx is done or input is closed. Publish failures are
// logged and counted; consumers can read the audit log from Postgres.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case out, ok := <-p.input:
			if !ok {
				return nil
			}
			p.metrics.ChannelSize.WithLabelValues("publish").Set(float64(len(p.input)))
			for _, env := range out.Envelopes {
				if err := p.publish(ctx, env); err != nil {
					p.metrics.PublishErrors.Inc()
					p.log.Warn().Err(err).Int64("sequence", env.Sequence).Msg("audit publish failed")
					continue
				}
				p.metrics.PublishedTotal.Inc()
			}
		}
	}
}

// Subject returns the subject an envelope is published on.
func (p *Publisher) Subject(env *event.Envelope) string {
	return fmt.Sprintf("%s.%s", p.subject, env.Type)
}

func (p *Publisher) publish(ctx context.Context, env *event.Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}
	_, err = p.js.Publish(ctx, p.Subject(env), data, jetstream.WithMsgID(strconv.FormatInt(env.Sequence, 10)))
	return err
}
