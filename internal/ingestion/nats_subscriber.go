package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber consumes intents from a JetStream stream and feeds them to
// the intake loop. The intent type is the last token of the subject.
type NATSSubscriber struct {
	js       jetstream.JetStream
	cfg      SubscriberConfig
	intentCh chan<- RawIntent
	consumer jetstream.ConsumeContext
	log      zerolog.Logger
}

// RawIntent is an undecoded intent with the callbacks that settle its
// delivery.
type RawIntent struct {
	Subject  string
	Data     []byte
	Received time.Time
	AckFunc  func() // processed, or rejected for good
	NakFunc  func() // redeliver later
	TermFunc func() // malformed; never redeliver
}

type SubscriberConfig struct {
	Stream       string
	Subject      string
	ConsumerName string
}

func NewNATSSubscriber(js jetstream.JetStream, cfg SubscriberConfig, intentCh chan<- RawIntent, log zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{js: js, cfg: cfg, intentCh: intentCh, log: log}
}

// Subscribe creates the durable consumer and starts delivery.
// The consumer uses explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := ns.js.CreateOrUpdateConsumer(ctx, ns.cfg.Stream, jetstream.ConsumerConfig{
		Durable:       ns.cfg.ConsumerName,
		FilterSubject: ns.cfg.Subject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create consumer %s: %w", ns.cfg.ConsumerName, err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		raw := RawIntent{
			Subject:  msg.Subject(),
			Data:     msg.Data(),
			Received: time.Now(),
			AckFunc:  func() { _ = msg.Ack() },
			NakFunc:  func() { _ = msg.Nak() },
			TermFunc: func() { _ = msg.Term() },
		}
		select {
		case ns.intentCh <- raw:
		case <-ctx.Done():
			_ = msg.Nak()
		}
	})
	if err != nil {
		return fmt.Errorf("consume %s: %w", ns.cfg.ConsumerName, err)
	}
	ns.consumer = cc
	ns.log.Info().Str("subject", ns.cfg.Subject).Str("consumer", ns.cfg.ConsumerName).Msg("subscribed")
	return nil
}

// Stop gracefully stops the consumer.
func (ns *NATSSubscriber) Stop() {
	if ns.consumer != nil {
		ns.consumer.Stop()
	}
	ns.log.Info().Msg("NATS subscriber stopped")
}

// StreamConfig names the intent and audit streams.
type StreamConfig struct {
	IntentStream  string
	IntentSubject string
	AuditStream   string
	AuditSubject  string
}

// EnsureStreams creates the intent and audit streams if they don't exist.
// Streams use FileStorage, retention=Limits, max_age=72h. The audit stream
// keeps a two minute duplicate window keyed on the envelope sequence.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, cfg StreamConfig, log zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:      cfg.IntentStream,
			Subjects:  []string{cfg.IntentSubject},
			Storage:   jetstream.FileStorage,
			Retention: jetstream.LimitsPolicy,
			MaxAge:    72 * time.Hour,
			Replicas:  1,
		},
		{
			Name:       cfg.AuditStream,
			Subjects:   []string{cfg.AuditSubject + ".>"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 2 * time.Minute,
			Replicas:   1,
		},
	}
	for _, sc := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream %s: %w", sc.Name, err)
		}
		log.Info().Str("stream", sc.Name).Msg("ensured stream")
	}
	return nil
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, log zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info().Msg("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("jetstream: %w", err)
	}
	return nc, js, nil
}
