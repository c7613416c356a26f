package feed

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PegVault/internal/observability"
)

// QuoteApplier is the engine-side sink for parsed quotes. Returns true when
// the quote was accepted.
type QuoteApplier interface {
	ApplyPriceUpdate(price int64, sequence uint64) bool
}

// PriceSubscriber consumes feed quotes from JetStream and applies them to
// the engine. Malformed messages are terminated, never redelivered.
type PriceSubscriber struct {
	js       jetstream.JetStream
	applier  QuoteApplier
	metrics  *observability.Metrics
	log      zerolog.Logger
	consumer jetstream.ConsumeContext
}

func NewPriceSubscriber(js jetstream.JetStream, applier QuoteApplier, metrics *observability.Metrics) *PriceSubscriber {
	return &PriceSubscriber{
		js:      js,
		applier: applier,
		metrics: metrics,
		log:     observability.NewLogger("feed"),
	}
}

// Subscribe creates the durable consumer and starts delivery. Explicit ACK,
// max_deliver=5, ack_wait=30s.
func (s *PriceSubscriber) Subscribe(ctx context.Context) error {
	consumer, err := s.js.CreateOrUpdateConsumer(ctx, PriceStream, jetstream.ConsumerConfig{
		Durable:       "pegvault-prices",
		FilterSubject: PriceSubject,
		AckPolicy:     jetstream.AckExplicitPolicy,
		AckWait:       30 * time.Second,
		MaxDeliver:    5,
		DeliverPolicy: jetstream.DeliverAllPolicy,
	})
	if err != nil {
		return fmt.Errorf("create price consumer: %w", err)
	}

	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		s.handle(msg)
	})
	if err != nil {
		return fmt.Errorf("consume prices: %w", err)
	}

	s.consumer = cc
	s.log.Info().Str("subject", PriceSubject).Msg("subscribed to price feed")
	return nil
}

func (s *PriceSubscriber) handle(msg jetstream.Msg) {
	quote, err := ParseQuote(msg.Data())
	if err != nil {
		s.log.Warn().Err(err).Msg("malformed quote, terminating message")
		if s.metrics != nil {
			s.metrics.PriceUpdatesDropped.WithLabelValues("malformed").Inc()
		}
		msg.Term()
		return
	}

	// Accepted or dropped, the quote is consumed either way. Drops are
	// counted by the engine.
	s.applier.ApplyPriceUpdate(quote.Price, quote.Sequence)
	msg.Ack()
}

// Stop halts delivery. Safe to call before Subscribe.
func (s *PriceSubscriber) Stop() {
	if s.consumer != nil {
		s.consumer.Stop()
	}
	s.log.Info().Msg("price subscriber stopped")
}
