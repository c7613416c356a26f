package feed

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"

	"PegVault/internal/engine"
	"PegVault/internal/event"
	"PegVault/internal/observability"
)

// Publisher drains the engine's outbound channel and publishes committed
// settlement records to peg.settlements.{event_type}. Publish failures are
// non-fatal; downstream consumers can replay from the record log.
type Publisher struct {
	js      jetstream.JetStream
	input   <-chan engine.Output
	metrics *observability.Metrics
	log     zerolog.Logger
}

// publishedRecord is the outbound wire format. Hashes are hex-encoded.
type publishedRecord struct {
	Sequence  int64           `json:"sequence"`
	EventType string          `json:"event_type"`
	Tick      int64           `json:"tick"`
	Price     int64           `json:"price"`
	Payload   json.RawMessage `json:"payload"`
	StateHash string          `json:"state_hash"`
	PrevHash  string          `json:"prev_hash"`
}

func NewPublisher(js jetstream.JetStream, input <-chan engine.Output, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		js:      js,
		input:   input,
		metrics: metrics,
		log:     observability.NewLogger("publisher"),
	}
}

// Run drains the outbound channel until the context is cancelled or the
// channel closes.
func (p *Publisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out, ok := <-p.input:
			if !ok {
				return nil
			}
			if err := p.publish(ctx, out.Envelope); err != nil {
				p.log.Warn().
					Int64("sequence", out.Envelope.Sequence).
					Err(err).
					Msg("outbound publish failed")
				if p.metrics != nil {
					p.metrics.PublishDrops.Inc()
				}
			}
		}
	}
}

func (p *Publisher) publish(ctx context.Context, env *event.Envelope) error {
	rec := publishedRecord{
		Sequence:  env.Sequence,
		EventType: env.EventType.String(),
		Tick:      env.Tick,
		Price:     env.Price,
		Payload:   json.RawMessage(env.Payload),
		StateHash: hex.EncodeToString(env.StateHash[:]),
		PrevHash:  hex.EncodeToString(env.PrevHash[:]),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	subject := fmt.Sprintf("%s.%s", OutboundPrefix, strings.ToLower(rec.EventType))
	_, err = p.js.Publish(ctx, subject, data)
	return err
}
