package ingestion

import (
	"ExchangeLedger/internal/core"
	"ExchangeLedger/internal/observability"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// Publisher is the JetStream subset the outbound publisher needs.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte, opts ...jetstream.PublishOpt) (*jetstream.PubAck, error)
}

// OutboundPublisher publishes committed events to NATS for downstream
// consumers. Events are enqueued only after persistence is confirmed.
// Subjects follow exchange.ledger.events.{event_type}.
type OutboundPublisher struct {
	js      Publisher
	queue   chan core.CoreOutput
	metrics *observability.Metrics
	logger  zerolog.Logger
}

// PublishableEvent is the outbound wire form of a committed event.
type PublishableEvent struct {
	EventID        string          `json:"event_id"`
	Sequence       int64           `json:"sequence"`
	EventType      string          `json:"event_type"`
	IdempotencyKey string          `json:"idempotency_key"`
	Account        *string         `json:"account,omitempty"`
	Payload        json.RawMessage `json:"payload"`
	StateHash      string          `json:"state_hash"`
	PrevHash       string          `json:"prev_hash"`
	Timestamp      time.Time       `json:"timestamp"`
}

func NewOutboundPublisher(js Publisher, size int, metrics *observability.Metrics, logger zerolog.Logger) *OutboundPublisher {
	return &OutboundPublisher{
		js:      js,
		queue:   make(chan core.CoreOutput, size),
		metrics: metrics,
		logger:  logger,
	}
}

// Enqueue queues persisted outputs without blocking. Events that do not fit
// are dropped; consumers can read the event log directly.
func (op *OutboundPublisher) Enqueue(_ context.Context, outputs []core.CoreOutput) {
	for _, out := range outputs {
		select {
		case op.queue <- out:
		default:
			if op.metrics != nil {
				op.metrics.PublishDrops.Inc()
			}
		}
	}
	if op.metrics != nil {
		op.metrics.SetChannelMetrics("publish", len(op.queue), cap(op.queue))
	}
}

// Run starts the outbound publisher loop.
func (op *OutboundPublisher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case out := <-op.queue:
			if err := op.publish(ctx, out); err != nil {
				op.logger.Warn().Err(err).Int64("sequence", out.Envelope.Sequence).Msg("outbound publish failed")
			}
		}
	}
}

// Subject returns the outbound subject of an event type.
func Subject(eventType string) string {
	return fmt.Sprintf("exchange.ledger.events.%s", eventType)
}

// ToPublishable converts a committed output to its outbound form.
func ToPublishable(out core.CoreOutput) PublishableEvent {
	env := out.Envelope
	pe := PublishableEvent{
		EventID:        env.EventID.String(),
		Sequence:       env.Sequence,
		EventType:      env.EventType.String(),
		IdempotencyKey: env.IdempotencyKey,
		Payload:        json.RawMessage(env.Payload),
		StateHash:      hexutil.Encode(env.StateHash[:]),
		PrevHash:       hexutil.Encode(env.PrevHash[:]),
		Timestamp:      env.Timestamp,
	}
	if env.Account != nil {
		s := env.Account.Hex()
		pe.Account = &s
	}
	return pe
}

func (op *OutboundPublisher) publish(ctx context.Context, out core.CoreOutput) error {
	pe := ToPublishable(out)
	data, err := json.Marshal(pe)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	// The event id doubles as the JetStream dedup id, so a republish after
	// restart is dropped by the stream.
	_, err = op.js.Publish(ctx, Subject(pe.EventType), data, jetstream.WithMsgID(pe.EventID))
	return err
}
