package ingestion

import (
	"context"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog"
)

// NATSSubscriber subscribes to JetStream subjects and feeds signed commands
// to the Processor through rawChan.
type NATSSubscriber struct {
	js        jetstream.JetStream
	rawChan   chan<- RawEvent
	consumers []jetstream.ConsumeContext
	logger    zerolog.Logger
}

// RawEvent is a received message, not yet parsed or authenticated.
type RawEvent struct {
	Subject   string
	Command   string
	Data      []byte
	Header    func(key string) string
	Timestamp time.Time
	AckFunc   func() // processed, or rejected for good
	NakFunc   func() // transient failure, redeliver
	TermFunc  func() // malformed or unauthenticated, never redeliver
}

// SubjectConfig maps a subject filter to the command its messages carry.
type SubjectConfig struct {
	Subject      string
	Command      string
	ConsumerName string
	StreamName   string
}

const (
	StreamCommands = "EXCHANGE_COMMANDS"
	StreamEvents   = "EXCHANGE_LEDGER_EVENTS"
)

// DefaultSubjects returns the command subjects, one consumer each.
func DefaultSubjects() []SubjectConfig {
	return []SubjectConfig{
		{Subject: "exchange.deposits.>", Command: MethodDeposit, ConsumerName: "ledger-deposits", StreamName: StreamCommands},
		{Subject: "exchange.withdrawals.>", Command: MethodWithdraw, ConsumerName: "ledger-withdrawals", StreamName: StreamCommands},
		{Subject: "exchange.batches.>", Command: MethodSubmitTransactions, ConsumerName: "ledger-batches", StreamName: StreamCommands},
	}
}

func NewNATSSubscriber(js jetstream.JetStream, rawChan chan<- RawEvent, logger zerolog.Logger) *NATSSubscriber {
	return &NATSSubscriber{
		js:      js,
		rawChan: rawChan,
		logger:  logger,
	}
}

// Subscribe creates JetStream consumers for all configured subjects.
// Consumers use explicit ACK, max_deliver=5, ack_wait=30s.
func (ns *NATSSubscriber) Subscribe(ctx context.Context, subjects []SubjectConfig) error {
	for _, cfg := range subjects {
		consumer, err := ns.js.CreateOrUpdateConsumer(ctx, cfg.StreamName, jetstream.ConsumerConfig{
			Durable:       cfg.ConsumerName,
			FilterSubject: cfg.Subject,
			AckPolicy:     jetstream.AckExplicitPolicy,
			AckWait:       30 * time.Second,
			MaxDeliver:    5,
			DeliverPolicy: jetstream.DeliverAllPolicy,
		})
		if err != nil {
			return fmt.Errorf("create consumer %s: %w", cfg.ConsumerName, err)
		}

		command := cfg.Command
		consumerContext, err := consumer.Consume(func(msg jetstream.Msg) {
			header := msg.Headers()
			raw := RawEvent{
				Subject:   msg.Subject(),
				Command:   command,
				Data:      msg.Data(),
				Header:    header.Get,
				Timestamp: time.Now(),
				AckFunc:   func() { msg.Ack() },
				NakFunc:   func() { msg.Nak() },
				TermFunc:  func() { msg.Term() },
			}

			select {
			case ns.rawChan <- raw:
			case <-ctx.Done():
				msg.Nak()
			}
		})
		if err != nil {
			return fmt.Errorf("consume %s: %w", cfg.ConsumerName, err)
		}

		ns.consumers = append(ns.consumers, consumerContext)
		ns.logger.Info().Str("subject", cfg.Subject).Str("consumer", cfg.ConsumerName).Msg("subscribed")
	}

	return nil
}

// EnsureStreams creates the command and outbound event streams if they
// don't exist. Streams use FileStorage, retention=Limits, max_age=72h.
func EnsureStreams(ctx context.Context, js jetstream.JetStream, logger zerolog.Logger) error {
	streams := []jetstream.StreamConfig{
		{
			Name:       StreamCommands,
			Subjects:   []string{"exchange.deposits.>", "exchange.withdrawals.>", "exchange.batches.>"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 2 * time.Minute,
			Replicas:   1,
		},
		{
			Name:       StreamEvents,
			Subjects:   []string{"exchange.ledger.events.>"},
			Storage:    jetstream.FileStorage,
			Retention:  jetstream.LimitsPolicy,
			MaxAge:     72 * time.Hour,
			Duplicates: 2 * time.Minute,
			Replicas:   1,
		},
	}

	for _, cfg := range streams {
		if _, err := js.CreateOrUpdateStream(ctx, cfg); err != nil {
			return fmt.Errorf("create stream %s: %w", cfg.Name, err)
		}
		logger.Info().Str("stream", cfg.Name).Msg("ensured stream")
	}

	return nil
}

// Stop gracefully stops all consumers.
func (ns *NATSSubscriber) Stop() {
	for _, cc := range ns.consumers {
		cc.Stop()
	}
	ns.logger.Info().Msg("NATS subscribers stopped")
}

// ConnectNATS establishes a NATS connection and returns a JetStream context.
func ConnectNATS(url string, logger zerolog.Logger) (*nats.Conn, jetstream.JetStream, error) {
	nc, err := nats.Connect(url,
		nats.Name("exchangeledger"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			logger.Info().Msg("NATS reconnected")
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
