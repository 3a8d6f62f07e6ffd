package ingestion

import (
	"ExchangeLedger/internal/core"
	"ExchangeLedger/internal/ledger"
	"ExchangeLedger/internal/observability"
	"ExchangeLedger/internal/signing"
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"
)

// Processor authenticates ingest messages and applies them to the core one
// at a time, in arrival order.
type Processor struct {
	ex       *core.Exchange
	verifier *signing.RequestVerifier
	rawChan  <-chan RawEvent
	metrics  *observability.Metrics
	logger   zerolog.Logger
}

func NewProcessor(
	ex *core.Exchange,
	verifier *signing.RequestVerifier,
	rawChan <-chan RawEvent,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Processor {
	return &Processor{
		ex:       ex,
		verifier: verifier,
		rawChan:  rawChan,
		metrics:  metrics,
		logger:   logger,
	}
}

// Run processes messages until ctx is done or rawChan is closed.
func (p *Processor) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case raw, ok := <-p.rawChan:
			if !ok {
				return nil
			}
			p.Handle(ctx, raw)
		}
	}
}

// Handle processes one message and settles it with the broker:
// applied or deterministically rejected messages are acked, malformed or
// unauthenticated ones terminated, transient failures nacked.
func (p *Processor) Handle(ctx context.Context, raw RawEvent) {
	log := p.logger.With().Str("subject", raw.Subject).Str("command", raw.Command).Logger()

	cmd, err := ParseRawEvent(raw)
	if err != nil {
		log.Warn().Err(err).Msg("malformed message")
		p.settle(raw, "malformed", raw.TermFunc)
		return
	}

	caller, err := p.verifier.Verify(cmd.Method(), raw.Data, raw.Header)
	if err != nil {
		log.Warn().Err(err).Msg("unauthenticated message")
		p.settle(raw, "unauthenticated", raw.TermFunc)
		return
	}

	err = p.apply(ctx, caller, cmd)
	switch {
	case err == nil:
		p.settle(raw, "applied", raw.AckFunc)
	case ledger.IsRejection(err):
		log.Info().Err(err).Str("caller", caller.Hex()).Str("reason", ledger.Reason(err)).Msg("command rejected")
		p.settle(raw, "rejected", raw.AckFunc)
	default:
		log.Warn().Err(err).Str("caller", caller.Hex()).Msg("command failed, will be redelivered")
		p.settle(raw, "retry", raw.NakFunc)
	}
}

func (p *Processor) apply(ctx context.Context, caller common.Address, cmd Command) error {
	switch c := cmd.(type) {
	case DepositCommand:
		res, err := p.ex.SubmitDeposit(ctx, c.RequestID, caller, c.Asset, c.Amount)
		if err == nil && res.Duplicate {
			p.logger.Info().Str("request_id", c.RequestID.String()).Msg("duplicate deposit acknowledged")
		}
		return err
	case WithdrawCommand:
		res, err := p.ex.SubmitWithdraw(ctx, c.RequestID, caller, c.Asset, c.Amount)
		if err == nil && res.Duplicate {
			p.logger.Info().Str("request_id", c.RequestID.String()).Msg("duplicate withdrawal acknowledged")
		}
		return err
	case BatchCommand:
		res, err := p.ex.SubmitTransactions(ctx, caller, c.BatchID, c.Transactions)
		if err == nil && res.Duplicate {
			p.logger.Info().Str("batch_id", res.BatchID.String()).Msg("duplicate batch acknowledged")
		}
		return err
	}
	return nil
}

func (p *Processor) settle(raw RawEvent, outcome string, fn func()) {
	if fn != nil {
		fn()
	}
	if p.metrics != nil {
		p.metrics.IngestMessages.WithLabelValues(raw.Command, outcome).Inc()
	}
}
