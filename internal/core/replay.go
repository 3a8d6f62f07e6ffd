package core

import (
	"ExchangeLedger/internal/event"
	"ExchangeLedger/internal/ledger"
	"ExchangeLedger/internal/state"
	"fmt"
)

// Snapshot captures the committed state, tagged with the last sequence and
// chain tip it reflects.
func (e *Exchange) Snapshot() *state.Snapshot {
	e.stateMu.RLock()
	defer e.stateMu.RUnlock()
	return e.state.Snapshot(e.sequence-1, e.hasher.GetPrevHash())
}

// RestoreFromSnapshot replaces the in-memory state with snap. Used on warm
// restart before replaying the events that follow it.
func (e *Exchange) RestoreFromSnapshot(snap *state.Snapshot) error {
	restored, err := state.Restore(snap)
	if err != nil {
		return err
	}

	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.stateMu.Lock()
	defer e.stateMu.Unlock()

	e.state = restored
	e.sequence = snap.Sequence + 1
	e.hasher.Reset(snap.StateHash)
	return nil
}

// WarmLRU loads recently applied request keys into the dedup cache.
func (e *Exchange) WarmLRU(keys []DedupKey) {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.idempotency.Warm(keys)
}

// Replay re-applies logged events in sequence order. Authority checks and
// custody are skipped: the log only holds operations that already passed
// them. Every event must continue the sequence and reproduce its logged
// state hash.
func (e *Exchange) Replay(envs []*event.EventEnvelope) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()

	for _, env := range envs {
		if err := e.replayOne(env); err != nil {
			return fmt.Errorf("replay sequence %d: %w", env.Sequence, err)
		}
		if e.metrics != nil {
			e.metrics.ReplayEventsTotal.Inc()
		}
	}
	return nil
}

func (e *Exchange) replayOne(env *event.EventEnvelope) error {
	e.stateMu.RLock()
	expected := e.sequence
	txn := e.state.Begin()
	e.stateMu.RUnlock()

	if env.Sequence != expected {
		return fmt.Errorf("sequence gap: expected %d", expected)
	}

	evt := env.Event
	if evt == nil {
		var err error
		if evt, err = event.Decode(env.EventType, env.Payload); err != nil {
			return err
		}
	}

	gen := ledger.NewJournalGenerator(txn.Balances)
	ts := env.Timestamp.UnixMicro()
	var batch *ledger.Batch
	var err error

	switch ev := evt.(type) {
	case *event.Initialized:
		if !txn.Initialized {
			txn.Initialized = true
			txn.Implementation = state.Baseline.Name()
		}
		txn.Version = ev.Version

	case *event.OwnershipTransferred:
		txn.Owner = ev.NewOwner

	case *event.SubmitterChanged:
		txn.Submitter = ev.NewSubmitter

	case *event.Deposit:
		batch, err = gen.GenerateDeposit(ev.Account, ev.Asset, ev.Amount, env.IdempotencyKey, ts)

	case *event.Withdrawal:
		journalType := ledger.JournalTypeWithdrawal
		if ev.Signed() {
			if err := txn.Nonces.Consume(ev.Account, *ev.Nonce); err != nil {
				return err
			}
			journalType = ledger.JournalTypeSignedWithdrawal
		}
		batch, err = gen.GenerateWithdrawal(ev.Account, ev.Asset, ev.Amount, journalType, env.IdempotencyKey, ts)

	case *event.TransactionsProcessed:
		if txn.ProcessedCount+ev.Count != ev.ProcessedCount {
			return fmt.Errorf("processed count %d + %d does not reach %d",
				txn.ProcessedCount, ev.Count, ev.ProcessedCount)
		}
		txn.ProcessedCount = ev.ProcessedCount

	case *event.Upgraded:
		impl, lerr := e.registry.Lookup(ev.Implementation)
		if lerr != nil {
			return lerr
		}
		err = txn.ApplyUpgrade(impl, ev.InitData)

	default:
		return fmt.Errorf("cannot replay %s", env.EventType)
	}
	if err != nil {
		return err
	}
	if batch != nil {
		if err := txn.Balances.ApplyBatch(batch); err != nil {
			return err
		}
	}

	hash := e.hasher.Next(env.Sequence, stateDigest(txn, evt, batch))
	if hash != env.StateHash {
		return fmt.Errorf("state hash mismatch: logged %x, computed %x", env.StateHash, hash)
	}

	e.stateMu.Lock()
	e.hasher.Advance(hash)
	e.sequence++
	txn.Commit()
	e.stateMu.Unlock()

	if key, ok := dedupKeyOf(evt, env.IdempotencyKey); ok {
		e.idempotency.MarkProcessed(key)
	}
	return nil
}
