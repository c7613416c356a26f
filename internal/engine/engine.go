// Package engine is the single-writer settlement core. It owns the vault,
// the position book, the price gateway, and the logical clock; every
// top-level operation is serialized, committed to the hash-chained record
// log, and emitted to the persistence and outbound channels.
package engine

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"PegVault/internal/book"
	"PegVault/internal/errs"
	"PegVault/internal/event"
	"PegVault/internal/math"
	"PegVault/internal/observability"
	"PegVault/internal/oracle"
	"PegVault/internal/vault"
)

// Output is one committed settlement record on its way out of the engine.
type Output struct {
	Envelope *event.Envelope
}

// Engine serializes settlement operations and maintains the record chain.
type Engine struct {
	mu sync.Mutex

	sequence int64
	hasher   *StateHasher
	clock    *LogicalClock

	vault   *vault.Vault
	book    *book.Book
	gateway *oracle.FeedGateway

	metrics *observability.Metrics
	log     zerolog.Logger

	// Persistence: blocking send, no record lost. Outbound: non-blocking,
	// drop on full; consumers rebuild from the record log.
	persistChan  chan<- Output
	outboundChan chan<- Output
}

func New(
	v *vault.Vault,
	b *book.Book,
	gateway *oracle.FeedGateway,
	clock *LogicalClock,
	metrics *observability.Metrics,
	persistChan, outboundChan chan<- Output,
) *Engine {
	return &Engine{
		hasher:       NewStateHasher(),
		clock:        clock,
		vault:        v,
		book:         b,
		gateway:      gateway,
		metrics:      metrics,
		log:          observability.NewLogger("engine"),
		persistChan:  persistChan,
		outboundChan: outboundChan,
	}
}

// === Vault operations ===

func (e *Engine) Mint(caller uuid.UUID, collateralIn, minSyntheticOut int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	out, err := e.vault.Mint(caller, collateralIn, minSyntheticOut)
	if err != nil {
		return 0, e.reject("mint", err)
	}

	e.commit("mint", event.EventTypeMinted, event.Minted{
		Caller:       caller,
		CollateralIn: collateralIn,
		SyntheticOut: out,
	}, start)
	return out, nil
}

func (e *Engine) Redeem(caller uuid.UUID, syntheticIn, minCollateralOut int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	out, err := e.vault.Redeem(caller, syntheticIn, minCollateralOut)
	if err != nil {
		return 0, e.reject("redeem", err)
	}

	e.commit("redeem", event.EventTypeRedeemed, event.Redeemed{
		Caller:        caller,
		SyntheticIn:   syntheticIn,
		CollateralOut: out,
	}, start)
	return out, nil
}

func (e *Engine) UpdateCollateralizationThresholds(caller uuid.UUID, minRatio, criticalRatio int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if err := e.vault.UpdateCollateralizationThresholds(caller, minRatio, criticalRatio); err != nil {
		return e.reject("update_thresholds", err)
	}

	e.commit("update_thresholds", event.EventTypeThresholdsUpdated, event.ThresholdsUpdated{
		MinMintRatio:  minRatio,
		CriticalRatio: criticalRatio,
	}, start)
	return nil
}

func (e *Engine) SetDevMode(caller uuid.UUID, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if err := e.vault.SetDevMode(caller, enabled); err != nil {
		return e.reject("set_dev_mode", err)
	}

	e.commit("set_dev_mode", event.EventTypeDevModeSet, event.DevModeSet{Enabled: enabled}, start)
	return nil
}

func (e *Engine) Pause(caller uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if err := e.vault.Pause(caller); err != nil {
		return e.reject("pause", err)
	}

	e.log.Warn().Str("caller", caller.String()).Msg("protocol paused")
	e.commit("pause", event.EventTypePaused, struct{}{}, start)
	return nil
}

func (e *Engine) Unpause(caller uuid.UUID) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if err := e.vault.Unpause(caller); err != nil {
		return e.reject("unpause", err)
	}

	e.log.Warn().Str("caller", caller.String()).Msg("protocol unpaused")
	e.commit("unpause", event.EventTypeUnpaused, struct{}{}, start)
	return nil
}

// === Book operations ===

func (e *Engine) EnterPosition(caller uuid.UUID, marginIn, leverage int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	id, err := e.book.EnterPosition(caller, marginIn, leverage)
	if err != nil {
		return 0, e.reject("enter_position", err)
	}

	pos, _ := e.book.GetPosition(id)
	e.commit("enter_position", event.EventTypePositionOpened, event.PositionOpened{
		PositionID: id,
		Owner:      caller,
		Margin:     pos.Margin,
		Leverage:   pos.Leverage,
		Exposure:   pos.Exposure,
		EntryPrice: pos.EntryPrice,
	}, start)
	return id, nil
}

func (e *Engine) AddMargin(caller uuid.UUID, positionID, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if err := e.book.AddMargin(caller, positionID, amount); err != nil {
		return e.reject("add_margin", err)
	}

	pos, _ := e.book.GetPosition(positionID)
	e.commit("add_margin", event.EventTypeMarginAdded, event.MarginAdjusted{
		PositionID: positionID,
		Owner:      caller,
		Amount:     amount,
		NewMargin:  pos.Margin,
	}, start)
	return nil
}

func (e *Engine) RemoveMargin(caller uuid.UUID, positionID, amount int64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	if err := e.book.RemoveMargin(caller, positionID, amount); err != nil {
		return e.reject("remove_margin", err)
	}

	pos, _ := e.book.GetPosition(positionID)
	e.commit("remove_margin", event.EventTypeMarginRemoved, event.MarginAdjusted{
		PositionID: positionID,
		Owner:      caller,
		Amount:     amount,
		NewMargin:  pos.Margin,
	}, start)
	return nil
}

func (e *Engine) ExitPosition(caller uuid.UUID, positionID int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	payout, err := e.book.ExitPosition(caller, positionID)
	if err != nil {
		return 0, e.reject("exit_position", err)
	}

	e.commit("exit_position", event.EventTypePositionClosed, event.PositionClosed{
		PositionID: positionID,
		Owner:      caller,
		Payout:     payout,
	}, start)
	return payout, nil
}

func (e *Engine) Liquidate(caller uuid.UUID, positionID int64) (int64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	reward, err := e.book.Liquidate(caller, positionID)
	if err != nil {
		return 0, e.reject("liquidate", err)
	}

	pos, _ := e.book.GetPosition(positionID)
	if e.metrics != nil {
		e.metrics.Liquidations.Inc()
	}
	e.commit("liquidate", event.EventTypePositionLiquidated, event.PositionLiquidated{
		PositionID:       positionID,
		Owner:            pos.Owner,
		Liquidator:       caller,
		LiquidatorReward: reward,
	}, start)
	return reward, nil
}

// === Price feed ===

// ApplyPriceUpdate advances the logical clock and applies a feed quote.
// Every quote advances the tick; only accepted quotes produce a record.
func (e *Engine) ApplyPriceUpdate(price int64, sequence uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	start := time.Now()

	e.clock.Advance()

	if !e.gateway.Update(price, sequence) {
		if e.metrics != nil {
			reason := "stale_sequence"
			if price <= 0 {
				reason = "invalid_price"
			}
			e.metrics.PriceUpdatesDropped.WithLabelValues(reason).Inc()
			e.metrics.EngineTick.Set(float64(e.clock.Tick()))
		}
		return false
	}

	if e.metrics != nil {
		e.metrics.PriceUpdatesApplied.Inc()
		e.metrics.CurrentPrice.Set(float64(price))
	}
	e.commit("price_update", event.EventTypePriceUpdate, event.PriceUpdate{
		Price:    price,
		Sequence: sequence,
	}, start)
	return true
}

// === Reads ===

// Status is the engine's externally visible state summary.
type Status struct {
	Sequence        int64       `json:"sequence"`
	Tick            int64       `json:"tick"`
	Price           int64       `json:"price"`
	PriceOK         bool        `json:"price_ok"`
	Vault           vault.State `json:"vault"`
	CollateralRatio int64       `json:"collateral_ratio"`
	TotalMargin     int64       `json:"total_margin"`
	TotalExposure   int64       `json:"total_exposure"`
	ActivePositions int         `json:"active_positions"`
}

func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()

	price, ok := e.gateway.GetPrice()
	return Status{
		Sequence:        e.sequence,
		Tick:            e.clock.Tick(),
		Price:           price,
		PriceOK:         ok,
		Vault:           e.vault.Snapshot(),
		CollateralRatio: e.vault.CollateralRatio(),
		TotalMargin:     e.book.TotalMargin(),
		TotalExposure:   e.book.TotalExposure(),
		ActivePositions: e.book.ActivePositionCount(),
	}
}

func (e *Engine) GetPosition(id int64) (book.Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.GetPosition(id)
}

func (e *Engine) PositionsOf(owner uuid.UUID) []book.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.book.PositionsOf(owner)
}

func (e *Engine) Sequence() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sequence
}

func (e *Engine) StateHash() [32]byte {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.hasher.GetPrevHash()
}

// === Snapshot restore ===

// SnapshotState holds the serializable engine state for warm restart.
type SnapshotState struct {
	Sequence       int64           `json:"sequence"`
	Tick           int64           `json:"tick"`
	StateHash      [32]byte        `json:"state_hash"`
	Vault          vault.State     `json:"vault"`
	Positions      []book.Position `json:"positions"`
	NextPositionID int64           `json:"next_position_id"`
	Price          int64           `json:"price"`
	PriceSequence  uint64          `json:"price_sequence"`
}

// CreateSnapshotState captures the current in-memory state for persistence.
func (e *Engine) CreateSnapshotState() *SnapshotState {
	e.mu.Lock()
	defer e.mu.Unlock()

	positions, nextID := e.book.Snapshot()
	price, _ := e.gateway.GetPrice()
	return &SnapshotState{
		Sequence:       e.sequence,
		Tick:           e.clock.Tick(),
		StateHash:      e.hasher.GetPrevHash(),
		Vault:          e.vault.Snapshot(),
		Positions:      positions,
		NextPositionID: nextID,
		Price:          price,
		PriceSequence:  e.gateway.LastSequence(),
	}
}

// RestoreFromSnapshot restores engine state on warm restart.
func (e *Engine) RestoreFromSnapshot(snap *SnapshotState) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.vault.Restore(snap.Vault); err != nil {
		return fmt.Errorf("restore vault: %w", err)
	}
	if err := e.book.Restore(snap.Positions, snap.NextPositionID); err != nil {
		return fmt.Errorf("restore book: %w", err)
	}

	e.sequence = snap.Sequence
	e.clock.Restore(snap.Tick)
	e.hasher.SetPrevHash(snap.StateHash)
	if snap.Price > 0 {
		e.gateway.Update(snap.Price, snap.PriceSequence)
	}
	return nil
}

// === Internals ===

// commit appends a record for an already-applied operation: post-check the
// component invariants, extend the hash chain, emit, update metrics.
func (e *Engine) commit(op string, et event.EventType, payload interface{}, start time.Time) {
	if err := e.vault.Validate(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s: %v", op, err))
	}
	if err := e.book.Validate(); err != nil {
		panic(fmt.Sprintf("FATAL: invariant violated after %s: %v", op, err))
	}

	data, err := json.Marshal(payload)
	if err != nil {
		panic(fmt.Sprintf("FATAL: payload marshal for %s: %v", op, err))
	}

	price, _ := e.gateway.GetPrice()
	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(e.sequence, e.computeStateDigest())

	envelope := &event.Envelope{
		Sequence:  e.sequence,
		EventType: et,
		Tick:      e.clock.Tick(),
		Price:     price,
		Payload:   data,
		StateHash: stateHash,
		PrevHash:  prevHash,
	}

	output := Output{Envelope: envelope}

	// Persistence: blocking send, the engine stalls until the worker
	// drains. Guarantees no record is lost.
	if e.persistChan != nil {
		select {
		case e.persistChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PersistBackpressure.Inc()
			}
			e.persistChan <- output
		}
	}

	// Outbound: non-blocking, drop on full.
	if e.outboundChan != nil {
		select {
		case e.outboundChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.OutboundDrops.Inc()
			}
		}
	}

	e.sequence++

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(op).Inc()
		e.metrics.OpDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
		e.metrics.EngineSequence.Set(float64(e.sequence))
		e.metrics.EngineTick.Set(float64(e.clock.Tick()))

		state := e.vault.Snapshot()
		e.metrics.TotalMinted.Set(float64(state.TotalMinted))
		e.metrics.TotalCollateral.Set(float64(state.TotalCollateral))
		e.metrics.HedgerDeposits.Set(float64(state.HedgerDeposits))
		e.metrics.ActivePositions.Set(float64(e.book.ActivePositionCount()))
		if ratio := e.vault.CollateralRatio(); ratio != math.MaxRatio {
			e.metrics.CollateralRatio.Set(float64(ratio))
		}
	}

	e.log.Debug().
		Int64("sequence", envelope.Sequence).
		Str("op", op).
		Int64("tick", envelope.Tick).
		Msg("record committed")
}

// reject records a failed operation and passes the error through unchanged.
func (e *Engine) reject(op string, err error) error {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(op, rejectionReason(err)).Inc()
		if errors.Is(err, errs.ErrReentrancy) {
			e.metrics.ReentrancyRejections.Inc()
		}
	}
	e.log.Debug().Str("op", op).Err(err).Msg("operation rejected")
	return err
}

func rejectionReason(err error) string {
	switch {
	case errors.Is(err, errs.ErrInvalidAmount):
		return "invalid_amount"
	case errors.Is(err, errs.ErrInvalidAddress):
		return "invalid_address"
	case errors.Is(err, errs.ErrInvalidParameter):
		return "invalid_parameter"
	case errors.Is(err, errs.ErrInvalidLeverage):
		return "invalid_leverage"
	case errors.Is(err, errs.ErrExcessiveSlippage):
		return "excessive_slippage"
	case errors.Is(err, errs.ErrWouldBreachCollateralization):
		return "would_breach_collateralization"
	case errors.Is(err, errs.ErrWouldExceedLimit):
		return "would_exceed_limit"
	case errors.Is(err, errs.ErrBelowThreshold):
		return "below_threshold"
	case errors.Is(err, errs.ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, errs.ErrInvalidCondition):
		return "invalid_condition"
	case errors.Is(err, errs.ErrOraclePriceInvalid):
		return "oracle_price_invalid"
	case errors.Is(err, errs.ErrPaused):
		return "paused"
	case errors.Is(err, errs.ErrReentrancy):
		return "reentrancy"
	default:
		return "other"
	}
}

func (e *Engine) computeStateDigest() []byte {
	vaultBytes := e.vault.CanonicalBytes()
	bookBytes := e.book.CanonicalBytes()

	digest := make([]byte, 0, len(vaultBytes)+len(bookBytes))
	digest = append(digest, vaultBytes...)
	digest = append(digest, bookBytes...)
	return digest
}
