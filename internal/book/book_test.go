package book

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"PegVault/internal/errs"
	"PegVault/internal/guard"
	"PegVault/internal/oracle"
	"PegVault/internal/token"
)

const unit = int64(1_000_000)

type fakeTicker struct{ tick int64 }

func (f *fakeTicker) Tick() int64 { return f.tick }

// fakeVault gives tests direct control over pause state and the profit
// surplus without standing up the full collateral ledger.
type fakeVault struct {
	account    uuid.UUID
	paused     bool
	deposits   int64
	collateral int64
	surplus    int64
}

func newFakeVault() *fakeVault {
	return &fakeVault{account: uuid.New()}
}

func (v *fakeVault) Account() uuid.UUID { return v.account }
func (v *fakeVault) IsPaused() bool     { return v.paused }

func (v *fakeVault) AddHedgerDeposit(amount int64) error {
	v.deposits += amount
	return nil
}

func (v *fakeVault) WithdrawHedgerDeposit(amount int64) error {
	if amount > v.deposits {
		return errs.ErrWouldExceedLimit
	}
	v.deposits -= amount
	return nil
}

func (v *fakeVault) SettleHedgerPnL(pnl int64) int64 {
	if pnl < 0 {
		v.collateral += -pnl
		return pnl
	}
	paid := pnl
	if paid > v.surplus {
		paid = v.surplus
	}
	v.surplus -= paid
	v.collateral -= paid
	return paid
}

type fixture struct {
	book    *Book
	vault   *fakeVault
	reserve *token.MemoryReserve
	gateway *oracle.StaticGateway
	ticker  *fakeTicker
	hedger  uuid.UUID
}

func defaultConfig() Config {
	return Config{
		MinMargin:            10 * unit,
		MaxLeverage:          10,
		CooldownTicks:        5,
		MaintenanceRatio:     100_000, // 10%
		LiquidationThreshold: 50_000,  // 5%
		LiquidationPenalty:   100_000, // 10% of equity
		LiquidatorFraction:   500_000, // half to the caller
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		vault:   newFakeVault(),
		reserve: token.NewMemoryReserve(),
		gateway: oracle.NewStaticGateway(unit), // rate 1.00
		ticker:  &fakeTicker{tick: 100},
		hedger:  uuid.New(),
	}

	b, err := New(defaultConfig(), f.vault, f.reserve, f.gateway, guard.NewReentryGuard(), f.ticker)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	f.book = b

	f.reserve.Credit(f.hedger, 100_000*unit)
	return f
}

func (f *fixture) mustValidate(t *testing.T) {
	t.Helper()
	if err := f.book.Validate(); err != nil {
		t.Fatalf("invariant violated: %v", err)
	}
}

func (f *fixture) open(t *testing.T, margin, leverage int64) int64 {
	t.Helper()
	id, err := f.book.EnterPosition(f.hedger, margin, leverage)
	if err != nil {
		t.Fatalf("enter position: %v", err)
	}
	return id
}

// ============================================================
// EnterPosition
// ============================================================

func TestEnterPosition(t *testing.T) {
	f := newFixture(t)

	id := f.open(t, 100*unit, 5)
	if id != 1 {
		t.Errorf("first position id = %d, want 1", id)
	}

	pos, ok := f.book.GetPosition(id)
	if !ok {
		t.Fatal("position not found")
	}
	if pos.Exposure != 500*unit {
		t.Errorf("exposure = %d, want %d", pos.Exposure, 500*unit)
	}
	if pos.EntryPrice != unit {
		t.Errorf("entry price = %d, want %d", pos.EntryPrice, unit)
	}
	if pos.Status != PositionStatusActive {
		t.Errorf("status = %s, want Active", pos.Status)
	}

	if got := f.book.TotalMargin(); got != 100*unit {
		t.Errorf("total margin = %d, want %d", got, 100*unit)
	}
	if got := f.vault.deposits; got != 100*unit {
		t.Errorf("vault deposits = %d, want %d", got, 100*unit)
	}
	if !f.book.HasActiveHedger(f.hedger) {
		t.Error("hedger not reported active")
	}

	// IDs are never reused.
	if id2 := f.open(t, 50*unit, 2); id2 != 2 {
		t.Errorf("second position id = %d, want 2", id2)
	}
	f.mustValidate(t)
}

func TestEnterPositionRejections(t *testing.T) {
	f := newFixture(t)

	if _, err := f.book.EnterPosition(f.hedger, 0, 2); !errors.Is(err, errs.ErrInvalidAmount) {
		t.Errorf("zero margin: got %v, want ErrInvalidAmount", err)
	}
	if _, err := f.book.EnterPosition(f.hedger, 9*unit, 2); !errors.Is(err, errs.ErrBelowThreshold) {
		t.Errorf("below floor: got %v, want ErrBelowThreshold", err)
	}
	if _, err := f.book.EnterPosition(f.hedger, 100*unit, 0); !errors.Is(err, errs.ErrInvalidLeverage) {
		t.Errorf("zero leverage: got %v, want ErrInvalidLeverage", err)
	}
	if _, err := f.book.EnterPosition(f.hedger, 100*unit, 11); !errors.Is(err, errs.ErrInvalidLeverage) {
		t.Errorf("over max leverage: got %v, want ErrInvalidLeverage", err)
	}

	f.gateway.Valid = false
	if _, err := f.book.EnterPosition(f.hedger, 100*unit, 2); !errors.Is(err, errs.ErrOraclePriceInvalid) {
		t.Errorf("invalid price: got %v, want ErrOraclePriceInvalid", err)
	}
	f.gateway.Valid = true

	f.vault.paused = true
	if _, err := f.book.EnterPosition(f.hedger, 100*unit, 2); !errors.Is(err, errs.ErrPaused) {
		t.Errorf("paused: got %v, want ErrPaused", err)
	}

	if f.book.TotalMargin() != 0 || f.vault.deposits != 0 {
		t.Error("rejected entries must not change state")
	}
	f.mustValidate(t)
}

// ============================================================
// AddMargin / RemoveMargin
// ============================================================

func TestAddMargin(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, 100*unit, 5)

	if err := f.book.AddMargin(f.hedger, id, 50*unit); err != nil {
		t.Fatalf("add margin: %v", err)
	}

	pos, _ := f.book.GetPosition(id)
	if pos.Margin != 150*unit {
		t.Errorf("margin = %d, want %d", pos.Margin, 150*unit)
	}
	if pos.Exposure != 500*unit {
		t.Errorf("exposure changed to %d, want %d", pos.Exposure, 500*unit)
	}
	if f.book.TotalMargin() != 150*unit {
		t.Errorf("total margin = %d, want %d", f.book.TotalMargin(), 150*unit)
	}

	stranger := uuid.New()
	f.reserve.Credit(stranger, 100*unit)
	if err := f.book.AddMargin(stranger, id, 10*unit); !errors.Is(err, errs.ErrNotAuthorized) {
		t.Errorf("non-owner: got %v, want ErrNotAuthorized", err)
	}
	if err := f.book.AddMargin(f.hedger, 999, 10*unit); !errors.Is(err, errs.ErrInvalidCondition) {
		t.Errorf("unknown position: got %v, want ErrInvalidCondition", err)
	}
	f.mustValidate(t)
}

func TestRemoveMarginCooldown(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, 100*unit, 2)

	if err := f.book.RemoveMargin(f.hedger, id, 10*unit); !errors.Is(err, errs.ErrInvalidCondition) {
		t.Errorf("inside cooldown: got %v, want ErrInvalidCondition", err)
	}

	f.ticker.tick += 5
	if err := f.book.RemoveMargin(f.hedger, id, 10*unit); err != nil {
		t.Fatalf("after cooldown: %v", err)
	}
	if got := f.reserve.BalanceOf(f.hedger); got != 100_000*unit-90*unit {
		t.Errorf("hedger balance = %d, want %d", got, 100_000*unit-90*unit)
	}

	// Withdrawal resets the cooldown window.
	if err := f.book.RemoveMargin(f.hedger, id, 10*unit); !errors.Is(err, errs.ErrInvalidCondition) {
		t.Errorf("cooldown not reset: got %v", err)
	}
	f.mustValidate(t)
}

func TestRemoveMarginFloors(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, 100*unit, 10) // exposure 1000
	f.ticker.tick += 5

	// Remainder would fall under the margin floor.
	if err := f.book.RemoveMargin(f.hedger, id, 95*unit); !errors.Is(err, errs.ErrBelowThreshold) {
		t.Errorf("below floor: got %v, want ErrBelowThreshold", err)
	}

	// Remainder clears the floor but the margin ratio would fall under
	// maintenance: 60/1000 = 6% < 10%.
	if err := f.book.RemoveMargin(f.hedger, id, 40*unit); !errors.Is(err, errs.ErrWouldBreachCollateralization) {
		t.Errorf("maintenance breach: got %v, want ErrWouldBreachCollateralization", err)
	}

	f.mustValidate(t)
}

// ============================================================
// ExitPosition
// ============================================================

func TestExitPositionFlat(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, 100*unit, 5)

	if _, err := f.book.ExitPosition(f.hedger, id); !errors.Is(err, errs.ErrInvalidCondition) {
		t.Errorf("inside cooldown: got %v, want ErrInvalidCondition", err)
	}

	f.ticker.tick += 5
	balanceBefore := f.reserve.BalanceOf(f.hedger)
	payout, err := f.book.ExitPosition(f.hedger, id)
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if payout != 100*unit {
		t.Errorf("flat exit payout = %d, want %d", payout, 100*unit)
	}
	if got := f.reserve.BalanceOf(f.hedger); got != balanceBefore+payout {
		t.Errorf("hedger balance = %d, want %d", got, balanceBefore+payout)
	}

	pos, _ := f.book.GetPosition(id)
	if pos.Status != PositionStatusClosed {
		t.Errorf("status = %s, want Closed", pos.Status)
	}
	if f.book.TotalMargin() != 0 || f.vault.deposits != 0 {
		t.Error("exit did not release margin")
	}

	// Terminal: a second exit fails without effect.
	if _, err := f.book.ExitPosition(f.hedger, id); !errors.Is(err, errs.ErrInvalidCondition) {
		t.Errorf("re-exit: got %v, want ErrInvalidCondition", err)
	}
	f.mustValidate(t)
}

func TestExitPositionProfitBounded(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, 100*unit, 5) // exposure 500
	f.ticker.tick += 5

	// Rate up 10%: pnl = 50. The vault only has 30 of surplus.
	f.gateway.Price = 1_100_000
	f.vault.surplus = 30 * unit
	f.vault.collateral = 30 * unit
	f.reserve.Credit(f.vault.account, 30*unit)

	payout, err := f.book.ExitPosition(f.hedger, id)
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if payout != 130*unit {
		t.Errorf("payout = %d, want %d (margin + capped profit)", payout, 130*unit)
	}
	f.mustValidate(t)
}

func TestExitPositionLossAbsorbed(t *testing.T) {
	f := newFixture(t)
	id := f.open(t, 100*unit, 5) // exposure 500
	f.ticker.tick += 5

	// Rate down 30%: pnl = -150, deeper than margin. The hedger loses at
	// most their margin; the excess is absorbed.
	f.gateway.Price = 700_000

	payout, err := f.book.ExitPosition(f.hedger, id)
	if err != nil {
		t.Fatalf("exit: %v", err)
	}
	if payout != 0 {
		t.Errorf("payout = %d, want 0", payout)
	}
	if f.vault.collateral != 100*unit {
		t.Errorf("vault absorbed %d, want %d", f.vault.collateral, 100*unit)
	}
	f.mustValidate(t)
}

// ============================================================
// Liquidate
// ============================================================

func TestLiquidate(t *testing.T) {
	f := newFixture(t)
	liquidator := uuid.New()
	id := f.open(t, 100*unit, 10) // exposure 1000, entry 1.00

	// Healthy position cannot be liquidated.
	if _, err := f.book.Liquidate(liquidator, id); !errors.Is(err, errs.ErrInvalidCondition) {
		t.Errorf("healthy: got %v, want ErrInvalidCondition", err)
	}

	// Rate down 9%: pnl = -90, equity 10, ratio 1% < 5% threshold.
	f.gateway.Price = 910_000

	reward, err := f.book.Liquidate(liquidator, id)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}

	// Penalty 10% of 10 equity = 1, split half/half.
	if reward != unit/2 {
		t.Errorf("liquidator reward = %d, want %d", reward, unit/2)
	}
	if got := f.reserve.BalanceOf(liquidator); got != unit/2 {
		t.Errorf("liquidator balance = %d, want %d", got, unit/2)
	}
	// Owner receives equity minus the full penalty.
	if got := f.reserve.BalanceOf(f.hedger); got != 100_000*unit-100*unit+9*unit {
		t.Errorf("owner balance = %d, want %d", got, 100_000*unit-100*unit+9*unit)
	}

	pos, _ := f.book.GetPosition(id)
	if pos.Status != PositionStatusLiquidated {
		t.Errorf("status = %s, want Liquidated", pos.Status)
	}
	if f.book.TotalMargin() != 0 || f.vault.deposits != 0 {
		t.Error("liquidation did not release margin")
	}
	f.mustValidate(t)
}

func TestLiquidateRace(t *testing.T) {
	f := newFixture(t)
	first := uuid.New()
	second := uuid.New()
	id := f.open(t, 100*unit, 10)

	f.gateway.Price = 910_000

	if _, err := f.book.Liquidate(first, id); err != nil {
		t.Fatalf("first liquidation: %v", err)
	}

	firstBalance := f.reserve.BalanceOf(first)
	collateralBefore := f.vault.collateral

	// The loser of the race fails and nothing moves.
	if _, err := f.book.Liquidate(second, id); !errors.Is(err, errs.ErrInvalidCondition) {
		t.Errorf("second liquidation: got %v, want ErrInvalidCondition", err)
	}
	if got := f.reserve.BalanceOf(second); got != 0 {
		t.Errorf("second liquidator paid %d, want 0", got)
	}
	if f.reserve.BalanceOf(first) != firstBalance || f.vault.collateral != collateralBefore {
		t.Error("failed liquidation changed balances")
	}
	f.mustValidate(t)
}

func TestLiquidateBankruptPosition(t *testing.T) {
	f := newFixture(t)
	liquidator := uuid.New()
	id := f.open(t, 100*unit, 10) // exposure 1000

	// Rate down 20%: pnl = -200, loss beyond margin. Equity is zero, so
	// nobody is paid; the vault absorbs exactly the margin.
	f.gateway.Price = 800_000

	reward, err := f.book.Liquidate(liquidator, id)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if reward != 0 {
		t.Errorf("reward = %d, want 0", reward)
	}
	if f.vault.collateral != 100*unit {
		t.Errorf("vault absorbed %d, want %d", f.vault.collateral, 100*unit)
	}
	f.mustValidate(t)
}
