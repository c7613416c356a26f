// Package token defines the asset interfaces the settlement engine moves
// value through: the external reserve asset and the synthetic unit it backs.
package token

import (
	"fmt"

	"github.com/google/uuid"

	"PegVault/internal/errs"
)

// Reserve is the external collateral asset. The engine pulls deposits with
// TransferFrom into its own account and pays out with Transfer.
type Reserve interface {
	TransferFrom(from, to uuid.UUID, amount int64) error
	Transfer(from, to uuid.UUID, amount int64) error
	BalanceOf(account uuid.UUID) int64
}

// Synthetic is the pegged unit the vault issues against collateral.
type Synthetic interface {
	Mint(to uuid.UUID, amount int64) error
	Burn(from uuid.UUID, amount int64) error
	BalanceOf(account uuid.UUID) int64
	TotalSupply() int64
}

// TransferHook observes a completed transfer. Tests install hooks that call
// back into the protocol to model a malicious reentrant token.
type TransferHook func(from, to uuid.UUID, amount int64)

// MemoryReserve maintains in-memory reserve-asset balances.
type MemoryReserve struct {
	balances map[uuid.UUID]int64
	hook     TransferHook
}

func NewMemoryReserve() *MemoryReserve {
	return &MemoryReserve{
		balances: make(map[uuid.UUID]int64),
	}
}

// SetTransferHook installs a callback fired after every successful transfer.
func (r *MemoryReserve) SetTransferHook(hook TransferHook) {
	r.hook = hook
}

// Credit seeds an account balance. Test and bootstrap helper.
func (r *MemoryReserve) Credit(account uuid.UUID, amount int64) {
	r.balances[account] += amount
}

func (r *MemoryReserve) BalanceOf(account uuid.UUID) int64 {
	return r.balances[account]
}

func (r *MemoryReserve) TransferFrom(from, to uuid.UUID, amount int64) error {
	return r.move(from, to, amount)
}

func (r *MemoryReserve) Transfer(from, to uuid.UUID, amount int64) error {
	return r.move(from, to, amount)
}

func (r *MemoryReserve) move(from, to uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("reserve transfer of %d: %w", amount, errs.ErrInvalidAmount)
	}
	if from == uuid.Nil || to == uuid.Nil {
		return fmt.Errorf("reserve transfer with zero account: %w", errs.ErrInvalidAddress)
	}
	if r.balances[from] < amount {
		return fmt.Errorf("reserve transfer: have=%d, need=%d: %w",
			r.balances[from], amount, errs.ErrWouldExceedLimit)
	}

	r.balances[from] -= amount
	r.balances[to] += amount

	if r.hook != nil {
		r.hook(from, to, amount)
	}
	return nil
}

// MemorySynthetic maintains in-memory synthetic-unit balances and supply.
type MemorySynthetic struct {
	balances    map[uuid.UUID]int64
	totalSupply int64
}

func NewMemorySynthetic() *MemorySynthetic {
	return &MemorySynthetic{
		balances: make(map[uuid.UUID]int64),
	}
}

func (s *MemorySynthetic) BalanceOf(account uuid.UUID) int64 {
	return s.balances[account]
}

func (s *MemorySynthetic) TotalSupply() int64 {
	return s.totalSupply
}

func (s *MemorySynthetic) Mint(to uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("synthetic mint of %d: %w", amount, errs.ErrInvalidAmount)
	}
	if to == uuid.Nil {
		return fmt.Errorf("synthetic mint to zero account: %w", errs.ErrInvalidAddress)
	}

	s.balances[to] += amount
	s.totalSupply += amount
	return nil
}

func (s *MemorySynthetic) Burn(from uuid.UUID, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("synthetic burn of %d: %w", amount, errs.ErrInvalidAmount)
	}
	if from == uuid.Nil {
		return fmt.Errorf("synthetic burn from zero account: %w", errs.ErrInvalidAddress)
	}
	if s.balances[from] < amount {
		return fmt.Errorf("synthetic burn: have=%d, need=%d: %w",
			s.balances[from], amount, errs.ErrWouldExceedLimit)
	}

	s.balances[from] -= amount
	s.totalSupply -= amount
	return nil
}
