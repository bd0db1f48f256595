// Package bank keeps account balances in smallest units and moves value
// between them. It is the value-transfer collaborator of the listing ledger
// and the target of plain transfer transactions.
package bank

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"marketplace.mini/mkt/internal/types"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrOverflow          = errors.New("balance overflow")
)

// Bank holds balances by address.
type Bank struct {
	mu       sync.Mutex
	balances map[types.Address]uint64
}

// New creates an empty bank.
func New() *Bank {
	return &Bank{balances: make(map[types.Address]uint64)}
}

// Balance returns the balance of a.
func (b *Bank) Balance(a types.Address) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[a]
}

// Credit mints amount into a. Only genesis and tests create value.
func (b *Bank) Credit(a types.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if amount > types.MaxAmount || b.balances[a] > types.MaxAmount-amount {
		return ErrOverflow
	}
	b.balances[a] += amount
	return nil
}

// Transfer moves amount from one account to another. A zero amount is a
// no-op so callers can attach nothing to a call.
func (b *Bank) Transfer(from, to types.Address, amount uint64) error {
	if amount == 0 {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[from] < amount {
		return fmt.Errorf("%w: %s has %d, needs %d", ErrInsufficientFunds, from, b.balances[from], amount)
	}
	if from != to && b.balances[to] > types.MaxAmount-amount {
		return ErrOverflow
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	if b.balances[from] == 0 {
		delete(b.balances, from)
	}
	return nil
}

// Snapshot returns a copy of every non-zero balance.
func (b *Bank) Snapshot() map[types.Address]uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[types.Address]uint64, len(b.balances))
	for a, v := range b.balances {
		out[a] = v
	}
	return out
}

// Restore replaces every balance.
func (b *Bank) Restore(balances map[types.Address]uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.balances = make(map[types.Address]uint64, len(balances))
	for a, v := range balances {
		if v > 0 {
			b.balances[a] = v
		}
	}
}

// Accounts returns every address with a balance, sorted.
func (b *Bank) Accounts() []types.Address {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]types.Address, 0, len(b.balances))
	for a := range b.balances {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Total returns the sum of all balances.
func (b *Bank) Total() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var sum uint64
	for _, v := range b.balances {
		sum += v
	}
	return sum
}
