package ledger

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"marketplace.mini/mkt/internal/types"
)

const (
	escrow   types.Address = "escrow"
	operator types.Address = "operator"
	contract               = "pets"
)

// fakeRegistry owns assets by id and approves escrow for every owner unless
// told otherwise.
type fakeRegistry struct {
	mu           sync.Mutex
	owners       map[uint64]types.Address
	unapproved   map[uint64]bool
	failTransfer bool
	failCustody  bool
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{owners: make(map[uint64]types.Address), unapproved: make(map[uint64]bool)}
}

func (r *fakeRegistry) mint(id uint64, owner types.Address) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.owners[id] = owner
}

func (r *fakeRegistry) OwnerOf(id uint64) (types.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok := r.owners[id]
	if !ok {
		return "", fmt.Errorf("asset %d does not exist", id)
	}
	return owner, nil
}

func (r *fakeRegistry) CanTransfer(id uint64, from, to, op types.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.check(id, from, to, op)
}

func (r *fakeRegistry) check(id uint64, from, to, op types.Address) error {
	owner, ok := r.owners[id]
	if !ok {
		return fmt.Errorf("asset %d does not exist", id)
	}
	if owner != from {
		return errors.New("from is not the owner")
	}
	if to == "" {
		return errors.New("empty recipient")
	}
	if op != from && r.unapproved[id] {
		return errors.New("operator not approved")
	}
	return nil
}

func (r *fakeRegistry) Transfer(id uint64, from, to, op types.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failTransfer && from == escrow {
		return errors.New("registry unavailable")
	}
	if r.failCustody && to == escrow {
		return errors.New("registry unavailable")
	}
	if err := r.check(id, from, to, op); err != nil {
		return err
	}
	r.owners[id] = to
	return nil
}

type payment struct {
	from, to types.Address
	amount   uint64
}

type fakeBank struct {
	mu       sync.Mutex
	balances map[types.Address]uint64
	payments []payment
}

func newFakeBank() *fakeBank {
	return &fakeBank{balances: make(map[types.Address]uint64)}
}

func (b *fakeBank) Transfer(from, to types.Address, amount uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.balances[from] < amount {
		return fmt.Errorf("%s has %d, needs %d", from, b.balances[from], amount)
	}
	b.balances[from] -= amount
	b.balances[to] += amount
	b.payments = append(b.payments, payment{from: from, to: to, amount: amount})
	return nil
}

func (b *fakeBank) balance(a types.Address) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balances[a]
}

// paymentsTo counts payments out of escrow into a.
func (b *fakeBank) paymentsTo(a types.Address) []uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []uint64
	for _, p := range b.payments {
		if p.from == escrow && p.to == a {
			out = append(out, p.amount)
		}
	}
	return out
}

type testEnv struct {
	ledger *Ledger
	reg    *fakeRegistry
	bank   *fakeBank

	mu     sync.Mutex
	events []types.Event
}

func newTestEnv(t *testing.T, fee uint64) *testEnv {
	t.Helper()
	env := &testEnv{reg: newFakeRegistry(), bank: newFakeBank()}
	env.ledger = New(Config{ListingFee: fee, Escrow: escrow, Operator: operator}, env.bank)
	env.ledger.RegisterRegistry(contract, env.reg)
	env.ledger.SetEventSink(func(ev types.Event) {
		env.mu.Lock()
		defer env.mu.Unlock()
		env.events = append(env.events, ev)
	})
	return env
}

func (e *testEnv) fund(a types.Address, amount uint64) {
	e.bank.mu.Lock()
	defer e.bank.mu.Unlock()
	e.bank.balances[a] += amount
}

// withValue deposits value with escrow, runs op and refunds on failure, the
// same way the settlement layer wraps every call.
func (e *testEnv) withValue(caller types.Address, value uint64, op func() (string, error)) (string, error) {
	if err := e.bank.Transfer(caller, escrow, value); err != nil {
		return "", err
	}
	id, err := op()
	if err != nil {
		if rerr := e.bank.Transfer(escrow, caller, value); rerr != nil {
			panic(rerr)
		}
	}
	return id, err
}

func (e *testEnv) list(caller types.Address, assetID, price, value uint64) (string, error) {
	return e.withValue(caller, value, func() (string, error) {
		return e.ledger.List(contract, assetID, price, caller, value)
	})
}

func (e *testEnv) resell(caller types.Address, assetID, price, value uint64) (string, error) {
	return e.withValue(caller, value, func() (string, error) {
		return e.ledger.Resell(contract, assetID, price, caller, value)
	})
}

func (e *testEnv) buy(caller types.Address, assetID, value uint64) (string, error) {
	return e.withValue(caller, value, func() (string, error) {
		return e.ledger.Buy(contract, assetID, caller, value)
	})
}

func (e *testEnv) eventKinds() []types.EventKind {
	e.mu.Lock()
	defer e.mu.Unlock()
	kinds := make([]types.EventKind, 0, len(e.events))
	for _, ev := range e.events {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}
