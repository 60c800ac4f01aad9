package market

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"nftmarket/core/events"
)

var errMockFunds = errors.New("mock: insufficient funds")

type mockPurse struct {
	owner   [20]byte
	balance *uint256.Int
}

type mockSnapshot struct {
	listings map[string]*Listing
	index    []string
	params   *Params
	accounts map[[20]byte]*uint256.Int
	purses   map[[32]byte]*mockPurse
	owners   map[string][20]byte
	nonce    uint64
}

// mockHost implements both the engine state and the ledger so that a revert
// covers balances as well as listings.
type mockHost struct {
	mockSnapshot
	snapshots []mockSnapshot
	commits   int
	failAsset error
}

func newMockHost() *mockHost {
	return &mockHost{mockSnapshot: mockSnapshot{
		listings: make(map[string]*Listing),
		accounts: make(map[[20]byte]*uint256.Int),
		purses:   make(map[[32]byte]*mockPurse),
		owners:   make(map[string][20]byte),
	}}
}

func (s mockSnapshot) copy() mockSnapshot {
	out := mockSnapshot{
		listings: make(map[string]*Listing, len(s.listings)),
		index:    append([]string(nil), s.index...),
		params:   s.params.Clone(),
		accounts: make(map[[20]byte]*uint256.Int, len(s.accounts)),
		purses:   make(map[[32]byte]*mockPurse, len(s.purses)),
		owners:   make(map[string][20]byte, len(s.owners)),
		nonce:    s.nonce,
	}
	for k, v := range s.listings {
		out.listings[k] = v.Clone()
	}
	for k, v := range s.accounts {
		out.accounts[k] = new(uint256.Int).Set(v)
	}
	for k, v := range s.purses {
		out.purses[k] = &mockPurse{owner: v.owner, balance: new(uint256.Int).Set(v.balance)}
	}
	for k, v := range s.owners {
		out.owners[k] = v
	}
	return out
}

func (m *mockHost) MarketListingGet(assetID string) (*Listing, bool, error) {
	l, ok := m.listings[assetID]
	if !ok {
		return nil, false, nil
	}
	return l.Clone(), true, nil
}

func (m *mockHost) MarketListingPut(l *Listing) error {
	if _, ok := m.listings[l.AssetID]; !ok {
		m.index = append(m.index, l.AssetID)
	}
	m.listings[l.AssetID] = l.Clone()
	return nil
}

func (m *mockHost) MarketListingIDs() ([]string, error) {
	return append([]string(nil), m.index...), nil
}

func (m *mockHost) MarketParamsGet() (*Params, bool, error) {
	if m.params == nil {
		return nil, false, nil
	}
	return m.params.Clone(), true, nil
}

func (m *mockHost) MarketParamsPut(p *Params) error {
	m.params = p.Clone()
	return nil
}

func (m *mockHost) Snapshot() int {
	m.snapshots = append(m.snapshots, m.mockSnapshot.copy())
	return len(m.snapshots) - 1
}

func (m *mockHost) RevertToSnapshot(id int) {
	m.mockSnapshot = m.snapshots[id]
	m.snapshots = m.snapshots[:id]
}

func (m *mockHost) Commit() error {
	m.snapshots = nil
	m.commits++
	return nil
}

func (m *mockHost) CreatePurse(owner [20]byte) ([32]byte, error) {
	m.nonce++
	var id [32]byte
	copy(id[:], owner[:])
	id[31] = byte(m.nonce)
	id[30] = byte(m.nonce >> 8)
	m.purses[id] = &mockPurse{owner: owner, balance: new(uint256.Int)}
	return id, nil
}

func (m *mockHost) purse(id [32]byte) (*mockPurse, error) {
	p, ok := m.purses[id]
	if !ok {
		return nil, fmt.Errorf("mock: unknown purse %x", id[:4])
	}
	return p, nil
}

func (m *mockHost) PurseOwner(id [32]byte) ([20]byte, error) {
	p, err := m.purse(id)
	if err != nil {
		return [20]byte{}, err
	}
	return p.owner, nil
}

func (m *mockHost) PurseBalance(id [32]byte) (*uint256.Int, error) {
	p, err := m.purse(id)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(p.balance), nil
}

func (m *mockHost) AccountToPurse(from [20]byte, to [32]byte, amount *uint256.Int) error {
	p, err := m.purse(to)
	if err != nil {
		return err
	}
	bal := m.balance(from)
	if bal.Lt(amount) {
		return errMockFunds
	}
	m.accounts[from] = new(uint256.Int).Sub(bal, amount)
	p.balance = new(uint256.Int).Add(p.balance, amount)
	return nil
}

func (m *mockHost) PurseToPurse(from, to [32]byte, amount *uint256.Int) error {
	src, err := m.purse(from)
	if err != nil {
		return err
	}
	dst, err := m.purse(to)
	if err != nil {
		return err
	}
	if src.balance.Lt(amount) {
		return errMockFunds
	}
	src.balance = new(uint256.Int).Sub(src.balance, amount)
	dst.balance = new(uint256.Int).Add(dst.balance, amount)
	return nil
}

func (m *mockHost) PurseToAccount(from [32]byte, to [20]byte, amount *uint256.Int) error {
	src, err := m.purse(from)
	if err != nil {
		return err
	}
	if src.balance.Lt(amount) {
		return errMockFunds
	}
	src.balance = new(uint256.Int).Sub(src.balance, amount)
	m.accounts[to] = new(uint256.Int).Add(m.balance(to), amount)
	return nil
}

func (m *mockHost) TransferAsset(contract, operator, from, to [20]byte, assetIDs []string) error {
	if m.failAsset != nil {
		return m.failAsset
	}
	for _, id := range assetIDs {
		if m.owners[assetKey(contract, id)] != from {
			return fmt.Errorf("mock: %s not owned by sender", id)
		}
	}
	for _, id := range assetIDs {
		m.owners[assetKey(contract, id)] = to
	}
	return nil
}

func (m *mockHost) balance(addr [20]byte) *uint256.Int {
	if bal, ok := m.accounts[addr]; ok {
		return bal
	}
	return new(uint256.Int)
}

// fund opens a purse for owner holding amount.
func (m *mockHost) fund(owner [20]byte, amount uint64) [32]byte {
	id, _ := m.CreatePurse(owner)
	m.purses[id].balance = uint256.NewInt(amount)
	return id
}

func (m *mockHost) escrow() *uint256.Int {
	return new(uint256.Int).Set(m.purses[m.params.EscrowPurse].balance)
}

func assetKey(contract [20]byte, id string) string {
	return fmt.Sprintf("%x/%s", contract, id)
}

type capturingEmitter struct {
	events []events.Event
}

func (c *capturingEmitter) Emit(evt events.Event) {
	c.events = append(c.events, evt)
}

func (c *capturingEmitter) types() []string {
	out := make([]string, len(c.events))
	for i, evt := range c.events {
		out[i] = evt.EventType()
	}
	return out
}

func (c *capturingEmitter) last() events.Event {
	if len(c.events) == 0 {
		return nil
	}
	return c.events[len(c.events)-1]
}
