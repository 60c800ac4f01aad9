package bank

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

var (
	ErrInsufficientFunds = errors.New("bank: insufficient funds")
	ErrUnknownPurse      = errors.New("bank: unknown purse")
	ErrNilAmount         = errors.New("bank: amount required")
	ErrBalanceOverflow   = errors.New("bank: balance overflow")
)

// Purse is an escrow funding source: a balance held apart from accounts and
// controlled by its owner.
type Purse struct {
	ID      [32]byte
	Owner   [20]byte
	Balance *uint256.Int
}

type ledgerState interface {
	BankBalance(addr [20]byte) (*uint256.Int, error)
	BankSetBalance(addr [20]byte, balance *uint256.Int) error
	BankPurseGet(id [32]byte) (*Purse, bool, error)
	BankPursePut(p *Purse) error
	BankNextPurseNonce() (uint64, error)
}

// Custody relays asset transfers to the contract that issued the asset.
type Custody interface {
	TransferFrom(contract, operator, from, to [20]byte, assetIDs []string) error
}

// Ledger moves native value between accounts and purses. Writes go through the
// shared state so they are reverted together with the calling operation.
type Ledger struct {
	mu      sync.Mutex
	state   ledgerState
	custody Custody
}

func NewLedger(state ledgerState, custody Custody) *Ledger {
	return &Ledger{state: state, custody: custody}
}

// PurseID derives the identifier of the nonce-th purse opened by owner.
func PurseID(owner [20]byte, nonce uint64) [32]byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], nonce)
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256([]byte("purse"), owner[:], buf[:]))
	return id
}

// Credit mints amount into the account. It is used for genesis allocations
// and test faucets.
func (l *Ledger) Credit(addr [20]byte, amount *uint256.Int) error {
	if amount == nil {
		return ErrNilAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.state.BankBalance(addr)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	return l.state.BankSetBalance(addr, next)
}

func (l *Ledger) Balance(addr [20]byte) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.BankBalance(addr)
}

// CreatePurse opens an empty purse owned by owner.
func (l *Ledger) CreatePurse(owner [20]byte) ([32]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	nonce, err := l.state.BankNextPurseNonce()
	if err != nil {
		return [32]byte{}, err
	}
	purse := &Purse{ID: PurseID(owner, nonce), Owner: owner, Balance: new(uint256.Int)}
	if err := l.state.BankPursePut(purse); err != nil {
		return [32]byte{}, err
	}
	return purse.ID, nil
}

func (l *Ledger) PurseOwner(id [32]byte) ([20]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	purse, err := l.purse(id)
	if err != nil {
		return [20]byte{}, err
	}
	return purse.Owner, nil
}

func (l *Ledger) PurseBalance(id [32]byte) (*uint256.Int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	purse, err := l.purse(id)
	if err != nil {
		return nil, err
	}
	return new(uint256.Int).Set(purse.Balance), nil
}

// AccountToPurse moves amount from an account into a purse.
func (l *Ledger) AccountToPurse(from [20]byte, to [32]byte, amount *uint256.Int) error {
	if skip, err := checkAmount(amount); skip || err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	balance, err := l.state.BankBalance(from)
	if err != nil {
		return err
	}
	if balance.Lt(amount) {
		return fmt.Errorf("%w: account balance %s below %s", ErrInsufficientFunds, balance.Dec(), amount.Dec())
	}
	dst, err := l.purse(to)
	if err != nil {
		return err
	}
	if err := l.creditPurse(dst, amount); err != nil {
		return err
	}
	return l.state.BankSetBalance(from, new(uint256.Int).Sub(balance, amount))
}

// PurseToPurse moves amount between two purses.
func (l *Ledger) PurseToPurse(from, to [32]byte, amount *uint256.Int) error {
	if skip, err := checkAmount(amount); skip || err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	src, err := l.purse(from)
	if err != nil {
		return err
	}
	if err := debitPurse(src, amount); err != nil {
		return err
	}
	if from == to {
		return nil
	}
	dst, err := l.purse(to)
	if err != nil {
		return err
	}
	if err := l.state.BankPursePut(src); err != nil {
		return err
	}
	return l.creditPurse(dst, amount)
}

// PurseToAccount moves amount from a purse to an account.
func (l *Ledger) PurseToAccount(from [32]byte, to [20]byte, amount *uint256.Int) error {
	if skip, err := checkAmount(amount); skip || err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	src, err := l.purse(from)
	if err != nil {
		return err
	}
	if err := debitPurse(src, amount); err != nil {
		return err
	}
	balance, err := l.state.BankBalance(to)
	if err != nil {
		return err
	}
	next, overflow := new(uint256.Int).AddOverflow(balance, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	if err := l.state.BankPursePut(src); err != nil {
		return err
	}
	return l.state.BankSetBalance(to, next)
}

// TransferAsset relays a custody transfer to the issuing contract.
func (l *Ledger) TransferAsset(contract, operator, from, to [20]byte, assetIDs []string) error {
	if l.custody == nil {
		return fmt.Errorf("bank: custody backend not configured")
	}
	return l.custody.TransferFrom(contract, operator, from, to, assetIDs)
}

func (l *Ledger) purse(id [32]byte) (*Purse, error) {
	purse, ok, err := l.state.BankPurseGet(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnknownPurse
	}
	if purse.Balance == nil {
		purse.Balance = new(uint256.Int)
	}
	return purse, nil
}

func (l *Ledger) creditPurse(p *Purse, amount *uint256.Int) error {
	next, overflow := new(uint256.Int).AddOverflow(p.Balance, amount)
	if overflow {
		return ErrBalanceOverflow
	}
	p.Balance = next
	return l.state.BankPursePut(p)
}

func debitPurse(p *Purse, amount *uint256.Int) error {
	if p.Balance.Lt(amount) {
		return fmt.Errorf("%w: purse balance %s below %s", ErrInsufficientFunds, p.Balance.Dec(), amount.Dec())
	}
	p.Balance = new(uint256.Int).Sub(p.Balance, amount)
	return nil
}

// checkAmount reports whether the transfer is a no-op.
func checkAmount(amount *uint256.Int) (bool, error) {
	if amount == nil {
		return true, ErrNilAmount
	}
	return amount.IsZero(), nil
}
