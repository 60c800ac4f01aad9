package state

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	"nftmarket/native/bank"
)

type storedPurse struct {
	ID      [32]byte
	Owner   [20]byte
	Balance *big.Int
}

// BankBalance returns the spendable balance of an account. Unknown accounts
// report zero.
func (m *Manager) BankBalance(addr [20]byte) (*uint256.Int, error) {
	balance := new(big.Int)
	ok, err := m.KVGet(bankAccountKey(addr), balance)
	if err != nil {
		return nil, err
	}
	if !ok {
		return new(uint256.Int), nil
	}
	return fromBig(balance)
}

func (m *Manager) BankSetBalance(addr [20]byte, balance *uint256.Int) error {
	return m.KVPut(bankAccountKey(addr), toBig(balance))
}

func (m *Manager) BankPurseGet(id [32]byte) (*bank.Purse, bool, error) {
	var stored storedPurse
	ok, err := m.KVGet(bankPurseKey(id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	balance, err := fromBig(stored.Balance)
	if err != nil {
		return nil, false, err
	}
	return &bank.Purse{ID: stored.ID, Owner: stored.Owner, Balance: balance}, true, nil
}

func (m *Manager) BankPursePut(p *bank.Purse) error {
	if p == nil {
		return fmt.Errorf("bank: nil purse")
	}
	return m.KVPut(bankPurseKey(p.ID), &storedPurse{ID: p.ID, Owner: p.Owner, Balance: toBig(p.Balance)})
}

// BankNextPurseNonce returns a monotonically increasing counter used to derive
// purse identifiers.
func (m *Manager) BankNextPurseNonce() (uint64, error) {
	var nonce uint64
	if _, err := m.KVGet(bankPurseNonceKey, &nonce); err != nil {
		return 0, err
	}
	nonce++
	if err := m.KVPut(bankPurseNonceKey, nonce); err != nil {
		return 0, err
	}
	return nonce, nil
}
