package bank_test

import (
	"errors"
	"testing"

	"github.com/holiman/uint256"

	"nftmarket/core/state"
	"nftmarket/native/bank"
)

type recordingCustody struct {
	calls int
}

func (r *recordingCustody) TransferFrom(contract, operator, from, to [20]byte, assetIDs []string) error {
	r.calls++
	return nil
}

func TestLedgerTransfers(t *testing.T) {
	manager := state.NewManager(nil)
	ledger := bank.NewLedger(manager, nil)
	alice := [20]byte{0x11}
	bob := [20]byte{0x12}

	if err := ledger.Credit(alice, uint256.NewInt(1000)); err != nil {
		t.Fatalf("credit: %v", err)
	}
	purse, err := ledger.CreatePurse(alice)
	if err != nil {
		t.Fatalf("create purse: %v", err)
	}
	if owner, _ := ledger.PurseOwner(purse); owner != alice {
		t.Fatalf("unexpected purse owner")
	}
	if err := ledger.AccountToPurse(alice, purse, uint256.NewInt(600)); err != nil {
		t.Fatalf("account to purse: %v", err)
	}
	other, _ := ledger.CreatePurse(bob)
	if other == purse {
		t.Fatalf("purse ids must be unique")
	}
	if err := ledger.PurseToPurse(purse, other, uint256.NewInt(200)); err != nil {
		t.Fatalf("purse to purse: %v", err)
	}
	if err := ledger.PurseToAccount(other, bob, uint256.NewInt(200)); err != nil {
		t.Fatalf("purse to account: %v", err)
	}

	checks := []struct {
		name string
		got  func() (*uint256.Int, error)
		want uint64
	}{
		{"alice", func() (*uint256.Int, error) { return ledger.Balance(alice) }, 400},
		{"bob", func() (*uint256.Int, error) { return ledger.Balance(bob) }, 200},
		{"purse", func() (*uint256.Int, error) { return ledger.PurseBalance(purse) }, 400},
		{"other", func() (*uint256.Int, error) { return ledger.PurseBalance(other) }, 0},
	}
	for _, c := range checks {
		got, err := c.got()
		if err != nil || got.Uint64() != c.want {
			t.Fatalf("%s: got %v err=%v, want %d", c.name, got, err, c.want)
		}
	}
}

func TestLedgerFailures(t *testing.T) {
	manager := state.NewManager(nil)
	ledger := bank.NewLedger(manager, nil)
	alice := [20]byte{0x11}
	purse, _ := ledger.CreatePurse(alice)

	if err := ledger.AccountToPurse(alice, purse, uint256.NewInt(1)); !errors.Is(err, bank.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := ledger.PurseToAccount(purse, alice, uint256.NewInt(1)); !errors.Is(err, bank.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}
	if err := ledger.PurseToPurse([32]byte{0x01}, purse, uint256.NewInt(1)); !errors.Is(err, bank.ErrUnknownPurse) {
		t.Fatalf("expected ErrUnknownPurse, got %v", err)
	}
	if err := ledger.PurseToAccount([32]byte{0x01}, alice, new(uint256.Int)); err != nil {
		t.Fatalf("zero transfer should be a no-op, got %v", err)
	}
	if err := ledger.TransferAsset([20]byte{}, alice, alice, alice, []string{"x"}); err == nil {
		t.Fatalf("expected error without custody backend")
	}
}

func TestLedgerRelaysCustody(t *testing.T) {
	custody := &recordingCustody{}
	ledger := bank.NewLedger(state.NewManager(nil), custody)
	if err := ledger.TransferAsset([20]byte{0xC0}, [20]byte{1}, [20]byte{1}, [20]byte{2}, []string{"a"}); err != nil {
		t.Fatalf("transfer asset: %v", err)
	}
	if custody.calls != 1 {
		t.Fatalf("expected relay to custody backend")
	}
}

func TestPurseIDDeterministic(t *testing.T) {
	owner := [20]byte{0x01}
	if bank.PurseID(owner, 1) != bank.PurseID(owner, 1) {
		t.Fatalf("expected deterministic purse id")
	}
	if bank.PurseID(owner, 1) == bank.PurseID(owner, 2) {
		t.Fatalf("expected nonce to change purse id")
	}
}
