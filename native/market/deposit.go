package market

import (
	"strings"

	"github.com/holiman/uint256"
)

// Entry points reachable through Deposit.
const (
	EntryPointBuy         = "buy"
	EntryPointBid         = "bid"
	EntryPointIncreaseBid = "increase_bid"
)

// DepositArgs carries the arguments forwarded to the selected entry point. A
// zero Buyer or Bidder defaults to the caller.
type DepositArgs struct {
	Contract [20]byte
	AssetID  string
	Buyer    [20]byte
	Bidder   [20]byte
}

// ValidEntryPoint reports whether Deposit may forward to the named operation.
func ValidEntryPoint(name string) bool {
	switch name {
	case EntryPointBuy, EntryPointBid, EntryPointIncreaseBid:
		return true
	default:
		return false
	}
}

// Deposit opens a fresh purse owned by the caller, funds it with amount from
// the caller's account and forwards it as the funding source of one market
// operation. Whatever the operation did not pull is returned to the caller.
// The whole forward is a single atomic unit.
func (e *Engine) Deposit(caller [20]byte, amount *uint256.Int, entryPoint string, args DepositArgs) error {
	entryPoint = strings.TrimSpace(entryPoint)
	if !ValidEntryPoint(entryPoint) {
		return ErrInvalidEntryPoint
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	return e.execute("deposit", args.AssetID, true, func(op *operation) error {
		purse, err := e.ledger.CreatePurse(caller)
		if err != nil {
			return transferError("open purse", err)
		}
		if err := e.ledger.AccountToPurse(caller, purse, amount); err != nil {
			return transferError("fund purse", err)
		}
		switch entryPoint {
		case EntryPointBuy:
			buyer := orCaller(args.Buyer, caller)
			err = e.buy(op, caller, args.Contract, args.AssetID, buyer, amount, purse)
		case EntryPointBid:
			bidder := orCaller(args.Bidder, caller)
			err = e.placeBid(op, caller, args.Contract, args.AssetID, bidder, amount, purse)
		case EntryPointIncreaseBid:
			bidder := orCaller(args.Bidder, caller)
			err = e.increaseBid(op, caller, args.Contract, args.AssetID, bidder, amount, purse)
		}
		if err != nil {
			return err
		}
		leftover, err := e.ledger.PurseBalance(purse)
		if err != nil {
			return transferError("sweep purse", err)
		}
		if leftover.IsZero() {
			return nil
		}
		return transferError("sweep purse", e.ledger.PurseToAccount(purse, caller, leftover))
	})
}

func orCaller(id, caller [20]byte) [20]byte {
	if id == ([20]byte{}) {
		return caller
	}
	return id
}
