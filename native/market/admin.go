package market

import (
	"fmt"

	"github.com/holiman/uint256"
)

// Init bootstraps the market parameters and opens the escrow purse. It may only
// be called once.
func (e *Engine) Init(genesis Genesis) error {
	return e.execute("init", "", false, func(op *operation) error {
		if _, ok, err := e.state.MarketParamsGet(); err != nil {
			return err
		} else if ok {
			return ErrAlreadyInitialized
		}
		minBid := genesis.MinBid
		if minBid == nil {
			minBid = DefaultMinBid
		}
		params := &Params{
			Owner:              genesis.Owner,
			FeeReceiver:        genesis.FeeReceiver,
			MarketAddress:      genesis.MarketAddress,
			FeeRate:            genesis.FeeRate,
			MinBid:             cloneAmount(minBid),
			SupportedContracts: append([][20]byte(nil), genesis.SupportedContracts...),
		}
		if err := params.Validate(); err != nil {
			return err
		}
		purse, err := e.ledger.CreatePurse(params.MarketAddress)
		if err != nil {
			return transferError("open escrow", err)
		}
		params.EscrowPurse = purse
		if err := e.state.MarketParamsPut(params); err != nil {
			return err
		}
		op.emit(NewParamsUpdatedEvent("init", params))
		return nil
	})
}

// admin runs an owner-gated parameter update. Administrative calls bypass the
// module pause so the owner can always recover funds.
func (e *Engine) admin(name string, caller [20]byte, fn func(op *operation, params *Params) error) error {
	return e.execute(name, "", false, func(op *operation) error {
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		if params.Owner != caller {
			return ErrNotOwner
		}
		if err := fn(op, params); err != nil {
			return err
		}
		if err := params.Validate(); err != nil {
			return err
		}
		if err := e.state.MarketParamsPut(params); err != nil {
			return err
		}
		op.emit(NewParamsUpdatedEvent(name, params))
		return nil
	})
}

// RunAsOwner is Run restricted to the market owner. It backs operator actions
// such as minting that sit outside the market parameters.
func (e *Engine) RunAsOwner(name string, caller [20]byte, fn func() error) error {
	return e.execute(name, "", false, func(*operation) error {
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		if params.Owner != caller {
			return ErrNotOwner
		}
		return fn()
	})
}

// SetAssetSupport enables or disables trading for an asset contract.
func (e *Engine) SetAssetSupport(caller, contract [20]byte, enabled bool) error {
	return e.admin("set_asset_support", caller, func(_ *operation, params *Params) error {
		if contract == ([20]byte{}) {
			return fmt.Errorf("%w: asset contract required", ErrInvalidParams)
		}
		filtered := params.SupportedContracts[:0:0]
		for _, existing := range params.SupportedContracts {
			if existing != contract {
				filtered = append(filtered, existing)
			}
		}
		if enabled {
			filtered = append(filtered, contract)
		}
		params.SupportedContracts = filtered
		return nil
	})
}

// ChangeFee sets the fee rate in thousandths.
func (e *Engine) ChangeFee(caller [20]byte, rate uint64) error {
	return e.admin("change_fee", caller, func(_ *operation, params *Params) error {
		if rate > MaxFeeRate {
			return ErrFeeTooHigh
		}
		params.FeeRate = rate
		return nil
	})
}

func (e *Engine) TransferOwner(caller, newOwner [20]byte) error {
	return e.admin("transfer_owner", caller, func(_ *operation, params *Params) error {
		params.Owner = newOwner
		return nil
	})
}

func (e *Engine) SetFeeReceiver(caller, receiver [20]byte) error {
	return e.admin("set_fee_receiver", caller, func(_ *operation, params *Params) error {
		params.FeeReceiver = receiver
		return nil
	})
}

// SetMinBid changes the anti-spam floor for new bids.
func (e *Engine) SetMinBid(caller [20]byte, minBid *uint256.Int) error {
	return e.admin("set_min_bid", caller, func(_ *operation, params *Params) error {
		params.MinBid = cloneAmount(minBid)
		return nil
	})
}

// EmergencyWithdrawFunds moves amount out of the escrow purse to the owner's
// account. Listings are not adjusted.
func (e *Engine) EmergencyWithdrawFunds(caller [20]byte, amount *uint256.Int) error {
	return e.admin("emergency_withdraw_funds", caller, func(_ *operation, params *Params) error {
		if amount == nil || amount.IsZero() {
			return ErrZeroAmount
		}
		return e.payout(params, params.Owner, amount)
	})
}

// EmergencyWithdrawAssets moves assets held in market custody to the owner.
// Listings are not adjusted.
func (e *Engine) EmergencyWithdrawAssets(caller, contract [20]byte, assetIDs []string) error {
	return e.admin("emergency_withdraw_assets", caller, func(_ *operation, params *Params) error {
		if len(assetIDs) == 0 {
			return ErrMissingAssetID
		}
		err := e.ledger.TransferAsset(contract, params.MarketAddress, params.MarketAddress, params.Owner, assetIDs)
		return transferError("asset custody", err)
	})
}
