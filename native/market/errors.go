package market

import (
	"errors"
	"fmt"

	nativecommon "nftmarket/native/common"
)

// Error kinds. Every error returned by the engine wraps exactly one of these so
// callers can branch with errors.Is.
var (
	ErrValidation    = errors.New("validation error")
	ErrAuthorization = errors.New("authorization error")
	ErrState         = errors.New("state error")
	ErrFunds         = errors.New("funds error")
	ErrTransfer      = errors.New("transfer failure")
)

var (
	ErrAskTooLow           = fmt.Errorf("%w: ask price must be positive", ErrValidation)
	ErrZeroAmount          = fmt.Errorf("%w: amount must be positive", ErrValidation)
	ErrMissingAssetID      = fmt.Errorf("%w: asset id required", ErrValidation)
	ErrAssetMismatch       = fmt.Errorf("%w: asset contract or id does not match listing", ErrValidation)
	ErrUnsupportedContract = fmt.Errorf("%w: asset contract not supported", ErrValidation)
	ErrInvalidEntryPoint   = fmt.Errorf("%w: deposit entry point not allowed", ErrValidation)
	ErrInvalidParams       = fmt.Errorf("%w: invalid market parameters", ErrValidation)

	ErrNotSeller     = fmt.Errorf("%w: caller is not the seller", ErrAuthorization)
	ErrNotOwner      = fmt.Errorf("%w: caller is not the contract owner", ErrAuthorization)
	ErrNotBidder     = fmt.Errorf("%w: caller is not the bidder", ErrAuthorization)
	ErrNotPurseOwner = fmt.Errorf("%w: caller does not own the funding source", ErrAuthorization)

	ErrNotInitialized     = fmt.Errorf("%w: market not initialised", ErrState)
	ErrNotActive          = fmt.Errorf("%w: listing is not active", ErrState)
	ErrListingNotFound    = fmt.Errorf("%w: listing not found", ErrState)
	ErrAlreadyBidding     = fmt.Errorf("%w: bidder already has an outstanding bid", ErrState)
	ErrBidNotFound        = fmt.Errorf("%w: bid not found", ErrState)
	ErrBidMismatch        = fmt.Errorf("%w: bid not present in the book", ErrState)
	ErrAlreadyInitialized = fmt.Errorf("%w: market already initialised", ErrState)

	ErrBidTooLow           = fmt.Errorf("%w: bid below minimum", ErrFunds)
	ErrInsufficientPayment = fmt.Errorf("%w: paid amount below ask price", ErrFunds)
	ErrFeeTooHigh          = fmt.Errorf("%w: fee rate above ceiling", ErrFunds)
	ErrAmountOverflow      = fmt.Errorf("%w: amount overflows 256 bits", ErrFunds)
)

var (
	errNilState  = errors.New("market engine: state not configured")
	errNilLedger = errors.New("market engine: ledger not configured")
)

// transferError tags a ledger or custody failure as a TransferFailure while
// keeping the underlying cause inspectable.
func transferError(action string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s: %w", ErrTransfer, action, err)
}

// ErrorKind returns a stable label for the error's taxonomy kind. It is used as
// a metrics label and mapped onto RPC error codes.
func ErrorKind(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTransfer):
		return "transfer"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrAuthorization):
		return "authorization"
	case errors.Is(err, ErrState):
		return "state"
	case errors.Is(err, ErrFunds):
		return "funds"
	case errors.Is(err, nativecommon.ErrModulePaused):
		return "paused"
	default:
		return "internal"
	}
}
