package market

import (
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// ListingState is the externally observable lifecycle phase of a listing.
type ListingState uint8

const (
	ListingUnlisted ListingState = iota
	ListingActive
)

func (s ListingState) String() string {
	switch s {
	case ListingUnlisted:
		return "unlisted"
	case ListingActive:
		return "active"
	default:
		return fmt.Sprintf("ListingState(%d)", uint8(s))
	}
}

// Ask is the standing sale offer of an active listing.
type Ask struct {
	Seller [20]byte
	Price  *uint256.Int
}

// Bid is a single entry of a listing's order book. The amount is held in the
// market escrow purse for as long as the bid is outstanding.
type Bid struct {
	Bidder [20]byte
	Amount *uint256.Int
}

// Listing is the per-asset record: an optional ask and the bid book. A nil Ask
// means the asset is not offered for sale; bids may still be outstanding.
// Bids are kept in ascending amount order with the best offer at the tail.
type Listing struct {
	AssetID  string
	Contract [20]byte
	Ask      *Ask
	Bids     []Bid
}

// NewListing returns the empty listing synthesised for an asset that has never
// been listed or bid on.
func NewListing(contract [20]byte, assetID string) *Listing {
	return &Listing{AssetID: assetID, Contract: contract}
}

// State reports the lifecycle phase derived from the ask.
func (l *Listing) State() ListingState {
	if l != nil && l.Ask != nil {
		return ListingActive
	}
	return ListingUnlisted
}

// Active reports whether a seller-posted ask is standing.
func (l *Listing) Active() bool { return l.State() == ListingActive }

// Seller returns the current seller, if any.
func (l *Listing) Seller() ([20]byte, bool) {
	if !l.Active() {
		return [20]byte{}, false
	}
	return l.Ask.Seller, true
}

// Empty reports whether the listing carries neither an ask nor bids.
func (l *Listing) Empty() bool {
	return l == nil || (l.Ask == nil && len(l.Bids) == 0)
}

// Clone returns a deep copy of the listing.
func (l *Listing) Clone() *Listing {
	if l == nil {
		return nil
	}
	clone := &Listing{AssetID: l.AssetID, Contract: l.Contract}
	if l.Ask != nil {
		clone.Ask = &Ask{Seller: l.Ask.Seller, Price: cloneAmount(l.Ask.Price)}
	}
	if len(l.Bids) > 0 {
		clone.Bids = make([]Bid, len(l.Bids))
		for i, bid := range l.Bids {
			clone.Bids[i] = Bid{Bidder: bid.Bidder, Amount: cloneAmount(bid.Amount)}
		}
	}
	return clone
}

// Validate checks the listing invariants: a non-empty asset id, a positive ask
// price when active, and a book sorted ascending by amount with no bidder
// appearing twice.
func (l *Listing) Validate() error {
	if l == nil {
		return fmt.Errorf("market: nil listing")
	}
	if strings.TrimSpace(l.AssetID) == "" {
		return ErrMissingAssetID
	}
	if l.Ask != nil {
		if l.Ask.Price == nil || l.Ask.Price.IsZero() {
			return fmt.Errorf("market: listing %s: %w", l.AssetID, ErrAskTooLow)
		}
		if l.Ask.Seller == ([20]byte{}) {
			return fmt.Errorf("market: listing %s: active without seller", l.AssetID)
		}
	}
	seen := make(map[[20]byte]struct{}, len(l.Bids))
	for i, bid := range l.Bids {
		if bid.Amount == nil || bid.Amount.IsZero() {
			return fmt.Errorf("market: listing %s: bid %d has no amount", l.AssetID, i)
		}
		if _, dup := seen[bid.Bidder]; dup {
			return fmt.Errorf("market: listing %s: duplicate bidder at %d", l.AssetID, i)
		}
		seen[bid.Bidder] = struct{}{}
		if i > 0 && l.Bids[i-1].Amount.Gt(bid.Amount) {
			return fmt.Errorf("market: listing %s: book not sorted at %d", l.AssetID, i)
		}
	}
	return nil
}

// Params is the market configuration record. It is persisted once at genesis
// and afterwards only changed through owner-gated operations.
type Params struct {
	Owner              [20]byte
	FeeReceiver        [20]byte
	MarketAddress      [20]byte
	FeeRate            uint64
	MinBid             *uint256.Int
	EscrowPurse        [32]byte
	SupportedContracts [][20]byte
}

// Clone returns a deep copy of the parameters.
func (p *Params) Clone() *Params {
	if p == nil {
		return nil
	}
	clone := *p
	clone.MinBid = cloneAmount(p.MinBid)
	clone.SupportedContracts = append([][20]byte(nil), p.SupportedContracts...)
	return &clone
}

// Supports reports whether assets of the supplied contract may be traded.
func (p *Params) Supports(contract [20]byte) bool {
	if p == nil {
		return false
	}
	for _, supported := range p.SupportedContracts {
		if supported == contract {
			return true
		}
	}
	return false
}

// Validate checks the configuration record.
func (p *Params) Validate() error {
	if p == nil {
		return fmt.Errorf("%w: nil params", ErrInvalidParams)
	}
	if p.Owner == ([20]byte{}) {
		return fmt.Errorf("%w: owner required", ErrInvalidParams)
	}
	if p.FeeReceiver == ([20]byte{}) {
		return fmt.Errorf("%w: fee receiver required", ErrInvalidParams)
	}
	if p.MarketAddress == ([20]byte{}) {
		return fmt.Errorf("%w: market address required", ErrInvalidParams)
	}
	if p.FeeRate > MaxFeeRate {
		return ErrFeeTooHigh
	}
	if p.MinBid == nil {
		return fmt.Errorf("%w: minimum bid required", ErrInvalidParams)
	}
	return nil
}

// Genesis carries the bootstrap configuration consumed by Engine.Init.
type Genesis struct {
	Owner              [20]byte
	FeeReceiver        [20]byte
	MarketAddress      [20]byte
	FeeRate            uint64
	MinBid             *uint256.Int
	SupportedContracts [][20]byte
}

func cloneAmount(v *uint256.Int) *uint256.Int {
	if v == nil {
		return new(uint256.Int)
	}
	return new(uint256.Int).Set(v)
}
