package state

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"nftmarket/native/market"
)

type storedBid struct {
	Bidder [20]byte
	Amount *big.Int
}

type storedListing struct {
	AssetID  string
	Contract [20]byte
	Active   bool
	Seller   [20]byte
	Price    *big.Int
	Bids     []storedBid
}

type storedParams struct {
	Owner              [20]byte
	FeeReceiver        [20]byte
	MarketAddress      [20]byte
	FeeRate            uint64
	MinBid             *big.Int
	EscrowPurse        [32]byte
	SupportedContracts [][20]byte
}

func newStoredListing(l *market.Listing) *storedListing {
	stored := &storedListing{AssetID: l.AssetID, Contract: l.Contract, Price: big.NewInt(0)}
	if l.Ask != nil {
		stored.Active = true
		stored.Seller = l.Ask.Seller
		stored.Price = toBig(l.Ask.Price)
	}
	stored.Bids = make([]storedBid, len(l.Bids))
	for i, bid := range l.Bids {
		stored.Bids[i] = storedBid{Bidder: bid.Bidder, Amount: toBig(bid.Amount)}
	}
	return stored
}

func (s *storedListing) toListing() (*market.Listing, error) {
	l := &market.Listing{AssetID: s.AssetID, Contract: s.Contract}
	if s.Active {
		price, err := fromBig(s.Price)
		if err != nil {
			return nil, err
		}
		l.Ask = &market.Ask{Seller: s.Seller, Price: price}
	}
	if len(s.Bids) > 0 {
		l.Bids = make([]market.Bid, len(s.Bids))
		for i, bid := range s.Bids {
			amount, err := fromBig(bid.Amount)
			if err != nil {
				return nil, err
			}
			l.Bids[i] = market.Bid{Bidder: bid.Bidder, Amount: amount}
		}
	}
	return l, nil
}

// MarketListingGet loads the listing stored for the asset identifier.
func (m *Manager) MarketListingGet(assetID string) (*market.Listing, bool, error) {
	id := strings.TrimSpace(assetID)
	if id == "" {
		return nil, false, fmt.Errorf("market: asset id required")
	}
	var stored storedListing
	ok, err := m.KVGet(marketListingKey(id), &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	listing, err := stored.toListing()
	if err != nil {
		return nil, false, err
	}
	return listing, true, nil
}

// MarketListingPut persists the listing and records its identifier in the
// listing index.
func (m *Manager) MarketListingPut(l *market.Listing) error {
	if l == nil {
		return fmt.Errorf("market: nil listing")
	}
	id := strings.TrimSpace(l.AssetID)
	if id == "" {
		return fmt.Errorf("market: asset id required")
	}
	if err := m.KVPut(marketListingKey(id), newStoredListing(l)); err != nil {
		return err
	}
	return m.KVAppend(marketListingIndexKey, []byte(id))
}

// MarketListingIDs returns the identifiers of every listing ever stored, in
// insertion order.
func (m *Manager) MarketListingIDs() ([]string, error) {
	var raw [][]byte
	if err := m.KVGetList(marketListingIndexKey, &raw); err != nil {
		return nil, err
	}
	ids := make([]string, len(raw))
	for i, id := range raw {
		ids[i] = string(id)
	}
	return ids, nil
}

func (m *Manager) MarketParamsGet() (*market.Params, bool, error) {
	var stored storedParams
	ok, err := m.KVGet(marketParamsKey, &stored)
	if err != nil || !ok {
		return nil, ok, err
	}
	minBid, err := fromBig(stored.MinBid)
	if err != nil {
		return nil, false, err
	}
	return &market.Params{
		Owner:              stored.Owner,
		FeeReceiver:        stored.FeeReceiver,
		MarketAddress:      stored.MarketAddress,
		FeeRate:            stored.FeeRate,
		MinBid:             minBid,
		EscrowPurse:        stored.EscrowPurse,
		SupportedContracts: stored.SupportedContracts,
	}, true, nil
}

func (m *Manager) MarketParamsPut(p *market.Params) error {
	if p == nil {
		return fmt.Errorf("market: nil params")
	}
	return m.KVPut(marketParamsKey, &storedParams{
		Owner:              p.Owner,
		FeeReceiver:        p.FeeReceiver,
		MarketAddress:      p.MarketAddress,
		FeeRate:            p.FeeRate,
		MinBid:             toBig(p.MinBid),
		EscrowPurse:        p.EscrowPurse,
		SupportedContracts: p.SupportedContracts,
	})
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("state: amount %s overflows 256 bits", v)
	}
	return out, nil
}
