package market

import (
	"sort"

	"github.com/holiman/uint256"
)

// Listing returns a copy of the stored listing for the asset.
func (e *Engine) Listing(assetID string) (*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	id, err := normalizeAssetID(assetID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	listing, err := e.loadListing(id)
	if err != nil {
		return nil, err
	}
	return listing.Clone(), nil
}

// Listings returns every stored listing ordered by asset id.
func (e *Engine) Listings() ([]*Listing, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	ids, err := e.state.MarketListingIDs()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	out := make([]*Listing, 0, len(ids))
	for _, id := range ids {
		listing, ok, err := e.state.MarketListingGet(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, listing.Clone())
		}
	}
	return out, nil
}

// Params returns a copy of the market configuration.
func (e *Engine) Params() (*Params, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	params, err := e.loadParams()
	if err != nil {
		return nil, err
	}
	return params.Clone(), nil
}

// EscrowBalance returns the balance of the market escrow purse.
func (e *Engine) EscrowBalance() (*uint256.Int, error) {
	params, err := e.Params()
	if err != nil {
		return nil, err
	}
	if e.ledger == nil {
		return nil, errNilLedger
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.PurseBalance(params.EscrowPurse)
}
