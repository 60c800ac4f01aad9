package market

import (
	"github.com/holiman/uint256"
)

// List posts an ask for the asset. An unlisted asset is pulled into market
// custody; relisting an active asset behaves like a price change. When the ask
// does not exceed the best outstanding bid the asset is sold to that bidder at
// the ask price instead of being listed.
func (e *Engine) List(caller, contract [20]byte, assetID string, ask *uint256.Int) error {
	return e.execute("list", assetID, true, func(op *operation) error {
		return e.list(op, caller, contract, assetID, ask)
	})
}

func (e *Engine) list(op *operation, caller, contract [20]byte, assetID string, ask *uint256.Int) error {
	id, err := normalizeAssetID(assetID)
	if err != nil {
		return err
	}
	if ask == nil || ask.IsZero() {
		return ErrAskTooLow
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if err := checkSupported(params, contract); err != nil {
		return err
	}
	listing, err := e.loadOrNew(contract, id)
	if err != nil {
		return err
	}
	if err := checkAsset(listing, contract, id); err != nil {
		return err
	}
	wasActive := listing.Active()
	holder := caller
	if wasActive {
		if listing.Ask.Seller != caller {
			return ErrNotSeller
		}
		holder = params.MarketAddress
	}
	price := cloneAmount(ask)
	matched, err := e.matchTopBid(op, params, listing, caller, holder, price)
	if err != nil || matched {
		return err
	}
	listing.Ask = &Ask{Seller: caller, Price: price}
	if err := e.storeListing(listing); err != nil {
		return err
	}
	if !wasActive {
		if err := e.moveAsset(params, listing, caller, params.MarketAddress); err != nil {
			return err
		}
	}
	op.emit(NewListedEvent(listing))
	return nil
}

// ChangePrice moves the ask of an active listing. A price at or below the best
// bid settles against that bid.
func (e *Engine) ChangePrice(caller [20]byte, assetID string, price *uint256.Int) error {
	return e.execute("change_price", assetID, true, func(op *operation) error {
		id, err := normalizeAssetID(assetID)
		if err != nil {
			return err
		}
		if price == nil || price.IsZero() {
			return ErrAskTooLow
		}
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		listing, err := e.loadListing(id)
		if err != nil {
			return err
		}
		if !listing.Active() {
			return ErrNotActive
		}
		if listing.Ask.Seller != caller {
			return ErrNotSeller
		}
		ask := cloneAmount(price)
		matched, err := e.matchTopBid(op, params, listing, caller, params.MarketAddress, ask)
		if err != nil || matched {
			return err
		}
		listing.Ask.Price = ask
		if err := e.storeListing(listing); err != nil {
			return err
		}
		op.emit(NewPriceChangedEvent(listing))
		return nil
	})
}

// AcceptBid sells the asset to the named bid regardless of the ask. The
// bidder and amount must match a book entry exactly.
func (e *Engine) AcceptBid(caller [20]byte, assetID string, bidder [20]byte, price *uint256.Int) error {
	return e.execute("accept_bid", assetID, true, func(op *operation) error {
		id, err := normalizeAssetID(assetID)
		if err != nil {
			return err
		}
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		listing, err := e.loadListing(id)
		if err != nil {
			return err
		}
		if !listing.Active() {
			return ErrNotActive
		}
		if listing.Ask.Seller != caller {
			return ErrNotSeller
		}
		idx := listing.BidIndex(bidder)
		if idx < 0 || price == nil || !listing.Bids[idx].Amount.Eq(price) {
			return ErrBidMismatch
		}
		bid := listing.removeBidAt(idx)
		return e.settle(op, params, trade{
			listing:      listing,
			seller:       caller,
			counterparty: bid.Bidder,
			holder:       params.MarketAddress,
			price:        bid.Amount,
		})
	})
}

// Buy purchases an active listing at its ask. Only the ask is pulled from the
// funding source, which must belong to the caller. An outstanding bid of the
// buyer is refunded first.
func (e *Engine) Buy(caller, contract [20]byte, assetID string, buyer [20]byte, paid *uint256.Int, source [32]byte) error {
	return e.execute("buy", assetID, true, func(op *operation) error {
		return e.buy(op, caller, contract, assetID, buyer, paid, source)
	})
}

func (e *Engine) buy(op *operation, caller, contract [20]byte, assetID string, buyer [20]byte, paid *uint256.Int, source [32]byte) error {
	id, err := normalizeAssetID(assetID)
	if err != nil {
		return err
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if err := checkSupported(params, contract); err != nil {
		return err
	}
	listing, err := e.loadOrNew(contract, id)
	if err != nil {
		return err
	}
	if err := checkAsset(listing, contract, id); err != nil {
		return err
	}
	if !listing.Active() {
		return ErrNotActive
	}
	if paid == nil || paid.Lt(listing.Ask.Price) {
		return ErrInsufficientPayment
	}
	if err := e.authorizeSource(caller, source); err != nil {
		return err
	}
	if idx := listing.BidIndex(buyer); idx >= 0 {
		prior := listing.removeBidAt(idx)
		if err := e.payout(params, buyer, prior.Amount); err != nil {
			return err
		}
	}
	price := cloneAmount(listing.Ask.Price)
	if err := e.pull(params, source, price); err != nil {
		return err
	}
	return e.settle(op, params, trade{
		listing:      listing,
		seller:       listing.Ask.Seller,
		counterparty: buyer,
		holder:       params.MarketAddress,
		price:        price,
	})
}

// PlaceBid adds a bid to the book, escrowing the full amount. A bid meeting an
// active ask settles immediately and only the ask is pulled.
func (e *Engine) PlaceBid(caller, contract [20]byte, assetID string, bidder [20]byte, amount *uint256.Int, source [32]byte) error {
	return e.execute("bid", assetID, true, func(op *operation) error {
		return e.placeBid(op, caller, contract, assetID, bidder, amount, source)
	})
}

func (e *Engine) placeBid(op *operation, caller, contract [20]byte, assetID string, bidder [20]byte, amount *uint256.Int, source [32]byte) error {
	id, err := normalizeAssetID(assetID)
	if err != nil {
		return err
	}
	if amount == nil || amount.IsZero() {
		return ErrZeroAmount
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if amount.Lt(params.MinBid) {
		return ErrBidTooLow
	}
	if err := checkSupported(params, contract); err != nil {
		return err
	}
	listing, err := e.loadOrNew(contract, id)
	if err != nil {
		return err
	}
	if err := checkAsset(listing, contract, id); err != nil {
		return err
	}
	if listing.BidIndex(bidder) >= 0 {
		return ErrAlreadyBidding
	}
	if err := e.authorizeSource(caller, source); err != nil {
		return err
	}
	if listing.Active() && !amount.Lt(listing.Ask.Price) {
		price := cloneAmount(listing.Ask.Price)
		if err := e.pull(params, source, price); err != nil {
			return err
		}
		return e.settle(op, params, trade{
			listing:      listing,
			seller:       listing.Ask.Seller,
			counterparty: bidder,
			holder:       params.MarketAddress,
			price:        price,
		})
	}
	value := cloneAmount(amount)
	if err := e.pull(params, source, value); err != nil {
		return err
	}
	listing.insertBid(Bid{Bidder: bidder, Amount: value})
	if err := e.storeListing(listing); err != nil {
		return err
	}
	op.emit(NewBidPlacedEvent(listing, bidder, value))
	return nil
}

// RevokeBid withdraws the caller's bid and refunds the escrowed amount.
func (e *Engine) RevokeBid(caller, contract [20]byte, assetID string) error {
	return e.execute("revoke_bid", assetID, true, func(op *operation) error {
		id, err := normalizeAssetID(assetID)
		if err != nil {
			return err
		}
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		listing, err := e.loadListing(id)
		if err != nil {
			return err
		}
		if err := checkAsset(listing, contract, id); err != nil {
			return err
		}
		idx := listing.BidIndex(caller)
		if idx < 0 {
			return ErrBidNotFound
		}
		bid := listing.removeBidAt(idx)
		if err := e.storeListing(listing); err != nil {
			return err
		}
		if err := e.payout(params, caller, bid.Amount); err != nil {
			return err
		}
		op.emit(NewBidRevokedEvent(listing, caller, bid.Amount))
		return nil
	})
}

// IncreaseBid raises the caller's bid by added. If the new total meets an
// active ask only the shortfall against the ask is pulled and the trade
// settles at the ask.
func (e *Engine) IncreaseBid(caller, contract [20]byte, assetID string, bidder [20]byte, added *uint256.Int, source [32]byte) error {
	return e.execute("increase_bid", assetID, true, func(op *operation) error {
		return e.increaseBid(op, caller, contract, assetID, bidder, added, source)
	})
}

func (e *Engine) increaseBid(op *operation, caller, contract [20]byte, assetID string, bidder [20]byte, added *uint256.Int, source [32]byte) error {
	id, err := normalizeAssetID(assetID)
	if err != nil {
		return err
	}
	if added == nil || added.IsZero() {
		return ErrZeroAmount
	}
	params, err := e.loadParams()
	if err != nil {
		return err
	}
	if err := checkSupported(params, contract); err != nil {
		return err
	}
	listing, err := e.loadListing(id)
	if err != nil {
		return err
	}
	if err := checkAsset(listing, contract, id); err != nil {
		return err
	}
	if caller != bidder {
		return ErrNotBidder
	}
	idx := listing.BidIndex(bidder)
	if idx < 0 {
		return ErrBidNotFound
	}
	if err := e.authorizeSource(caller, source); err != nil {
		return err
	}
	old := listing.Bids[idx].Amount
	total, overflow := new(uint256.Int).AddOverflow(old, added)
	if overflow {
		return ErrAmountOverflow
	}
	if listing.Active() && !total.Lt(listing.Ask.Price) {
		price := cloneAmount(listing.Ask.Price)
		listing.removeBidAt(idx)
		if old.Lt(price) {
			shortfall := new(uint256.Int).Sub(price, old)
			if err := e.pull(params, source, shortfall); err != nil {
				return err
			}
		} else if err := e.payout(params, bidder, new(uint256.Int).Sub(old, price)); err != nil {
			return err
		}
		return e.settle(op, params, trade{
			listing:      listing,
			seller:       listing.Ask.Seller,
			counterparty: bidder,
			holder:       params.MarketAddress,
			price:        price,
		})
	}
	if err := e.pull(params, source, added); err != nil {
		return err
	}
	listing.removeBidAt(idx)
	listing.insertBid(Bid{Bidder: bidder, Amount: total})
	if err := e.storeListing(listing); err != nil {
		return err
	}
	op.emit(NewBidIncreasedEvent(listing, bidder, total))
	return nil
}

// Revoke withdraws the seller's ask and returns custody. Bids are untouched.
func (e *Engine) Revoke(caller, contract [20]byte, assetID string) error {
	return e.execute("revoke", assetID, true, func(op *operation) error {
		id, err := normalizeAssetID(assetID)
		if err != nil {
			return err
		}
		params, err := e.loadParams()
		if err != nil {
			return err
		}
		listing, err := e.loadListing(id)
		if err != nil {
			return err
		}
		if err := checkAsset(listing, contract, id); err != nil {
			return err
		}
		if !listing.Active() {
			return ErrNotActive
		}
		if listing.Ask.Seller != caller {
			return ErrNotSeller
		}
		ask := *listing.Ask
		listing.Ask = nil
		if err := e.storeListing(listing); err != nil {
			return err
		}
		if err := e.moveAsset(params, listing, params.MarketAddress, ask.Seller); err != nil {
			return err
		}
		op.emit(NewRevokedEvent(listing, ask))
		return nil
	})
}
