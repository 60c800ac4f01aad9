package market

import (
	"strconv"

	"github.com/holiman/uint256"

	"nftmarket/core/types"
	"nftmarket/crypto"
)

const (
	EventTypeListed         = "market.listed"
	EventTypePriceChanged   = "market.price_changed"
	EventTypeRevoked        = "market.revoked"
	EventTypeTradeCompleted = "market.trade_completed"
	EventTypeBidPlaced      = "market.bid_placed"
	EventTypeBidIncreased   = "market.bid_increased"
	EventTypeBidRevoked     = "market.bid_revoked"
	EventTypeParamsUpdated  = "market.params_updated"
)

type marketEvent struct {
	evt *types.Event
}

func (e marketEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

func (e marketEvent) Event() *types.Event { return e.evt }

// NewListedEvent returns the payload emitted when an ask is posted.
func NewListedEvent(l *Listing) *types.Event {
	evt := newListingEvent(EventTypeListed, l)
	if l.Ask != nil {
		evt.Attributes["price"] = amountString(l.Ask.Price)
	}
	return evt
}

// NewPriceChangedEvent returns the payload emitted when the seller moves the
// ask without matching the book.
func NewPriceChangedEvent(l *Listing) *types.Event {
	evt := newListingEvent(EventTypePriceChanged, l)
	if l.Ask != nil {
		evt.Attributes["price"] = amountString(l.Ask.Price)
	}
	return evt
}

// NewRevokedEvent returns the payload emitted when the seller withdraws the
// supplied ask.
func NewRevokedEvent(l *Listing, ask Ask) *types.Event {
	evt := newListingEvent(EventTypeRevoked, l)
	evt.Attributes["seller"] = crypto.FormatAccount(ask.Seller)
	evt.Attributes["price"] = amountString(ask.Price)
	return evt
}

// NewTradeCompletedEvent returns the payload emitted by every settlement.
func NewTradeCompletedEvent(l *Listing, seller, buyer [20]byte, price, fee *uint256.Int) *types.Event {
	evt := newListingEvent(EventTypeTradeCompleted, l)
	evt.Attributes["seller"] = crypto.FormatAccount(seller)
	evt.Attributes["buyer"] = crypto.FormatAccount(buyer)
	evt.Attributes["price"] = amountString(price)
	evt.Attributes["fee"] = amountString(fee)
	return evt
}

// NewBidPlacedEvent returns the payload emitted when a bid enters the book.
func NewBidPlacedEvent(l *Listing, bidder [20]byte, value *uint256.Int) *types.Event {
	return newBidEvent(EventTypeBidPlaced, l, bidder, value)
}

// NewBidIncreasedEvent returns the payload emitted when a bid is raised
// without crossing the ask.
func NewBidIncreasedEvent(l *Listing, bidder [20]byte, value *uint256.Int) *types.Event {
	return newBidEvent(EventTypeBidIncreased, l, bidder, value)
}

// NewBidRevokedEvent returns the payload emitted when a bidder withdraws.
func NewBidRevokedEvent(l *Listing, bidder [20]byte, value *uint256.Int) *types.Event {
	evt := newBidEvent(EventTypeBidRevoked, l, bidder, value)
	evt.Attributes["revoked"] = "true"
	return evt
}

// NewParamsUpdatedEvent returns the payload emitted by administrative
// operations.
func NewParamsUpdatedEvent(action string, p *Params) *types.Event {
	attrs := map[string]string{"action": action}
	if p != nil {
		attrs["owner"] = crypto.FormatAccount(p.Owner)
		attrs["feeReceiver"] = crypto.FormatAccount(p.FeeReceiver)
		attrs["feeRate"] = strconv.FormatUint(p.FeeRate, 10)
		attrs["minBid"] = amountString(p.MinBid)
	}
	return &types.Event{Type: EventTypeParamsUpdated, Attributes: attrs}
}

func newBidEvent(eventType string, l *Listing, bidder [20]byte, value *uint256.Int) *types.Event {
	evt := newListingEvent(eventType, l)
	evt.Attributes["bidder"] = crypto.FormatAccount(bidder)
	evt.Attributes["value"] = amountString(value)
	return evt
}

func newListingEvent(eventType string, l *Listing) *types.Event {
	attrs := make(map[string]string)
	if l == nil {
		return &types.Event{Type: eventType, Attributes: attrs}
	}
	attrs["assetContract"] = crypto.FormatContract(l.Contract)
	attrs["assetId"] = l.AssetID
	seller, _ := l.Seller()
	attrs["seller"] = crypto.FormatAccount(seller)
	attrs["active"] = strconv.FormatBool(l.Active())
	return &types.Event{Type: eventType, Attributes: attrs}
}

func amountString(v *uint256.Int) string {
	if v == nil {
		return "0"
	}
	return v.Dec()
}
