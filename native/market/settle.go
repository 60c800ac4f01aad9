package market

import (
	"github.com/holiman/uint256"
)

const (
	// FeeDenominator expresses fee rates in thousandths of the trade price.
	FeeDenominator = 1000
	// MaxFeeRate is the highest configurable fee rate (20%).
	MaxFeeRate = 200
)

// DefaultMinBid is the anti-spam floor applied to new bids: 100 whole coins at
// nine decimals.
var DefaultMinBid = uint256.NewInt(100_000_000_000)

// SplitFee divides a trade price into the platform fee and the seller's
// proceeds. The fee is rounded down.
func SplitFee(price *uint256.Int, rate uint64) (fee, proceeds *uint256.Int) {
	if price == nil {
		return new(uint256.Int), new(uint256.Int)
	}
	fee, overflow := new(uint256.Int).MulDivOverflow(price, uint256.NewInt(rate), uint256.NewInt(FeeDenominator))
	if overflow || fee.Gt(price) {
		fee = new(uint256.Int).Set(price)
	}
	proceeds = new(uint256.Int).Sub(price, fee)
	return fee, proceeds
}

// trade describes one settlement. The price must already sit in the market
// escrow purse. Holder is the identity currently holding custody of the asset.
type trade struct {
	listing      *Listing
	seller       [20]byte
	counterparty [20]byte
	holder       [20]byte
	price        *uint256.Int
}

// settle pays out the trade, clears the ask, persists the listing and only then
// hands custody of the asset to the counterparty so any callback observes the
// settled listing.
func (e *Engine) settle(op *operation, params *Params, t trade) error {
	fee, proceeds := SplitFee(t.price, params.FeeRate)
	if err := e.payout(params, t.seller, proceeds); err != nil {
		return err
	}
	if err := e.payout(params, params.FeeReceiver, fee); err != nil {
		return err
	}
	t.listing.Ask = nil
	if err := e.storeListing(t.listing); err != nil {
		return err
	}
	if err := e.moveAsset(params, t.listing, t.holder, t.counterparty); err != nil {
		return err
	}
	op.emit(NewTradeCompletedEvent(t.listing, t.seller, t.counterparty, t.price, fee))
	op.trades = append(op.trades, cloneAmount(t.price))
	return nil
}

// matchTopBid settles the listing against its best bid when that bid meets the
// ask. The excess of the bid over the ask is refunded to the bidder. It reports
// whether a trade happened.
func (e *Engine) matchTopBid(op *operation, params *Params, l *Listing, seller, holder [20]byte, ask *uint256.Int) (bool, error) {
	top, ok := l.TopBid()
	if !ok || top.Amount.Lt(ask) {
		return false, nil
	}
	l.popTopBid()
	excess := new(uint256.Int).Sub(top.Amount, ask)
	if err := e.payout(params, top.Bidder, excess); err != nil {
		return false, err
	}
	err := e.settle(op, params, trade{
		listing:      l,
		seller:       seller,
		counterparty: top.Bidder,
		holder:       holder,
		price:        ask,
	})
	return err == nil, err
}
