package market

import (
	"sort"

	"github.com/holiman/uint256"
)

// BidIndex returns the position of the bidder's entry or -1.
func (l *Listing) BidIndex(bidder [20]byte) int {
	for i, bid := range l.Bids {
		if bid.Bidder == bidder {
			return i
		}
	}
	return -1
}

// TopBid returns the standing best offer.
func (l *Listing) TopBid() (Bid, bool) {
	if len(l.Bids) == 0 {
		return Bid{}, false
	}
	return l.Bids[len(l.Bids)-1], true
}

// insertBid places the bid at the first index whose amount is not less than
// the new amount. Among equal amounts the older entries stay closer to the
// tail.
func (l *Listing) insertBid(bid Bid) {
	idx := sort.Search(len(l.Bids), func(i int) bool {
		return !l.Bids[i].Amount.Lt(bid.Amount)
	})
	l.Bids = append(l.Bids, Bid{})
	copy(l.Bids[idx+1:], l.Bids[idx:])
	l.Bids[idx] = bid
}

func (l *Listing) removeBidAt(idx int) Bid {
	bid := l.Bids[idx]
	l.Bids = append(l.Bids[:idx], l.Bids[idx+1:]...)
	if len(l.Bids) == 0 {
		l.Bids = nil
	}
	return bid
}

func (l *Listing) popTopBid() (Bid, bool) {
	if len(l.Bids) == 0 {
		return Bid{}, false
	}
	return l.removeBidAt(len(l.Bids) - 1), true
}

// EscrowedAmount returns the sum of all outstanding bid amounts.
func (l *Listing) EscrowedAmount() *uint256.Int {
	total := new(uint256.Int)
	for _, bid := range l.Bids {
		total.Add(total, bid.Amount)
	}
	return total
}
