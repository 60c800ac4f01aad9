package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/holiman/uint256"

	"nftmarket/crypto"
	"nftmarket/native/market"
)

type listParams struct {
	Caller   string `json:"caller"`
	Contract string `json:"contract"`
	AssetID  string `json:"assetId"`
	Price    string `json:"price"`
}

type changePriceParams struct {
	Caller  string `json:"caller"`
	AssetID string `json:"assetId"`
	Price   string `json:"price"`
}

type acceptBidParams struct {
	Caller  string `json:"caller"`
	AssetID string `json:"assetId"`
	Bidder  string `json:"bidder"`
	Price   string `json:"price"`
}

type fundedParams struct {
	Caller   string `json:"caller"`
	Contract string `json:"contract"`
	AssetID  string `json:"assetId"`
	Buyer    string `json:"buyer,omitempty"`
	Bidder   string `json:"bidder,omitempty"`
	Amount   string `json:"amount"`
	Source   string `json:"source"`
}

type assetParams struct {
	Caller   string `json:"caller"`
	Contract string `json:"contract"`
	AssetID  string `json:"assetId"`
}

type depositParams struct {
	Caller     string `json:"caller"`
	Amount     string `json:"amount"`
	EntryPoint string `json:"entryPoint"`
	Contract   string `json:"contract"`
	AssetID    string `json:"assetId"`
	Buyer      string `json:"buyer,omitempty"`
	Bidder     string `json:"bidder,omitempty"`
}

type lookupParams struct {
	AssetID string `json:"assetId"`
}

type eventsParams struct {
	AssetID string `json:"assetId,omitempty"`
	Limit   int    `json:"limit,omitempty"`
}

type balanceParams struct {
	Address string `json:"address"`
}

type adminParams struct {
	Caller   string   `json:"caller"`
	Contract string   `json:"contract,omitempty"`
	Enabled  bool     `json:"enabled,omitempty"`
	FeeRate  uint64   `json:"feeRate,omitempty"`
	Address  string   `json:"address,omitempty"`
	Amount   string   `json:"amount,omitempty"`
	AssetIDs []string `json:"assetIds,omitempty"`
}

type bidJSON struct {
	Bidder string `json:"bidder"`
	Amount string `json:"amount"`
}

type listingJSON struct {
	AssetID  string    `json:"assetId"`
	Contract string    `json:"contract"`
	State    string    `json:"state"`
	Seller   string    `json:"seller,omitempty"`
	Price    string    `json:"price,omitempty"`
	Bids     []bidJSON `json:"bids"`
	Escrowed string    `json:"escrowed"`
}

type paramsJSON struct {
	Owner              string   `json:"owner"`
	FeeReceiver        string   `json:"feeReceiver"`
	MarketAddress      string   `json:"marketAddress"`
	FeeRate            uint64   `json:"feeRate"`
	MinBid             string   `json:"minBid"`
	EscrowPurse        string   `json:"escrowPurse"`
	EscrowBalance      string   `json:"escrowBalance"`
	SupportedContracts []string `json:"supportedContracts"`
}

type eventJSON struct {
	ID         string            `json:"id"`
	Sequence   uint64            `json:"sequence"`
	Type       string            `json:"type"`
	AssetID    string            `json:"assetId,omitempty"`
	Attributes map[string]string `json:"attributes"`
	CreatedAt  int64             `json:"createdAt"`
}

func (s *Server) registerMethods() map[string]method {
	mut := func(h methodHandler) method { return method{handler: h, mutating: true} }
	read := func(h methodHandler) method { return method{handler: h} }
	methods := map[string]method{
		"market_list":                    mut(s.handleList),
		"market_changePrice":             mut(s.handleChangePrice),
		"market_acceptBid":               mut(s.handleAcceptBid),
		"market_buy":                     mut(s.handleBuy),
		"market_bid":                     mut(s.handleBid),
		"market_revokeBid":               mut(s.handleRevokeBid),
		"market_increaseBid":             mut(s.handleIncreaseBid),
		"market_revoke":                  mut(s.handleRevoke),
		"market_deposit":                 mut(s.handleDeposit),
		"market_setAssetSupport":         mut(s.handleSetAssetSupport),
		"market_changeFee":               mut(s.handleChangeFee),
		"market_transferOwner":           mut(s.handleTransferOwner),
		"market_setFeeReceiver":          mut(s.handleSetFeeReceiver),
		"market_setMinBid":               mut(s.handleSetMinBid),
		"market_emergencyWithdrawFunds":  mut(s.handleEmergencyWithdrawFunds),
		"market_emergencyWithdrawAssets": mut(s.handleEmergencyWithdrawAssets),
		"market_getListing":              read(s.handleGetListing),
		"market_listings":                read(s.handleListings),
		"market_params":                  read(s.handleParams),
		"market_events":                  read(s.handleEvents),
		"bank_balance":                   read(s.handleBalance),
	}
	for name, m := range s.custodyMethods(mut, read) {
		methods[name] = m
	}
	return methods
}

func decodeParams(req *RPCRequest, dst interface{}) *RPCError {
	if len(req.Params) != 1 {
		return invalidParams(fmt.Errorf("exactly one parameter object expected"))
	}
	if err := json.Unmarshal(req.Params[0], dst); err != nil {
		return invalidParams(err)
	}
	return nil
}

func (s *Server) handleList(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params listParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	caller := p.account("caller", params.Caller)
	contract := p.contract("contract", params.Contract)
	price := p.amount("price", params.Price)
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	if err := s.engine.List(caller, contract, params.AssetID, price); err != nil {
		return nil, marketError(err)
	}
	return s.listingResult(params.AssetID)
}

func (s *Server) handleChangePrice(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params changePriceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	caller := p.account("caller", params.Caller)
	price := p.amount("price", params.Price)
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	if err := s.engine.ChangePrice(caller, params.AssetID, price); err != nil {
		return nil, marketError(err)
	}
	return s.listingResult(params.AssetID)
}

func (s *Server) handleAcceptBid(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params acceptBidParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	caller := p.account("caller", params.Caller)
	bidder := p.account("bidder", params.Bidder)
	price := p.amount("price", params.Price)
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	if err := s.engine.AcceptBid(caller, params.AssetID, bidder, price); err != nil {
		return nil, marketError(err)
	}
	return s.listingResult(params.AssetID)
}

func (s *Server) handleBuy(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params fundedParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	caller := p.account("caller", params.Caller)
	contract := p.contract("contract", params.Contract)
	buyer := p.optionalAccount("buyer", params.Buyer, caller)
	amount := p.amount("amount", params.Amount)
	source := p.purse("source", params.Source)
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	if err := s.engine.Buy(caller, contract, params.AssetID, buyer, amount, source); err != nil {
		return nil, marketError(err)
	}
	return s.listingResult(params.AssetID)
}

func (s *Server) handleBid(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params fundedParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	caller := p.account("caller", params.Caller)
	contract := p.contract("contract", params.Contract)
	bidder := p.optionalAccount("bidder", params.Bidder, caller)
	amount := p.amount("amount", params.Amount)
	source := p.purse("source", params.Source)
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	if err := s.engine.PlaceBid(caller, contract, params.AssetID, bidder, amount, source); err != nil {
		return nil, marketError(err)
	}
	return s.listingResult(params.AssetID)
}

func (s *Server) handleIncreaseBid(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params fundedParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	caller := p.account("caller", params.Caller)
	contract := p.contract("contract", params.Contract)
	bidder := p.optionalAccount("bidder", params.Bidder, caller)
	amount := p.amount("amount", params.Amount)
	source := p.purse("source", params.Source)
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	if err := s.engine.IncreaseBid(caller, contract, params.AssetID, bidder, amount, source); err != nil {
		return nil, marketError(err)
	}
	return s.listingResult(params.AssetID)
}

func (s *Server) handleRevokeBid(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.handleAssetAction(req, s.engine.RevokeBid)
}

func (s *Server) handleRevoke(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.handleAssetAction(req, s.engine.Revoke)
}

func (s *Server) handleAssetAction(req *RPCRequest, fn func(caller, contract [20]byte, assetID string) error) (interface{}, *RPCError) {
	var params assetParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	caller := p.account("caller", params.Caller)
	contract := p.contract("contract", params.Contract)
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	if err := fn(caller, contract, params.AssetID); err != nil {
		return nil, marketError(err)
	}
	return s.listingResult(params.AssetID)
}

func (s *Server) handleDeposit(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params depositParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	caller := p.account("caller", params.Caller)
	amount := p.amount("amount", params.Amount)
	args := market.DepositArgs{
		Contract: p.contract("contract", params.Contract),
		AssetID:  params.AssetID,
		Buyer:    p.optionalAccount("buyer", params.Buyer, [20]byte{}),
		Bidder:   p.optionalAccount("bidder", params.Bidder, [20]byte{}),
	}
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	if err := s.engine.Deposit(caller, amount, strings.TrimSpace(params.EntryPoint), args); err != nil {
		return nil, marketError(err)
	}
	return s.listingResult(params.AssetID)
}

func (s *Server) handleSetAssetSupport(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.handleAdmin(req, func(caller [20]byte, params adminParams, p *parser) error {
		contract := p.contract("contract", params.Contract)
		if p.err != nil {
			return p.err
		}
		return s.engine.SetAssetSupport(caller, contract, params.Enabled)
	})
}

func (s *Server) handleChangeFee(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.handleAdmin(req, func(caller [20]byte, params adminParams, _ *parser) error {
		return s.engine.ChangeFee(caller, params.FeeRate)
	})
}

func (s *Server) handleTransferOwner(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.handleAdmin(req, func(caller [20]byte, params adminParams, p *parser) error {
		owner := p.account("address", params.Address)
		if p.err != nil {
			return p.err
		}
		return s.engine.TransferOwner(caller, owner)
	})
}

func (s *Server) handleSetFeeReceiver(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.handleAdmin(req, func(caller [20]byte, params adminParams, p *parser) error {
		receiver := p.account("address", params.Address)
		if p.err != nil {
			return p.err
		}
		return s.engine.SetFeeReceiver(caller, receiver)
	})
}

func (s *Server) handleSetMinBid(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.handleAdmin(req, func(caller [20]byte, params adminParams, p *parser) error {
		minBid := p.amount("amount", params.Amount)
		if p.err != nil {
			return p.err
		}
		return s.engine.SetMinBid(caller, minBid)
	})
}

func (s *Server) handleEmergencyWithdrawFunds(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.handleAdmin(req, func(caller [20]byte, params adminParams, p *parser) error {
		amount := p.amount("amount", params.Amount)
		if p.err != nil {
			return p.err
		}
		return s.engine.EmergencyWithdrawFunds(caller, amount)
	})
}

func (s *Server) handleEmergencyWithdrawAssets(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	return s.handleAdmin(req, func(caller [20]byte, params adminParams, p *parser) error {
		contract := p.contract("contract", params.Contract)
		if len(params.AssetIDs) == 0 {
			p.fail(fmt.Errorf("assetIds required"))
		}
		if p.err != nil {
			return p.err
		}
		return s.engine.EmergencyWithdrawAssets(caller, contract, params.AssetIDs)
	})
}

// handleAdmin decodes the shared admin parameter object. Parse failures
// raised through the parser are reported as invalid params, engine errors by
// kind.
func (s *Server) handleAdmin(req *RPCRequest, fn func(caller [20]byte, params adminParams, p *parser) error) (interface{}, *RPCError) {
	var params adminParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	caller := p.account("caller", params.Caller)
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	if err := fn(caller, params, &p); err != nil {
		if p.err != nil {
			return nil, invalidParams(p.err)
		}
		return nil, marketError(err)
	}
	return s.handleParams(nil, &RPCRequest{})
}

func (s *Server) handleGetListing(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	var params lookupParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if strings.TrimSpace(params.AssetID) == "" {
		return nil, invalidParams(fmt.Errorf("assetId required"))
	}
	return s.listingResult(params.AssetID)
}

func (s *Server) handleListings(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	listings, err := s.engine.Listings()
	if err != nil {
		return nil, marketError(err)
	}
	out := make([]listingJSON, 0, len(listings))
	for _, l := range listings {
		out = append(out, formatListing(l))
	}
	return out, nil
}

func (s *Server) handleParams(_ *http.Request, _ *RPCRequest) (interface{}, *RPCError) {
	params, err := s.engine.Params()
	if err != nil {
		return nil, marketError(err)
	}
	balance, err := s.engine.EscrowBalance()
	if err != nil {
		return nil, marketError(err)
	}
	out := paramsJSON{
		Owner:              crypto.FormatAccount(params.Owner),
		FeeReceiver:        crypto.FormatAccount(params.FeeReceiver),
		MarketAddress:      crypto.FormatAccount(params.MarketAddress),
		FeeRate:            params.FeeRate,
		MinBid:             params.MinBid.Dec(),
		EscrowPurse:        formatPurseID(params.EscrowPurse),
		EscrowBalance:      balance.Dec(),
		SupportedContracts: make([]string, 0, len(params.SupportedContracts)),
	}
	for _, contract := range params.SupportedContracts {
		out.SupportedContracts = append(out.SupportedContracts, crypto.FormatContract(contract))
	}
	return out, nil
}

func (s *Server) handleEvents(r *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if s.archive == nil {
		return nil, serverError("event archive not configured", nil)
	}
	var params eventsParams
	if len(req.Params) > 0 {
		if rpcErr := decodeParams(req, &params); rpcErr != nil {
			return nil, rpcErr
		}
	}
	records, err := s.archive.Recent(r.Context(), params.AssetID, params.Limit)
	if err != nil {
		return nil, serverError("failed to query events", err)
	}
	out := make([]eventJSON, 0, len(records))
	for _, record := range records {
		evt, err := record.Decode()
		if err != nil {
			return nil, serverError("failed to decode event", err)
		}
		out = append(out, eventJSON{
			ID:         record.ID.String(),
			Sequence:   record.Sequence,
			Type:       evt.Type,
			AssetID:    record.AssetID,
			Attributes: evt.Attributes,
			CreatedAt:  record.CreatedAt.Unix(),
		})
	}
	return out, nil
}

func (s *Server) handleBalance(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if s.bank == nil {
		return nil, serverError("bank not configured", nil)
	}
	var params balanceParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	addr := p.account("address", params.Address)
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	balance, err := s.bank.Balance(addr)
	if err != nil {
		return nil, serverError("failed to load balance", err)
	}
	return map[string]string{"address": crypto.FormatAccount(addr), "balance": balance.Dec()}, nil
}

func (s *Server) listingResult(assetID string) (interface{}, *RPCError) {
	l, err := s.engine.Listing(assetID)
	if err != nil {
		return nil, marketError(err)
	}
	return formatListing(l), nil
}

func formatListing(l *market.Listing) listingJSON {
	out := listingJSON{
		AssetID:  l.AssetID,
		Contract: crypto.FormatContract(l.Contract),
		State:    l.State().String(),
		Bids:     make([]bidJSON, 0, len(l.Bids)),
		Escrowed: l.EscrowedAmount().Dec(),
	}
	if l.Ask != nil {
		out.Seller = crypto.FormatAccount(l.Ask.Seller)
		out.Price = l.Ask.Price.Dec()
	}
	for _, bid := range l.Bids {
		out.Bids = append(out.Bids, bidJSON{Bidder: crypto.FormatAccount(bid.Bidder), Amount: bid.Amount.Dec()})
	}
	return out
}

// parser accumulates the first parameter error so handlers can decode every
// field before checking once.
type parser struct {
	err error
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = err
	}
}

func (p *parser) account(field, value string) [20]byte {
	id, err := crypto.ParseIdentity(strings.TrimSpace(value), crypto.AccountPrefix)
	if err != nil {
		p.fail(fmt.Errorf("%s: %w", field, err))
	}
	return id
}

func (p *parser) optionalAccount(field, value string, fallback [20]byte) [20]byte {
	if strings.TrimSpace(value) == "" {
		return fallback
	}
	return p.account(field, value)
}

func (p *parser) contract(field, value string) [20]byte {
	id, err := crypto.ParseIdentity(strings.TrimSpace(value), crypto.ContractPrefix)
	if err != nil {
		p.fail(fmt.Errorf("%s: %w", field, err))
	}
	return id
}

func (p *parser) amount(field, value string) *uint256.Int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		p.fail(fmt.Errorf("%s required", field))
		return new(uint256.Int)
	}
	amount, err := uint256.FromDecimal(trimmed)
	if err != nil {
		p.fail(fmt.Errorf("%s: %w", field, err))
		return new(uint256.Int)
	}
	return amount
}

func (p *parser) purse(field, value string) [32]byte {
	var out [32]byte
	cleaned := strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(value), "0x"), "0X")
	if len(cleaned) != 64 {
		p.fail(fmt.Errorf("%s must be 32 bytes", field))
		return out
	}
	raw, err := hex.DecodeString(cleaned)
	if err != nil {
		p.fail(fmt.Errorf("%s: %w", field, err))
		return out
	}
	copy(out[:], raw)
	return out
}

func formatPurseID(id [32]byte) string {
	return "0x" + hex.EncodeToString(id[:])
}
