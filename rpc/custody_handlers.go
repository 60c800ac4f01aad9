package rpc

import (
	"errors"
	"fmt"
	"net/http"

	"nftmarket/crypto"
	"nftmarket/native/bank"
	"nftmarket/native/collectible"
	"nftmarket/native/market"
)

type mintParams struct {
	Caller   string `json:"caller"`
	Contract string `json:"contract"`
	AssetID  string `json:"assetId"`
	Owner    string `json:"owner"`
}

type approvalParams struct {
	Caller   string `json:"caller"`
	Contract string `json:"contract"`
	Operator string `json:"operator"`
	Approved bool   `json:"approved"`
}

type ownerOfParams struct {
	Contract string `json:"contract"`
	AssetID  string `json:"assetId"`
}

type openPurseParams struct {
	Caller string `json:"caller"`
}

type fundPurseParams struct {
	Caller string `json:"caller"`
	Purse  string `json:"purse"`
	Amount string `json:"amount"`
}

type purseParams struct {
	Purse string `json:"purse"`
}

type purseJSON struct {
	Purse   string `json:"purse"`
	Owner   string `json:"owner"`
	Balance string `json:"balance"`
}

// SetCollectibles enables the collectible_* methods.
func (s *Server) SetCollectibles(c Collectibles) {
	s.collectibles = c
}

func (s *Server) custodyMethods(mut, read func(methodHandler) method) map[string]method {
	return map[string]method{
		"collectible_mint":              mut(s.handleMint),
		"collectible_setApprovalForAll": mut(s.handleSetApprovalForAll),
		"collectible_ownerOf":           read(s.handleOwnerOf),
		"bank_openPurse":                mut(s.handleOpenPurse),
		"bank_fundPurse":                mut(s.handleFundPurse),
		"bank_purse":                    read(s.handlePurse),
	}
}

func (s *Server) handleMint(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if s.collectibles == nil {
		return nil, serverError("collectibles not configured", nil)
	}
	var params mintParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	caller := p.account("caller", params.Caller)
	contract := p.contract("contract", params.Contract)
	owner := p.account("owner", params.Owner)
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	err := s.engine.RunAsOwner("collectible_mint", caller, func() error {
		return s.collectibles.Mint(contract, params.AssetID, owner)
	})
	if err != nil {
		return nil, custodyError(err)
	}
	return s.ownerResult(contract, params.AssetID)
}

func (s *Server) handleSetApprovalForAll(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if s.collectibles == nil {
		return nil, serverError("collectibles not configured", nil)
	}
	var params approvalParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	caller := p.account("caller", params.Caller)
	contract := p.contract("contract", params.Contract)
	operator := p.account("operator", params.Operator)
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	err := s.engine.Run("collectible_set_approval", func() error {
		return s.collectibles.SetApprovalForAll(contract, caller, operator, params.Approved)
	})
	if err != nil {
		return nil, custodyError(err)
	}
	return map[string]interface{}{
		"contract": crypto.FormatContract(contract),
		"owner":    crypto.FormatAccount(caller),
		"operator": crypto.FormatAccount(operator),
		"approved": params.Approved,
	}, nil
}

func (s *Server) handleOwnerOf(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if s.collectibles == nil {
		return nil, serverError("collectibles not configured", nil)
	}
	var params ownerOfParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	contract := p.contract("contract", params.Contract)
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	return s.ownerResult(contract, params.AssetID)
}

func (s *Server) handleOpenPurse(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if s.bank == nil {
		return nil, serverError("bank not configured", nil)
	}
	var params openPurseParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	caller := p.account("caller", params.Caller)
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	var id [32]byte
	err := s.engine.Run("bank_open_purse", func() error {
		var err error
		id, err = s.bank.CreatePurse(caller)
		return err
	})
	if err != nil {
		return nil, custodyError(err)
	}
	return s.purseResult(id)
}

func (s *Server) handleFundPurse(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if s.bank == nil {
		return nil, serverError("bank not configured", nil)
	}
	var params fundPurseParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	caller := p.account("caller", params.Caller)
	id := p.purse("purse", params.Purse)
	amount := p.amount("amount", params.Amount)
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	err := s.engine.Run("bank_fund_purse", func() error {
		owner, err := s.bank.PurseOwner(id)
		if err != nil {
			return err
		}
		if owner != caller {
			return market.ErrNotPurseOwner
		}
		return s.bank.AccountToPurse(caller, id, amount)
	})
	if err != nil {
		return nil, custodyError(err)
	}
	return s.purseResult(id)
}

func (s *Server) handlePurse(_ *http.Request, req *RPCRequest) (interface{}, *RPCError) {
	if s.bank == nil {
		return nil, serverError("bank not configured", nil)
	}
	var params purseParams
	if rpcErr := decodeParams(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	var p parser
	id := p.purse("purse", params.Purse)
	if p.err != nil {
		return nil, invalidParams(p.err)
	}
	return s.purseResult(id)
}

func (s *Server) ownerResult(contract [20]byte, assetID string) (interface{}, *RPCError) {
	owner, err := s.collectibles.OwnerOf(contract, assetID)
	if err != nil {
		return nil, custodyError(err)
	}
	return map[string]string{
		"contract": crypto.FormatContract(contract),
		"assetId":  assetID,
		"owner":    crypto.FormatAccount(owner),
	}, nil
}

func (s *Server) purseResult(id [32]byte) (interface{}, *RPCError) {
	owner, err := s.bank.PurseOwner(id)
	if err != nil {
		return nil, custodyError(err)
	}
	balance, err := s.bank.PurseBalance(id)
	if err != nil {
		return nil, custodyError(err)
	}
	return purseJSON{Purse: formatPurseID(id), Owner: crypto.FormatAccount(owner), Balance: balance.Dec()}, nil
}

// custodyError classifies collectible and bank failures with the market error
// kinds so clients see one code table.
func custodyError(err error) *RPCError {
	var kind error
	switch {
	case errors.Is(err, collectible.ErrAlreadyMinted),
		errors.Is(err, collectible.ErrUnknownAsset),
		errors.Is(err, bank.ErrUnknownPurse):
		kind = market.ErrState
	case errors.Is(err, collectible.ErrNotAssetOwner),
		errors.Is(err, collectible.ErrNotApproved):
		kind = market.ErrAuthorization
	case errors.Is(err, collectible.ErrMissingAssetID),
		errors.Is(err, collectible.ErrZeroIdentity),
		errors.Is(err, bank.ErrNilAmount):
		kind = market.ErrValidation
	case errors.Is(err, bank.ErrInsufficientFunds),
		errors.Is(err, bank.ErrBalanceOverflow):
		kind = market.ErrFunds
	}
	if kind != nil {
		err = fmt.Errorf("%w: %w", kind, err)
	}
	return marketError(err)
}
