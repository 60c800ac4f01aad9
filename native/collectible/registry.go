// Package collectible implements the non-fungible asset contracts traded on
// the market. Each contract is identified by a 20-byte address; ownership and
// operator approvals live in shared state.
package collectible

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

var (
	ErrUnknownAsset   = errors.New("collectible: unknown asset")
	ErrAlreadyMinted  = errors.New("collectible: asset already minted")
	ErrNotAssetOwner  = errors.New("collectible: from is not the asset owner")
	ErrNotApproved    = errors.New("collectible: operator not approved")
	ErrMissingAssetID = errors.New("collectible: asset id required")
	ErrZeroIdentity   = errors.New("collectible: zero identity")
)

type registryState interface {
	CollectibleOwner(contract [20]byte, assetID string) ([20]byte, bool, error)
	CollectibleSetOwner(contract [20]byte, assetID string, owner [20]byte) error
	CollectibleApproved(contract, owner, operator [20]byte) (bool, error)
	CollectibleSetApproval(contract, owner, operator [20]byte, approved bool) error
}

// Registry tracks ownership of assets across every collectible contract.
type Registry struct {
	mu    sync.Mutex
	state registryState
}

func NewRegistry(state registryState) *Registry {
	return &Registry{state: state}
}

// Mint issues a new asset to owner.
func (r *Registry) Mint(contract [20]byte, assetID string, owner [20]byte) error {
	id := strings.TrimSpace(assetID)
	if id == "" {
		return ErrMissingAssetID
	}
	if owner == ([20]byte{}) || contract == ([20]byte{}) {
		return ErrZeroIdentity
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok, err := r.state.CollectibleOwner(contract, id); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrAlreadyMinted, id)
	}
	return r.state.CollectibleSetOwner(contract, id, owner)
}

func (r *Registry) OwnerOf(contract [20]byte, assetID string) ([20]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owner, ok, err := r.state.CollectibleOwner(contract, strings.TrimSpace(assetID))
	if err != nil {
		return [20]byte{}, err
	}
	if !ok {
		return [20]byte{}, fmt.Errorf("%w: %s", ErrUnknownAsset, assetID)
	}
	return owner, nil
}

// SetApprovalForAll lets operator move any asset of owner issued by contract.
func (r *Registry) SetApprovalForAll(contract, owner, operator [20]byte, approved bool) error {
	if owner == ([20]byte{}) || operator == ([20]byte{}) {
		return ErrZeroIdentity
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state.CollectibleSetApproval(contract, owner, operator, approved)
}

// TransferFrom moves every listed asset from from to to. The operator must be
// from itself or approved by it, and from must own each asset. Either all
// assets move or none do.
func (r *Registry) TransferFrom(contract, operator, from, to [20]byte, assetIDs []string) error {
	if to == ([20]byte{}) {
		return ErrZeroIdentity
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if operator != from {
		approved, err := r.state.CollectibleApproved(contract, from, operator)
		if err != nil {
			return err
		}
		if !approved {
			return ErrNotApproved
		}
	}
	ids := make([]string, 0, len(assetIDs))
	for _, raw := range assetIDs {
		id := strings.TrimSpace(raw)
		if id == "" {
			return ErrMissingAssetID
		}
		owner, ok, err := r.state.CollectibleOwner(contract, id)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnknownAsset, id)
		}
		if owner != from {
			return fmt.Errorf("%w: %s", ErrNotAssetOwner, id)
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if err := r.state.CollectibleSetOwner(contract, id, to); err != nil {
			return err
		}
	}
	return nil
}
