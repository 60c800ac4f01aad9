package state

// CollectibleOwner returns the holder of an asset issued by contract.
func (m *Manager) CollectibleOwner(contract [20]byte, assetID string) ([20]byte, bool, error) {
	var owner [20]byte
	ok, err := m.KVGet(collectibleOwnerKey(contract, assetID), &owner)
	if err != nil || !ok {
		return [20]byte{}, ok, err
	}
	return owner, true, nil
}

func (m *Manager) CollectibleSetOwner(contract [20]byte, assetID string, owner [20]byte) error {
	return m.KVPut(collectibleOwnerKey(contract, assetID), owner)
}

// CollectibleApproved reports whether operator may move every asset of owner.
func (m *Manager) CollectibleApproved(contract, owner, operator [20]byte) (bool, error) {
	var approved bool
	if _, err := m.KVGet(collectibleApprovalKey(contract, owner, operator), &approved); err != nil {
		return false, err
	}
	return approved, nil
}

func (m *Manager) CollectibleSetApproval(contract, owner, operator [20]byte, approved bool) error {
	key := collectibleApprovalKey(contract, owner, operator)
	if !approved {
		return m.KVDelete(key)
	}
	return m.KVPut(key, true)
}
