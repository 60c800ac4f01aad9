package state

var (
	marketListingPrefix   = []byte("market/listing/")
	marketListingIndexKey = []byte("market/listing-index")
	marketParamsKey       = []byte("market/params")

	bankAccountPrefix = []byte("bank/account/")
	bankPursePrefix   = []byte("bank/purse/")
	bankPurseNonceKey = []byte("bank/purse-nonce")

	collectibleOwnerPrefix    = []byte("collectible/owner/")
	collectibleApprovalPrefix = []byte("collectible/approval/")
)

func prefixed(prefix []byte, parts ...[]byte) []byte {
	size := len(prefix)
	for _, p := range parts {
		size += len(p) + 1
	}
	buf := make([]byte, 0, size)
	buf = append(buf, prefix...)
	for i, p := range parts {
		if i > 0 {
			buf = append(buf, '/')
		}
		buf = append(buf, p...)
	}
	return buf
}

func marketListingKey(assetID string) []byte {
	return prefixed(marketListingPrefix, []byte(assetID))
}

func bankAccountKey(addr [20]byte) []byte {
	return prefixed(bankAccountPrefix, addr[:])
}

func bankPurseKey(id [32]byte) []byte {
	return prefixed(bankPursePrefix, id[:])
}

func collectibleOwnerKey(contract [20]byte, assetID string) []byte {
	return prefixed(collectibleOwnerPrefix, contract[:], []byte(assetID))
}

func collectibleApprovalKey(contract, owner, operator [20]byte) []byte {
	return prefixed(collectibleApprovalPrefix, contract[:], owner[:], operator[:])
}
