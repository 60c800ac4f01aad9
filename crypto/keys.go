package crypto

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// AddressPrefix defines the different types of human-readable address prefixes.
type AddressPrefix string

const (
	// AccountPrefix tags identities that hold balances (sellers, bidders, owner).
	AccountPrefix AddressPrefix = "mkt"
	// ContractPrefix tags asset custody contracts.
	ContractPrefix AddressPrefix = "mktc"
)

// Address represents a 20-byte identity with a specific prefix.
type Address struct {
	prefix AddressPrefix
	bytes  []byte
}

func NewAddress(prefix AddressPrefix, b []byte) Address {
	if len(b) != 20 {
		panic("address must be 20 bytes long")
	}
	return Address{prefix: prefix, bytes: append([]byte(nil), b...)}
}

func (a Address) String() string {
	conv, err := bech32.ConvertBits(a.bytes, 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(string(a.prefix), conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

func (a Address) Bytes() []byte {
	return a.bytes
}

// Prefix returns the human-readable prefix associated with the address.
func (a Address) Prefix() AddressPrefix {
	return a.prefix
}

// Raw returns the address as a fixed-size identity.
func (a Address) Raw() [20]byte {
	var out [20]byte
	copy(out[:], a.bytes)
	return out
}

func DecodeAddress(addrStr string) (Address, error) {
	prefix, decoded, err := bech32.Decode(strings.TrimSpace(addrStr))
	if err != nil {
		return Address{}, fmt.Errorf("invalid bech32 string: %w", err)
	}
	conv, err := bech32.ConvertBits(decoded, 5, 8, false)
	if err != nil {
		return Address{}, fmt.Errorf("error converting bits: %w", err)
	}
	if len(conv) != 20 {
		return Address{}, fmt.Errorf("address payload must be 20 bytes, got %d", len(conv))
	}
	return NewAddress(AddressPrefix(prefix), conv), nil
}

// ParseIdentity decodes a bech32 identity and checks its prefix.
func ParseIdentity(addrStr string, want AddressPrefix) ([20]byte, error) {
	addr, err := DecodeAddress(addrStr)
	if err != nil {
		return [20]byte{}, err
	}
	if addr.Prefix() != want {
		return [20]byte{}, fmt.Errorf("address %s: expected prefix %q, got %q", addrStr, want, addr.Prefix())
	}
	return addr.Raw(), nil
}

// FormatAccount renders an account identity. The zero identity renders empty.
func FormatAccount(id [20]byte) string {
	if id == ([20]byte{}) {
		return ""
	}
	return NewAddress(AccountPrefix, id[:]).String()
}

// FormatContract renders a contract identity. The zero identity renders empty.
func FormatContract(id [20]byte) string {
	if id == ([20]byte{}) {
		return ""
	}
	return NewAddress(ContractPrefix, id[:]).String()
}

// DeriveIdentity returns a deterministic identity for the supplied seed. It is
// used for module-owned identities such as the market custody address.
func DeriveIdentity(seed string) [20]byte {
	var out [20]byte
	hash := ethcrypto.Keccak256([]byte(seed))
	copy(out[:], hash[12:])
	return out
}
