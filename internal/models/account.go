package models

import (
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// Account is an address with an optional in-memory signing key.
type Account struct {
	address common.Address
	key     *ecdsa.PrivateKey
}

// NewAccountFromHex builds a signing account from a hex encoded private key.
// The 0x prefix is optional.
func NewAccountFromHex(privateKey string) (Account, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKey), "0x"))
	if err != nil {
		return Account{}, fmt.Errorf("invalid private key: %w", err)
	}
	return NewAccount(key), nil
}

func NewAccount(key *ecdsa.PrivateKey) Account {
	return Account{
		address: crypto.PubkeyToAddress(key.PublicKey),
		key:     key,
	}
}

// WatchOnlyAccount returns an account that cannot sign.
func WatchOnlyAccount(address common.Address) Account {
	return Account{address: address}
}

func (a Account) Address() common.Address {
	return a.address
}

func (a Account) Key() *ecdsa.PrivateKey {
	return a.key
}

func (a Account) CanSign() bool {
	return a.key != nil
}

func (a Account) String() string {
	return a.address.Hex()
}

// Addresses returns the addresses of the given accounts, in order.
func Addresses(accounts []Account) []common.Address {
	out := make([]common.Address, len(accounts))
	for i, acc := range accounts {
		out[i] = acc.address
	}
	return out
}
