package validation

import (
	"errors"
	"math/big"
	"regexp"
	"strings"
)

var (
	addressRegex    = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	privateKeyRegex = regexp.MustCompile(`^(0x)?[a-fA-F0-9]{64}$`)
	urlRegex        = regexp.MustCompile(`^(https?|wss?)://[^\s/$.?#].[^\s]*$`)
)

// ValidateAddress validates an EVM address format
func ValidateAddress(address string) error {
	if address == "" {
		return errors.New("address cannot be empty")
	}
	if !addressRegex.MatchString(address) {
		return errors.New("invalid address format")
	}
	return nil
}

// ValidatePrivateKey validates a hex encoded secp256k1 private key
func ValidatePrivateKey(key string) error {
	if key == "" {
		return errors.New("private key cannot be empty")
	}
	if !privateKeyRegex.MatchString(strings.TrimSpace(key)) {
		return errors.New("private key must be 32 hex encoded bytes")
	}
	return nil
}

// ValidateAmount validates a wei amount is present and not negative
func ValidateAmount(amount *big.Int) error {
	if amount == nil {
		return errors.New("amount cannot be nil")
	}
	if amount.Sign() < 0 {
		return errors.New("amount cannot be negative")
	}
	return nil
}

// ValidateRange validates lower <= upper, both non-negative
func ValidateRange(lower, upper *big.Int) error {
	if err := ValidateAmount(lower); err != nil {
		return errors.New("lower bound: " + err.Error())
	}
	if err := ValidateAmount(upper); err != nil {
		return errors.New("upper bound: " + err.Error())
	}
	if lower.Cmp(upper) > 0 {
		return errors.New("lower bound is above upper bound")
	}
	return nil
}

// ValidateURL validates an RPC endpoint URL
func ValidateURL(url string) error {
	if url == "" {
		return errors.New("URL cannot be empty")
	}
	if !urlRegex.MatchString(url) {
		return errors.New("invalid URL format")
	}
	return nil
}

// IsWebsocketURL reports whether the endpoint supports subscriptions
func IsWebsocketURL(url string) bool {
	return strings.HasPrefix(url, "ws://") || strings.HasPrefix(url, "wss://")
}
