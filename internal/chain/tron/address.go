package tron

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
)

// tronAddressPrefix is the version byte Tron prepends to the 20-byte
// address hash before base58check-encoding it.
const tronAddressPrefix = 0x41

// HexToBase58 converts a Tron "41..." hex address (the form returned
// inline by full-node JSON responses) to its canonical base58check form.
func HexToBase58(hexAddr string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(hexAddr, "0x"))
	if err != nil {
		return "", fmt.Errorf("invalid tron hex address %q: %w", hexAddr, err)
	}
	if len(raw) == 20 {
		raw = append([]byte{tronAddressPrefix}, raw...)
	}
	if len(raw) != 21 || raw[0] != tronAddressPrefix {
		return "", fmt.Errorf("invalid tron address payload length for %q", hexAddr)
	}

	checksum := doubleSHA256(raw)[:4]
	return base58.Encode(append(raw, checksum...)), nil
}

// Base58ToHex converts a canonical Tron base58check address back to its
// "41..." hex form, validating the checksum.
func Base58ToHex(addr string) (string, error) {
	decoded, err := base58.Decode(addr)
	if err != nil {
		return "", fmt.Errorf("invalid tron base58 address %q: %w", addr, err)
	}
	if len(decoded) != 25 {
		return "", fmt.Errorf("invalid tron address length for %q", addr)
	}

	payload, checksum := decoded[:21], decoded[21:]
	if !equalBytes(doubleSHA256(payload)[:4], checksum) {
		return "", fmt.Errorf("invalid tron address checksum for %q", addr)
	}
	if payload[0] != tronAddressPrefix {
		return "", fmt.Errorf("invalid tron address prefix for %q", addr)
	}

	return hex.EncodeToString(payload), nil
}

// IsValidAddress reports whether addr decodes as a well-formed Tron
// base58check address, independent of whether it is an account or a
// contract.
func IsValidAddress(addr string) bool {
	_, err := Base58ToHex(addr)
	return err == nil
}

func doubleSHA256(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:]
}

func equalBytes(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
