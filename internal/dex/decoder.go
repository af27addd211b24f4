package dex

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/holiman/uint256"
)

// ErrDecode matches every DecodeError via errors.Is.
var ErrDecode = errors.New("decode error")

var (
	errAddressLength = errors.New("address must be 20 bytes")
	errAmountWidth   = errors.New("amount exceeds 256 bits")
)

// DecodeError describes a wire value that does not match its expected encoding.
type DecodeError struct {
	Field string
	Value string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s %q: %v", e.Field, e.Value, e.Err)
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// DecodeBytes parses a 0x-prefixed hex byte string. "0x" decodes to an empty slice.
func DecodeBytes(field, value string) ([]byte, error) {
	data, err := hexutil.Decode(strings.TrimSpace(value))
	if err != nil {
		return nil, &DecodeError{Field: field, Value: value, Err: err}
	}
	return data, nil
}

// DecodeAddress returns the canonical lowercase hex form of a 20-byte address.
func DecodeAddress(value string) (string, error) {
	data, err := DecodeBytes("address", value)
	if err != nil {
		return "", err
	}
	if len(data) != common.AddressLength {
		return "", &DecodeError{Field: "address", Value: value, Err: errAddressLength}
	}
	return hexutil.Encode(data), nil
}

// DecodeAmount parses a big-endian unsigned integer of at most 32 bytes.
// The empty byte string is zero.
func DecodeAmount(value string) (*uint256.Int, error) {
	data, err := DecodeBytes("amount", value)
	if err != nil {
		return nil, err
	}
	if len(data) > 32 {
		return nil, &DecodeError{Field: "amount", Value: value, Err: errAmountWidth}
	}
	return new(uint256.Int).SetBytes(data), nil
}

// DecodeHash returns the lowercase hex form of a transaction hash or other opaque id.
func DecodeHash(value string) (string, error) {
	data, err := DecodeBytes("hash", value)
	if err != nil {
		return "", err
	}
	return hexutil.Encode(data), nil
}

// DecodeAttributes decodes every value of a static attribute map.
func DecodeAttributes(attrs map[string]string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(attrs))
	for key, value := range attrs {
		data, err := DecodeBytes("attribute "+key, value)
		if err != nil {
			return nil, err
		}
		out[key] = data
	}
	return out, nil
}
