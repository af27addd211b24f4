package dex

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeAddressLowercases(t *testing.T) {
	got, err := DecodeAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48" {
		t.Fatalf("address mismatch: %s", got)
	}
}

func TestDecodeAddressRejectsMalformed(t *testing.T) {
	inputs := []string{
		"",
		"a0b86991c6218b36c1d19d4a2e9eb0ce3606eb48",
		"0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb4",
		"0xa0b86991",
		"Bytes(0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48)",
		"0xzz686991c6218b36c1d19d4a2e9eb0ce3606eb48",
	}
	for _, input := range inputs {
		_, err := DecodeAddress(input)
		if err == nil {
			t.Fatalf("expected error for %q", input)
		}
		if !errors.Is(err, ErrDecode) {
			t.Fatalf("expected ErrDecode for %q, got %v", input, err)
		}
		var decodeErr *DecodeError
		if !errors.As(err, &decodeErr) || decodeErr.Value != input {
			t.Fatalf("expected DecodeError carrying input for %q", input)
		}
	}
}

func TestDecodeAmount(t *testing.T) {
	got, err := DecodeAmount("0x0de0b6b3a7640000")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Dec() != "1000000000000000000" {
		t.Fatalf("amount mismatch: %s", got.Dec())
	}

	zero, err := DecodeAmount("0x")
	if err != nil {
		t.Fatalf("empty byte string should decode: %v", err)
	}
	if !zero.IsZero() {
		t.Fatalf("empty byte string should be zero")
	}
}

func TestDecodeAmountFullWidth(t *testing.T) {
	max := "0x" + strings.Repeat("ff", 32)
	got, err := DecodeAmount(max)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.BitLen() != 256 {
		t.Fatalf("expected 256-bit value, got %d bits", got.BitLen())
	}
}

func TestDecodeAmountRejectsMalformed(t *testing.T) {
	inputs := []string{
		"",
		"1000",
		"0x123",
		"0xgg",
		"0x" + strings.Repeat("01", 33),
	}
	for _, input := range inputs {
		got, err := DecodeAmount(input)
		if err == nil {
			t.Fatalf("expected error for %q, got %v", input, got)
		}
		if !errors.Is(err, ErrDecode) {
			t.Fatalf("expected ErrDecode for %q, got %v", input, err)
		}
		if got != nil {
			t.Fatalf("expected nil amount on failure for %q", input)
		}
	}
}

func TestDecodeAttributes(t *testing.T) {
	attrs, err := DecodeAttributes(map[string]string{"fee": "0x1e", "token_order": "0x01"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(attrs["fee"]) != 1 || attrs["fee"][0] != 0x1e {
		t.Fatalf("fee attribute mismatch: %x", attrs["fee"])
	}

	if _, err := DecodeAttributes(map[string]string{"fee": "30"}); !errors.Is(err, ErrDecode) {
		t.Fatalf("expected decode error, got %v", err)
	}
}

func TestDecodeHash(t *testing.T) {
	got, err := DecodeHash("0xABCD")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "0xabcd" {
		t.Fatalf("hash mismatch: %s", got)
	}
}

