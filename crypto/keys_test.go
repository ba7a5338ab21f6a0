package crypto

import (
	"bytes"
	"strings"
	"testing"
)

func TestDeriveAddressDeterministic(t *testing.T) {
	a := DeriveAddress(ValidatorPrefix, 42)
	b := DeriveAddress(ValidatorPrefix, 42)
	if a.String() != b.String() {
		t.Fatalf("expected identical addresses for identical seeds, got %s and %s", a, b)
	}
	c := DeriveAddress(ValidatorPrefix, 43)
	if a.String() == c.String() {
		t.Fatalf("expected distinct addresses for distinct seeds")
	}
}

func TestDeriveAddressPrefixes(t *testing.T) {
	cases := []struct {
		prefix AddressPrefix
		want   string
	}{
		{ValidatorPrefix, "val1"},
		{ProviderPrefix, "prov1"},
		{AccountPrefix, "acct1"},
	}
	for _, tc := range cases {
		addr := DeriveAddress(tc.prefix, 7)
		if !strings.HasPrefix(addr.String(), tc.want) {
			t.Fatalf("address %s missing prefix %s", addr, tc.want)
		}
	}
}

func TestAddressRoundTrip(t *testing.T) {
	addr := DeriveAddress(ProviderPrefix, 99)
	decoded, err := DecodeAddress(addr.String())
	if err != nil {
		t.Fatalf("decode address: %v", err)
	}
	if decoded.Prefix() != ProviderPrefix {
		t.Fatalf("expected prefix %s, got %s", ProviderPrefix, decoded.Prefix())
	}
	if !bytes.Equal(decoded.Bytes(), addr.Bytes()) {
		t.Fatalf("round trip altered address bytes")
	}
}

func TestAddressRaw(t *testing.T) {
	addr := DeriveAddress(AccountPrefix, 5)
	raw := addr.Raw()
	if !bytes.Equal(raw[:], addr.Bytes()) {
		t.Fatalf("raw form does not match address bytes")
	}
}

func TestGeneratedKeyAddress(t *testing.T) {
	key, err := GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := key.PubKey().Address(ValidatorPrefix)
	if len(addr.Bytes()) != 20 {
		t.Fatalf("expected 20 byte address, got %d", len(addr.Bytes()))
	}
	restored, err := PrivateKeyFromBytes(key.Bytes())
	if err != nil {
		t.Fatalf("restore key: %v", err)
	}
	if restored.PubKey().Address(ValidatorPrefix).String() != addr.String() {
		t.Fatalf("restored key produced a different address")
	}
}
