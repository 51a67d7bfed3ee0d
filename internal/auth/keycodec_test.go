package auth

import (
	"bytes"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerateUsesCharset(t *testing.T) {
	codec := NewKeyCodec()
	for _, length := range []int{0, 12, DefaultKeyLength, BootstrapKeyLength} {
		key, err := codec.Generate(length)
		if err != nil {
			t.Fatalf("Generate(%d): %v", length, err)
		}
		want := length
		if want == 0 {
			want = DefaultKeyLength
		}
		if len(key) != want {
			t.Fatalf("Generate(%d) returned %d chars", length, len(key))
		}
		for _, r := range key {
			if !strings.ContainsRune(keyCharset, r) {
				t.Fatalf("unexpected rune %q in %q", r, key)
			}
		}
	}
}

func TestGenerateRejectsBiasedBytes(t *testing.T) {
	// 250 is above the rejection limit for a 72-char charset; 0 and 73 map to 'A' and 'B'.
	codec := &KeyCodec{cost: bcrypt.MinCost, random: bytes.NewReader([]byte{250, 0, 73, 250})}
	key, err := codec.Generate(2)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if key != "AB" {
		t.Fatalf("expected AB, got %q", key)
	}
}

func TestGenerateRejectsOversizedKeys(t *testing.T) {
	if _, err := NewKeyCodec().Generate(MaxKeyLength + 1); err == nil {
		t.Fatal("expected error for key longer than bcrypt limit")
	}
}

func TestHashAndVerify(t *testing.T) {
	codec := NewKeyCodec(WithHashCost(bcrypt.MinCost))
	secret := "S3cret-Session_Key!"

	h1, err := codec.Hash(secret)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	h2, err := codec.Hash(secret)
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if h1 == h2 {
		t.Fatal("expected salted hashes to differ")
	}
	if !codec.Verify(secret, h1) || !codec.Verify(secret, h2) {
		t.Fatal("expected secret to verify against both hashes")
	}
	if codec.Verify("another-secret-value", h1) {
		t.Fatal("expected different secret to fail")
	}
}

func TestVerifyMalformedHash(t *testing.T) {
	codec := NewKeyCodec(WithHashCost(bcrypt.MinCost))
	for _, hash := range []string{"", "not-a-bcrypt-hash", "$2a$12$short"} {
		if codec.Verify("secret-value-1", hash) {
			t.Fatalf("expected malformed hash %q to fail", hash)
		}
	}
}

func TestDefaultCostIsTwelve(t *testing.T) {
	if NewKeyCodec().cost != 12 {
		t.Fatalf("expected cost 12, got %d", NewKeyCodec().cost)
	}
}
