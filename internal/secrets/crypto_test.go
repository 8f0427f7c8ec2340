package secrets

import (
	"strings"
	"testing"
)

func TestNewKeyring_RequiresCurrent(t *testing.T) {
	if _, err := NewKeyring("  ", ""); err == nil {
		t.Fatal("expected error for empty current key")
	}
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	k, err := NewKeyring("passphrase-one", "")
	if err != nil {
		t.Fatalf("new keyring: %v", err)
	}

	sealed, err := k.Encrypt(`{"api_key":"sk-123"}`)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.HasPrefix(sealed, "v1:") {
		t.Fatalf("missing v1 prefix: %q", sealed)
	}
	if len(strings.Split(sealed, ":")) != 4 {
		t.Fatalf("expected 4 segments: %q", sealed)
	}

	plain, err := k.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != `{"api_key":"sk-123"}` {
		t.Fatalf("round trip mismatch: %q", plain)
	}
}

func TestDecrypt_PlaintextPassthrough(t *testing.T) {
	k, _ := NewKeyring("passphrase-one", "")
	out, err := k.Decrypt("legacy-plain-value")
	if err != nil {
		t.Fatalf("passthrough failed: %v", err)
	}
	if out != "legacy-plain-value" {
		t.Fatalf("plaintext changed: %q", out)
	}
}

func TestDecrypt_RotationFallsBackToPrevious(t *testing.T) {
	old, _ := NewKeyring("old-passphrase", "")
	sealed, err := old.Encrypt("rotate me")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	rotated, _ := NewKeyring("new-passphrase", "old-passphrase")
	plain, err := rotated.Decrypt(sealed)
	if err != nil {
		t.Fatalf("decrypt with previous key: %v", err)
	}
	if plain != "rotate me" {
		t.Fatalf("unexpected plaintext: %q", plain)
	}

	// Without the previous key the same value must fail.
	noPrev, _ := NewKeyring("new-passphrase", "")
	if _, err := noPrev.Decrypt(sealed); err == nil {
		t.Fatal("expected decrypt failure without previous key")
	}
}

func TestDecrypt_BadFormat(t *testing.T) {
	k, _ := NewKeyring("passphrase-one", "")
	if _, err := k.Decrypt("v1:only-two-parts"); err == nil {
		t.Fatal("expected format error")
	}
	if _, err := k.Decrypt("v1:!!!:!!!:!!!"); err == nil {
		t.Fatal("expected base64 error")
	}
}

func TestDecryptJSON(t *testing.T) {
	k, _ := NewKeyring("passphrase-one", "")
	sealed, _ := k.Encrypt(`{"token":"abc"}`)
	m, err := k.DecryptJSON(sealed)
	if err != nil {
		t.Fatalf("decrypt json: %v", err)
	}
	if m["token"] != "abc" {
		t.Fatalf("unexpected map: %+v", m)
	}

	// Non-JSON plaintext degrades to an empty map, not an error.
	sealed, _ = k.Encrypt("not json at all")
	m, err = k.DecryptJSON(sealed)
	if err != nil {
		t.Fatalf("lenient decode failed: %v", err)
	}
	if len(m) != 0 {
		t.Fatalf("expected empty map, got: %+v", m)
	}
}
