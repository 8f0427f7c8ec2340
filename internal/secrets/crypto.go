// Package secrets implements the platform secret format
// v1:{iv_b64}:{tag_b64}:{ciphertext_b64} (AES-256-GCM, key derived by
// sha256 over the configured passphrase). A keyring with an optional
// previous key supports rotation: decrypt tries current then previous.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const prefix = "v1:"

// Keyring holds the active and, during rotation, the prior passphrase.
type Keyring struct {
	Current  string
	Previous string
}

// NewKeyring validates and returns a keyring.
func NewKeyring(current, previous string) (*Keyring, error) {
	current = strings.TrimSpace(current)
	if current == "" {
		return nil, fmt.Errorf("encryption key is required")
	}
	return &Keyring{Current: current, Previous: strings.TrimSpace(previous)}, nil
}

func gcmFor(passphrase string) (cipher.AEAD, error) {
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Encrypt seals plaintext under the current key.
func (k *Keyring) Encrypt(plaintext string) (string, error) {
	gcm, err := gcmFor(k.Current)
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	iv := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generate iv: %w", err)
	}

	sealed := gcm.Seal(nil, iv, []byte(plaintext), nil)
	tagStart := len(sealed) - gcm.Overhead()
	ct, tag := sealed[:tagStart], sealed[tagStart:]

	return prefix +
		base64.StdEncoding.EncodeToString(iv) + ":" +
		base64.StdEncoding.EncodeToString(tag) + ":" +
		base64.StdEncoding.EncodeToString(ct), nil
}

// Decrypt opens a v1 secret. Values without the v1 prefix pass through
// unchanged (legacy plaintext rows).
func (k *Keyring) Decrypt(encrypted string) (string, error) {
	value := strings.TrimSpace(encrypted)
	if !strings.HasPrefix(value, prefix) {
		return encrypted, nil
	}

	parts := strings.Split(value, ":")
	if len(parts) != 4 {
		return "", fmt.Errorf("invalid encrypted secret format")
	}
	iv, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode iv: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("decode tag: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[3])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	sealed := append(ct, tag...)

	plaintext, err := open(k.Current, iv, sealed)
	if err == nil {
		return plaintext, nil
	}
	if k.Previous != "" {
		if plaintext, prevErr := open(k.Previous, iv, sealed); prevErr == nil {
			return plaintext, nil
		}
	}
	return "", fmt.Errorf("decrypt secret: %w", err)
}

func open(passphrase string, iv, sealed []byte) (string, error) {
	gcm, err := gcmFor(passphrase)
	if err != nil {
		return "", err
	}
	if len(iv) != gcm.NonceSize() {
		return "", fmt.Errorf("invalid iv length %d", len(iv))
	}
	plaintext, err := gcm.Open(nil, iv, sealed, nil)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// DecryptJSON opens a v1 secret expected to hold a JSON object. Unparseable
// plaintext yields an empty map, matching the lenient platform behavior.
func (k *Keyring) DecryptJSON(encrypted string) (map[string]any, error) {
	raw, err := k.Decrypt(encrypted)
	if err != nil {
		return nil, err
	}
	var parsed map[string]any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return map[string]any{}, nil
	}
	return parsed, nil
}
