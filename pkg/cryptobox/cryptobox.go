// Package cryptobox encrypts connector credential blobs at rest.
//
// Credentials are serialized to JSON and sealed with AES-256-GCM under a key
// derived from the operator's passphrase with Argon2id. Ciphertext and nonce
// are stored in separate database columns.
package cryptobox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/json"
	"fmt"

	"golang.org/x/crypto/argon2"
)

// NonceSize is the AES-GCM nonce length in bytes.
const NonceSize = 12

// DeriveKey derives a 32-byte AES key from a passphrase and salt using
// Argon2id. The same passphrase and salt always produce the same key.
func DeriveKey(passphrase, salt []byte) []byte {
	return argon2.IDKey(passphrase, salt, 1, 64*1024, 4, 32)
}

// Encrypt serializes v to JSON and encrypts it with AES-GCM under key.
// A fresh random nonce is generated per call and returned alongside the
// ciphertext.
func Encrypt(v any, key []byte) (ciphertext, nonce []byte, err error) {
	plaintext, err := json.Marshal(v)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal: %w", err)
	}

	nonce = make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, nil, fmt.Errorf("nonce: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, nil, err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, nil, err
	}

	ciphertext = aesgcm.Seal(nil, nonce, plaintext, nil)
	return ciphertext, nonce, nil
}

// Decrypt reverses Encrypt, unmarshaling the decrypted JSON into v. It fails
// if the key is wrong or the ciphertext was tampered with.
func Decrypt(ciphertext, nonce, key []byte, v any) error {
	block, err := aes.NewCipher(key)
	if err != nil {
		return err
	}

	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return err
	}

	plaintext, err := aesgcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return fmt.Errorf("decrypt: %w", err)
	}

	return json.Unmarshal(plaintext, v)
}
