package cryptobox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCreds struct {
	Token  string `json:"token"`
	Secret string `json:"secret"`
}

func TestDeriveKey_Deterministic(t *testing.T) {
	key1 := DeriveKey([]byte("passphrase"), []byte("salt"))
	key2 := DeriveKey([]byte("passphrase"), []byte("salt"))

	assert.Equal(t, key1, key2)
	assert.Len(t, key1, 32)
}

func TestDeriveKey_DifferentSalts(t *testing.T) {
	key1 := DeriveKey([]byte("passphrase"), []byte("salt-1"))
	key2 := DeriveKey([]byte("passphrase"), []byte("salt-2"))

	assert.NotEqual(t, key1, key2)
}

func TestEncryptDecrypt_RoundTrip(t *testing.T) {
	key := DeriveKey([]byte("passphrase"), []byte("salt"))
	creds := testCreds{Token: "tok-123", Secret: "hunter2"}

	ciphertext, nonce, err := Encrypt(creds, key)
	require.NoError(t, err)
	require.Len(t, nonce, NonceSize)
	assert.NotContains(t, string(ciphertext), "hunter2")

	var out testCreds
	require.NoError(t, Decrypt(ciphertext, nonce, key, &out))
	assert.Equal(t, creds, out)
}

func TestEncrypt_FreshNoncePerCall(t *testing.T) {
	key := DeriveKey([]byte("passphrase"), []byte("salt"))

	_, nonce1, err := Encrypt(testCreds{Token: "a"}, key)
	require.NoError(t, err)
	_, nonce2, err := Encrypt(testCreds{Token: "a"}, key)
	require.NoError(t, err)

	assert.NotEqual(t, nonce1, nonce2)
}

func TestDecrypt_WrongKey(t *testing.T) {
	key := DeriveKey([]byte("passphrase"), []byte("salt"))
	other := DeriveKey([]byte("different"), []byte("salt"))

	ciphertext, nonce, err := Encrypt(testCreds{Token: "a"}, key)
	require.NoError(t, err)

	var out testCreds
	assert.Error(t, Decrypt(ciphertext, nonce, other, &out))
}

func TestDecrypt_Tampered(t *testing.T) {
	key := DeriveKey([]byte("passphrase"), []byte("salt"))

	ciphertext, nonce, err := Encrypt(testCreds{Token: "a"}, key)
	require.NoError(t, err)
	ciphertext[0] ^= 0xff

	var out testCreds
	assert.Error(t, Decrypt(ciphertext, nonce, key, &out))
}
