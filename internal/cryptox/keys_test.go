package cryptox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptWithKeyPair(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)

	plaintext := []byte("0123456789abcdef0123456789abcdef")
	ciphertext, err := EncryptWithPublicKey(&key.PublicKey, plaintext)
	require.NoError(t, err)
	assert.NotEqual(t, plaintext, ciphertext)

	decrypted, err := DecryptWithPrivateKey(key, ciphertext)
	require.NoError(t, err)
	assert.Equal(t, plaintext, decrypted)
}

func TestDecrypt_WrongKey(t *testing.T) {
	key1, err := GenerateKeyPair()
	require.NoError(t, err)
	key2, err := GenerateKeyPair()
	require.NoError(t, err)

	ciphertext, err := EncryptWithPublicKey(&key1.PublicKey, []byte("secret"))
	require.NoError(t, err)

	_, err = DecryptWithPrivateKey(key2, ciphertext)
	assert.Error(t, err)
}

func TestSignVerify(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)

	data := []byte("doc1|document|folder1|notes.md|false")
	sig, err := Sign(key, data)
	require.NoError(t, err)

	require.NoError(t, Verify(&key.PublicKey, data, sig))

	// tampered payload
	assert.Error(t, Verify(&key.PublicKey, []byte("doc1|document|folder1|notes.md|true"), sig))

	// tampered signature
	sig[0] ^= 0xff
	assert.Error(t, Verify(&key.PublicKey, data, sig))
}

func TestPrivateKeyPEMRoundTrip(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)

	pemBytes := MarshalPrivateKeyPEM(key)
	parsed, err := ParsePrivateKeyPEM(pemBytes)
	require.NoError(t, err)
	assert.True(t, key.Equal(parsed))
}

func TestParsePrivateKeyPEM_Garbage(t *testing.T) {
	_, err := ParsePrivateKeyPEM([]byte("not a pem block"))
	assert.Error(t, err)
}

func TestMarshalPublicKeyPEM(t *testing.T) {
	key, err := GenerateKeyPair()
	require.NoError(t, err)

	pemBytes, err := MarshalPublicKeyPEM(&key.PublicKey)
	require.NoError(t, err)
	assert.Contains(t, string(pemBytes), "BEGIN PUBLIC KEY")
}
