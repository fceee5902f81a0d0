package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testKey = "6368616e676520746869732070617373776f726420746f206120736563726574"

func TestEncryptor_RoundTrip(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	ciphertext, err := enc.Encrypt("s3cret-Passw0rd!")
	require.NoError(t, err)
	require.NotEqual(t, "s3cret-Passw0rd!", ciphertext)

	plaintext, err := enc.Decrypt(ciphertext)
	require.NoError(t, err)
	require.Equal(t, "s3cret-Passw0rd!", plaintext)
}

func TestEncryptor_NonceMakesCiphertextUnique(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	first, err := enc.Encrypt("same input")
	require.NoError(t, err)
	second, err := enc.Encrypt("same input")
	require.NoError(t, err)
	require.NotEqual(t, first, second)
}

func TestEncryptor_WrongKeyFails(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)
	ciphertext, err := enc.Encrypt("payload")
	require.NoError(t, err)

	other, err := NewEncryptor("0000000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)

	_, err = other.Decrypt(ciphertext)
	require.Error(t, err)
}

func TestEncryptor_RejectsBadKeys(t *testing.T) {
	_, err := NewEncryptor("not-hex")
	require.Error(t, err)

	// 16 bytes, AES-128 territory, not accepted
	_, err = NewEncryptor("6368616e6765207468697320706173")
	require.Error(t, err)
}

func TestEncryptor_RejectsMalformedCiphertext(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	require.NoError(t, err)

	_, err = enc.Decrypt("%%% not base64 %%%")
	require.Error(t, err)

	_, err = enc.Decrypt("c2hvcnQ=")
	require.Error(t, err)
}
