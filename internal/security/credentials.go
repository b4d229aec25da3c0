package security

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

const (
	encryptionKeyEnv = "POOL_ENCRYPTION_KEY"

	// CredentialPrefix marks stored values that hold ciphertext rather than
	// plain credentials, so mixed fleets survive key introduction.
	CredentialPrefix = "enc:"
)

var (
	cipherOnce sync.Once
	cipherInst *credentialCipher
	cipherErr  error
)

type credentialCipher struct {
	gcm cipher.AEAD
}

func getCredentialCipher() (*credentialCipher, error) {
	cipherOnce.Do(func() {
		rawKey := strings.TrimSpace(os.Getenv(encryptionKeyEnv))
		if rawKey == "" {
			// No key configured: credentials are stored as-is.
			return
		}

		key := deriveKey(rawKey)

		block, err := aes.NewCipher(key)
		if err != nil {
			cipherErr = fmt.Errorf("create cipher: %w", err)
			return
		}

		gcm, err := cipher.NewGCM(block)
		if err != nil {
			cipherErr = fmt.Errorf("create gcm: %w", err)
			return
		}

		cipherInst = &credentialCipher{gcm: gcm}
	})

	return cipherInst, cipherErr
}

func deriveKey(raw string) []byte {
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil {
		switch len(decoded) {
		case 16, 24, 32:
			return decoded
		}
	}

	sum := sha256.Sum256([]byte(raw))
	return sum[:]
}

// EncryptCredential seals a proxy credential for storage. Without a configured
// key the value passes through unchanged.
func EncryptCredential(plain string) (string, error) {
	if plain == "" {
		return "", nil
	}

	cc, err := getCredentialCipher()
	if err != nil {
		return "", err
	}
	if cc == nil {
		return plain, nil
	}

	nonce := make([]byte, cc.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	cipherText := cc.gcm.Seal(nil, nonce, []byte(plain), nil)
	payload := append(nonce, cipherText...)

	return CredentialPrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// DecryptCredential reverses EncryptCredential. Values without the ciphertext
// prefix are returned verbatim.
func DecryptCredential(value string) (string, error) {
	if value == "" {
		return "", nil
	}

	if !strings.HasPrefix(value, CredentialPrefix) {
		return value, nil
	}

	encoded := strings.TrimPrefix(value, CredentialPrefix)
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	cc, err := getCredentialCipher()
	if err != nil {
		return "", err
	}
	if cc == nil {
		return "", errors.New("encrypted credential found but no encryption key configured")
	}

	nonceSize := cc.gcm.NonceSize()
	if len(data) <= nonceSize {
		return "", errors.New("ciphertext too short")
	}

	plain, err := cc.gcm.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", fmt.Errorf("decrypt ciphertext: %w", err)
	}

	return string(plain), nil
}

func IsCredentialEncrypted(value string) bool {
	return strings.HasPrefix(value, CredentialPrefix)
}

func ResetCredentialCipherForTests() {
	cipherOnce = sync.Once{}
	cipherInst = nil
	cipherErr = nil
}
