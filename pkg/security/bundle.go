package security

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
	"os"
)

// BundleKeySize is the AES-256 key length derived from a bearer token.
const BundleKeySize = 32

// KeyFromToken derives the bundle encryption key from a bearer token.
// The agent derives the same key on its side, so the token must carry at
// least 32 characters.
func KeyFromToken(token string) ([]byte, error) {
	if len(token) < BundleKeySize {
		return nil, fmt.Errorf("token too short for bundle key: need %d chars, got %d", BundleKeySize, len(token))
	}
	return []byte(token[:BundleKeySize]), nil
}

// EncryptBundle encrypts plaintext using AES-CBC with PKCS#7 padding.
// A random IV is generated and prepended to the ciphertext.
func EncryptBundle(plaintext, key []byte) ([]byte, error) {
	if len(key) != BundleKeySize {
		return nil, fmt.Errorf("bundle key must be %d bytes, got %d", BundleKeySize, len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	iv := make([]byte, aes.BlockSize)
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return nil, fmt.Errorf("failed to generate IV: %w", err)
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)

	return append(iv, ciphertext...), nil
}

// DecryptBundle decrypts data produced by EncryptBundle.
// Expects the IV to be prepended to the ciphertext.
func DecryptBundle(data, key []byte) ([]byte, error) {
	if len(key) != BundleKeySize {
		return nil, fmt.Errorf("bundle key must be %d bytes, got %d", BundleKeySize, len(key))
	}
	if len(data) < aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d is not a positive multiple of the block size", len(data))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	iv, ciphertext := data[:aes.BlockSize], data[aes.BlockSize:]
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)

	return pkcs7Unpad(plaintext, aes.BlockSize)
}

// EncryptBundleFile encrypts the file at path with the given key and writes
// the result next to it with a ".jm" suffix, returning the new path.
func EncryptBundleFile(path string, key []byte) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read bundle: %w", err)
	}

	encrypted, err := EncryptBundle(content, key)
	if err != nil {
		return "", err
	}

	outPath := path + ".jm"
	if err := os.WriteFile(outPath, encrypted, 0o600); err != nil {
		return "", fmt.Errorf("failed to write encrypted bundle: %w", err)
	}
	return outPath, nil
}

// DecryptBundleFile reads and decrypts a file produced by EncryptBundleFile.
func DecryptBundleFile(path string, key []byte) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read encrypted bundle: %w", err)
	}
	return DecryptBundle(data, key)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padding := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padding)}, padding)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, fmt.Errorf("invalid padded data length %d", len(data))
	}
	padding := int(data[len(data)-1])
	if padding == 0 || padding > blockSize {
		return nil, fmt.Errorf("invalid padding byte %d", padding)
	}
	for _, b := range data[len(data)-padding:] {
		if int(b) != padding {
			return nil, fmt.Errorf("inconsistent padding")
		}
	}
	return data[:len(data)-padding], nil
}
