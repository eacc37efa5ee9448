// Package crypto implements the two cryptographic primitives the
// protocol needs: confidentiality for a single ballot (AES-256-CBC
// with PKCS#7 padding, key and IV generated fresh per ballot) and a
// tagged-hash signature used only on mesh-plane messages. Ballots are
// never signed: doing so would link the casting node to its vote.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

const (
	// KeySize is the ballot encryption key length in bytes (256 bits).
	KeySize = 32
	// IVSize is the CBC initialization-vector length in bytes (128 bits).
	IVSize = aes.BlockSize
	// VoteIDSize is the length in bytes of the random anonymousVoteId
	// before hex encoding.
	VoteIDSize = 16
)

var (
	ErrCiphertextTooShort = errors.New("crypto: ciphertext shorter than one block")
	ErrCiphertextNotBlock = errors.New("crypto: ciphertext is not a multiple of the block size")
	ErrBadPadding         = errors.New("crypto: invalid PKCS#7 padding")
)

// BallotPlaintext is the record encrypted inside every ENCRYPTED_VOTE
// frame. It intentionally carries no field identifying the voter.
type BallotPlaintext struct {
	Choice          string `json:"choice"`
	AnonymousVoteID string `json:"anonymousVoteId"`
	Timestamp       int64  `json:"timestamp"`
	RoundID         string `json:"roundId"`
}

// GenerateKey returns a fresh random 256-bit ballot key.
func GenerateKey() ([]byte, error) {
	return randomBytes(KeySize)
}

// GenerateIV returns a fresh random 128-bit CBC initialization vector.
func GenerateIV() ([]byte, error) {
	return randomBytes(IVSize)
}

// GenerateAnonymousVoteID returns 16 random bytes rendered as hex,
// unique with overwhelming probability across the lifetime of a node.
func GenerateAnonymousVoteID() (string, error) {
	raw, err := randomBytes(VoteIDSize)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(raw), nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("crypto: generate random bytes: %w", err)
	}
	return b, nil
}

// Encrypt pads plaintext with PKCS#7 and encrypts it under key/iv
// using AES-CBC. key must be 32 bytes, iv must be 16 bytes.
func Encrypt(key, iv, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	padded := pkcs7Pad(plaintext, block.BlockSize())
	ciphertext := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, nil
}

// Decrypt reverses Encrypt. It returns ErrBadPadding if the decrypted
// padding is malformed, which a caller treats as a silent drop of the
// ballot rather than a fatal error.
func Decrypt(key, iv, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto: new cipher: %w", err)
	}
	if len(ciphertext) < block.BlockSize() {
		return nil, ErrCiphertextTooShort
	}
	if len(ciphertext)%block.BlockSize() != 0 {
		return nil, ErrCiphertextNotBlock
	}
	padded := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)
	return pkcs7Unpad(padded, block.BlockSize())
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := bytes.Repeat([]byte{byte(padLen)}, padLen)
	return append(append([]byte{}, data...), padding...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	n := len(data)
	if n == 0 || n%blockSize != 0 {
		return nil, ErrBadPadding
	}
	padLen := int(data[n-1])
	if padLen == 0 || padLen > blockSize || padLen > n {
		return nil, ErrBadPadding
	}
	for _, b := range data[n-padLen:] {
		if int(b) != padLen {
			return nil, ErrBadPadding
		}
	}
	return data[:n-padLen], nil
}

// SignMeshMessage computes the tagged hash H(nodeId || payload) used
// to authenticate mesh-plane messages. It must never be applied to a
// ballot: doing so would link the signer to the vote.
func SignMeshMessage(nodeID string, payload []byte) string {
	h := sha256.New()
	h.Write([]byte(nodeID))
	h.Write(payload)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyMeshSignature recomputes SignMeshMessage and compares against
// sig. A mismatch is a protocol violation: the caller must silently
// drop the frame, not close the link.
func VerifyMeshSignature(nodeID string, payload []byte, sig string) bool {
	return SignMeshMessage(nodeID, payload) == sig
}
