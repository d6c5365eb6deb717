package evm

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrNilPrivateKey is returned by NewSigner when no key is supplied.
var ErrNilPrivateKey = errors.New("private key cannot be nil")

// Signer wraps an ECDSA private key to provide signing capabilities for EVM transactions and messages.
type Signer struct {
	privateKey *ecdsa.PrivateKey
	address    common.Address
}

// NewSigner creates a new Signer instance from an ECDSA private key.
func NewSigner(pk *ecdsa.PrivateKey) (*Signer, error) {
	if pk == nil {
		return nil, ErrNilPrivateKey
	}
	return &Signer{
		privateKey: pk,
		address:    crypto.PubkeyToAddress(pk.PublicKey),
	}, nil
}

// Address returns the Ethereum address associated with the Signer's private key.
func (s *Signer) Address() common.Address {
	return s.address
}

// SignTx signs the given Ethereum transaction using the Signer's private key and the provided chain ID.
func (s *Signer) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	signedTx, err := types.SignTx(tx, types.NewLondonSigner(chainID), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign transaction: %w", err)
	}
	return signedTx, nil
}

// SignPersonalMessage signs the given message according to the EIP-191 standard (`personal_sign`).
// The backend client uses it to prove ownership of the principal.
func (s *Signer) SignPersonalMessage(_ context.Context, message []byte) ([]byte, error) {
	sig, err := crypto.Sign(personalHash(message).Bytes(), s.privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to sign message hash: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

// RecoverPersonalSigner returns the address that produced sig over message.
func RecoverPersonalSigner(message, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("invalid signature length %d", len(sig))
	}
	normalized := append([]byte(nil), sig...)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(personalHash(message).Bytes(), normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

func personalHash(message []byte) common.Hash {
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(message))
	return crypto.Keccak256Hash([]byte(prefix), message)
}
