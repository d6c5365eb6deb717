package keyloader

import (
	"bufio"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"os"
	"strings"

	"txledger/internal/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	ErrKeysFileNotFound          = errors.New("key file not found")
	ErrKeysFileReadFailed        = errors.New("failed to read key file")
	ErrInvalidKey                = errors.New("invalid private key format")
	ErrPublicKeyExtractionFailed = errors.New("failed to extract public key")
	ErrNoValidKeysFound          = errors.New("no valid private keys found in the file")
	// ErrPrincipalKeyNotFound indicates no loaded key matches the configured principal.
	ErrPrincipalKeyNotFound = errors.New("no key for principal")
)

// LoadedKey stores the private key and address loaded from a source.
// It does not provide any signing capabilities itself.
type LoadedKey struct {
	PrivateKey *ecdsa.PrivateKey
	Address    common.Address
}

// LoadKeys reads private keys from a file and returns a slice of LoadedKey pointers.
// It expects one private key per line, optionally prefixed with "0x".
// Lines starting with '#' or empty lines are ignored.
func LoadKeys(path string, log logger.Logger) ([]*LoadedKey, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("key file '%s': %w", path, ErrKeysFileNotFound)
		}
		return nil, fmt.Errorf("reading key file '%s': %w: %w", path, ErrKeysFileReadFailed, err)
	}
	defer file.Close()

	var loadedKeys []*LoadedKey
	scanner := bufio.NewScanner(file)
	lineNumber := 0
	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		privateKeyHex := strings.TrimPrefix(line, "0x")

		keyData := parsePrivateKeyToLoadedKey(privateKeyHex, lineNumber, path, log)
		if keyData != nil {
			loadedKeys = append(loadedKeys, keyData)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scanning key file '%s': %w: %w", path, ErrKeysFileReadFailed, err)
	}

	if len(loadedKeys) == 0 {
		log.Error("No valid private keys found in file", "file", path)
		return nil, fmt.Errorf("%w in file '%s'", ErrNoValidKeysFound, path)
	}

	return loadedKeys, nil
}

// parsePrivateKeyToLoadedKey converts a hex private key string into a LoadedKey struct.
// Returns nil if the key is invalid or public key extraction fails, logging a warning.
func parsePrivateKeyToLoadedKey(privateKeyHex string, lineNumber int, filePath string, log logger.Logger) *LoadedKey {
	privateKey, err := crypto.HexToECDSA(privateKeyHex)
	if err != nil {
		log.Warn("Invalid private key format",
			"line", lineNumber, "file", filePath, "error", ErrInvalidKey)
		return nil
	}

	publicKey := privateKey.Public()
	publicKeyECDSA, ok := publicKey.(*ecdsa.PublicKey)
	if !ok {
		log.Warn("Failed to extract ECDSA public key",
			"line", lineNumber, "file", filePath, "error", ErrPublicKeyExtractionFailed)
		return nil
	}

	address := crypto.PubkeyToAddress(*publicKeyECDSA)
	return &LoadedKey{
		PrivateKey: privateKey,
		Address:    address,
	}
}

// SelectKey picks the key whose address equals principal. An empty principal
// selects the first key, making its address the principal.
func SelectKey(keys []*LoadedKey, principal string) (*LoadedKey, error) {
	if len(keys) == 0 {
		return nil, ErrNoValidKeysFound
	}
	if principal == "" {
		return keys[0], nil
	}
	if !common.IsHexAddress(principal) {
		return nil, fmt.Errorf("%w: %q is not an address", ErrPrincipalKeyNotFound, principal)
	}
	want := common.HexToAddress(principal)
	for _, k := range keys {
		if k.Address == want {
			return k, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrPrincipalKeyNotFound, want.Hex())
}
