package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"txledger/internal/ledger"
	"txledger/internal/logger"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

var (
	// ErrNoRpcUrlsProvided indicates that no RPC URLs were provided for client creation.
	ErrNoRpcUrlsProvided = errors.New("no RPC URLs provided")
	// ErrEvmClientCreationFailed indicates that the client failed to connect to any of the provided RPC URLs.
	ErrEvmClientCreationFailed = errors.New("failed to connect to any provided EVM node")
)

const defaultPollInterval = 5 * time.Second

// EVMClient defines the interface for interacting with an EVM compatible blockchain.
type EVMClient interface {
	Close()
	GetChainID() *big.Int
	GetBalance(ctx context.Context, address common.Address) (*big.Int, error)
	GetNonce(ctx context.Context, address common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	LatestBaseFee(ctx context.Context) (*big.Int, error)
	EstimateGasLimit(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendRawTransaction(ctx context.Context, tx *types.Transaction) error
	WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// RPCBackend is the subset of the node API the client needs. Both
// *ethclient.Client and the in-process simulated backend satisfy it.
type RPCBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Client wraps a node connection and provides helper methods.
type Client struct {
	backend      RPCBackend
	closeFn      func()
	chainID      *big.Int
	pollInterval time.Duration
	log          logger.Logger
}

// Ensure Client implements EVMClient interface at compile time.
var _ EVMClient = (*Client)(nil)

// NewClient creates a new EVM client, trying multiple RPC URLs in order.
func NewClient(ctx context.Context, log logger.Logger, rpcUrls []string, pollInterval time.Duration) (*Client, error) {
	if len(rpcUrls) == 0 {
		return nil, ErrNoRpcUrlsProvided
	}

	log.Info("Connecting to EVM node...", "rpc_count", len(rpcUrls))
	var lastErr error

	for i, url := range rpcUrls {
		log.Debug("Connection attempt", "rpc_url", url, "attempt", i+1)

		dialCtx, dialCancel := context.WithTimeout(ctx, 10*time.Second)
		ethClient, err := ethclient.DialContext(dialCtx, url)
		dialCancel()
		if err != nil {
			log.Warn("Failed to connect to EVM node", "url", url, "error", err)
			lastErr = err
			if ctx.Err() != nil {
				log.Warn("Connection aborted, parent context is done")
				return nil, ctx.Err()
			}
			continue
		}

		chainCtx, chainCancel := context.WithTimeout(ctx, 5*time.Second)
		c, err := NewClientWithBackend(chainCtx, log, ethClient, pollInterval)
		chainCancel()
		if err == nil {
			c.closeFn = ethClient.Close
			log.Success("Connected to EVM node", "url", url, "chain_id", c.chainID.String())
			return c, nil
		}
		log.Warn("Connected, but failed to fetch ChainID", "url", url, "error", err)
		ethClient.Close()
		lastErr = err
	}

	log.Error("Could not connect to any of the configured EVM nodes", "last_error", lastErr)
	return nil, fmt.Errorf("%w: %w", ErrEvmClientCreationFailed, lastErr)
}

// NewClientWithBackend wraps an already connected backend.
func NewClientWithBackend(ctx context.Context, log logger.Logger, backend RPCBackend, pollInterval time.Duration) (*Client, error) {
	chainID, err := backend.ChainID(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching chain id: %w", err)
	}
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}
	return &Client{backend: backend, chainID: chainID, pollInterval: pollInterval, log: log}, nil
}

// Close terminates the underlying RPC connection
func (c *Client) Close() {
	if c.closeFn != nil {
		c.log.Debug("Closing EVM client connection")
		c.closeFn()
	}
}

// GetChainID returns the chain ID associated with the client connection
func (c *Client) GetChainID() *big.Int {
	return c.chainID
}

// GetBalance retrieves the native token balance for a given address
func (c *Client) GetBalance(ctx context.Context, address common.Address) (*big.Int, error) {
	return c.backend.BalanceAt(ctx, address, nil)
}

// GetNonce retrieves the next nonce for an account
func (c *Client) GetNonce(ctx context.Context, address common.Address) (uint64, error) {
	return c.backend.PendingNonceAt(ctx, address)
}

// SuggestGasTipCap suggests a gas tip cap for EIP-1559 transactions
func (c *Client) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return c.backend.SuggestGasTipCap(ctx)
}

// LatestBaseFee returns the base fee of the latest block, zero before London.
func (c *Client) LatestBaseFee(ctx context.Context) (*big.Int, error) {
	head, err := c.backend.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, err
	}
	if head.BaseFee == nil {
		return big.NewInt(0), nil
	}
	return head.BaseFee, nil
}

// EstimateGasLimit estimates the gas needed for a transaction
func (c *Client) EstimateGasLimit(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	return c.backend.EstimateGas(ctx, msg)
}

// SendRawTransaction sends a signed transaction to the network
func (c *Client) SendRawTransaction(ctx context.Context, tx *types.Transaction) error {
	c.log.Debug("Sending signed transaction", "tx_hash", tx.Hash().Hex())
	if err := c.backend.SendTransaction(ctx, tx); err != nil {
		c.log.Error("Failed to send transaction", "tx_hash", tx.Hash().Hex(), "error", err)
		return fmt.Errorf("sending transaction failed: %w", err)
	}
	c.log.Info("Transaction sent", "tx_hash", tx.Hash().Hex())
	return nil
}

// WaitForReceipt polls the network until the receipt shows up or ctx is done.
// Errors other than "not found" are returned wrapped in ledger.ErrNetwork.
func (c *Client) WaitForReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	c.log.Debug("Waiting for transaction receipt", "tx_hash", txHash.Hex())
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.backend.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			c.log.Info("Transaction receipt received", "tx_hash", txHash.Hex(), "status", receipt.Status)
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			c.log.Warn("Error while fetching transaction receipt", "tx_hash", txHash.Hex(), "error", err)
			return nil, fmt.Errorf("%w: fetching receipt: %w", ledger.ErrNetwork, err)
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			c.log.Debug("Stopped waiting for receipt", "tx_hash", txHash.Hex(), "reason", ctx.Err())
			return nil, ctx.Err()
		}
	}
}
