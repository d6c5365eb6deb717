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
)

// Approver is consulted with the unsigned transaction before it is signed.
// Returning an error wrapping ledger.ErrUserRejected aborts the submission.
type Approver func(ctx context.Context, tx *types.Transaction) error

// Ledger implements ledger.Client on top of an EVM node.
type Ledger struct {
	client  EVMClient
	signer  *Signer
	approve Approver
	log     logger.Logger
}

var _ ledger.Client = (*Ledger)(nil)

// NewLedger creates a ledger client that signs with signer. approve may be nil.
func NewLedger(client EVMClient, signer *Signer, approve Approver, log logger.Logger) *Ledger {
	return &Ledger{client: client, signer: signer, approve: approve, log: log}
}

// Principal returns the address records submitted through this ledger belong to.
func (l *Ledger) Principal() common.Address {
	return l.signer.Address()
}

// Submit builds, signs and sends an EIP-1559 transaction for op.
func (l *Ledger) Submit(ctx context.Context, op ledger.Operation) (string, error) {
	from := l.signer.Address()
	value := op.Value
	if value == nil {
		value = big.NewInt(0)
	}

	nonce, err := l.client.GetNonce(ctx, from)
	if err != nil {
		return "", fmt.Errorf("%w: fetching nonce: %w", ledger.ErrSubmissionFailed, err)
	}
	tipCap, err := l.client.SuggestGasTipCap(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: suggesting tip cap: %w", ledger.ErrSubmissionFailed, err)
	}
	baseFee, err := l.client.LatestBaseFee(ctx)
	if err != nil {
		return "", fmt.Errorf("%w: fetching base fee: %w", ledger.ErrSubmissionFailed, err)
	}
	feeCap := new(big.Int).Add(tipCap, new(big.Int).Mul(baseFee, big.NewInt(2)))

	to := op.To
	gas := op.GasLimit
	if gas == 0 {
		gas, err = l.client.EstimateGasLimit(ctx, ethereum.CallMsg{
			From:      from,
			To:        &to,
			Value:     value,
			Data:      op.Data,
			GasTipCap: tipCap,
			GasFeeCap: feeCap,
		})
		if err != nil {
			return "", fmt.Errorf("%w: estimating gas: %w", ledger.ErrSubmissionFailed, err)
		}
	}

	tx := types.NewTx(&types.DynamicFeeTx{
		ChainID:   l.client.GetChainID(),
		Nonce:     nonce,
		GasTipCap: tipCap,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      op.Data,
	})

	if l.approve != nil {
		if err := l.approve(ctx, tx); err != nil {
			if errors.Is(err, ledger.ErrUserRejected) {
				l.log.Warn("Transaction rejected before signing", "to", to.Hex())
				return "", err
			}
			return "", fmt.Errorf("%w: approval: %w", ledger.ErrSubmissionFailed, err)
		}
	}

	signed, err := l.signer.SignTx(tx, l.client.GetChainID())
	if err != nil {
		return "", fmt.Errorf("%w: %w", ledger.ErrSubmissionFailed, err)
	}
	if err := l.client.SendRawTransaction(ctx, signed); err != nil {
		return "", fmt.Errorf("%w: %w", ledger.ErrSubmissionFailed, err)
	}
	return signed.Hash().Hex(), nil
}

// AwaitOutcome waits up to timeout for the receipt of identifier.
func (l *Ledger) AwaitOutcome(ctx context.Context, identifier string, timeout time.Duration) (ledger.Outcome, error) {
	hash, err := parseTxHash(identifier)
	if err != nil {
		return ledger.Outcome{}, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	receipt, err := l.client.WaitForReceipt(waitCtx, hash)
	if err != nil {
		if ctx.Err() != nil {
			return ledger.Outcome{}, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return ledger.Outcome{}, fmt.Errorf("%w after %s", ledger.ErrTimeout, timeout)
		}
		return ledger.Outcome{}, err
	}

	outcome := ledger.Outcome{
		Status:    ledger.OutcomeReverted,
		BlockHash: receipt.BlockHash.Hex(),
		GasUsed:   receipt.GasUsed,
	}
	if receipt.BlockNumber != nil {
		outcome.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		outcome.Status = ledger.OutcomeSuccess
	}
	return outcome, nil
}

func parseTxHash(identifier string) (common.Hash, error) {
	raw := common.FromHex(identifier)
	if len(raw) != common.HashLength {
		return common.Hash{}, fmt.Errorf("identifier %q is not a transaction hash", identifier)
	}
	return common.BytesToHash(raw), nil
}
