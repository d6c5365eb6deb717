package evm

import (
	"context"
	"math/big"
	"testing"
	"time"

	"txledger/internal/ledger"
	"txledger/internal/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type simulatedChain struct {
	backend *simulated.Backend
	client  *Client
	signer  *Signer
}

func newSimulatedChain(t *testing.T) *simulatedChain {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := NewSigner(key)
	require.NoError(t, err)

	backend := simulated.NewBackend(types.GenesisAlloc{
		signer.Address(): {Balance: big.NewInt(1_000_000_000_000_000_000)},
	})
	t.Cleanup(func() { _ = backend.Close() })

	client, err := NewClientWithBackend(context.Background(), logger.NewNopLogger(), backend.Client(), 10*time.Millisecond)
	require.NoError(t, err)
	return &simulatedChain{backend: backend, client: client, signer: signer}
}

func TestLedger_SubmitAndAwaitOutcome(t *testing.T) {
	chain := newSimulatedChain(t)
	l := NewLedger(chain.client, chain.signer, nil, logger.NewNopLogger())
	ctx := context.Background()

	id, err := l.Submit(ctx, ledger.Operation{
		To:    common.HexToAddress("0x00000000000000000000000000000000000000b0"),
		Value: big.NewInt(1),
	})
	require.NoError(t, err)
	assert.Len(t, id, 66)

	chain.backend.Commit()

	outcome, err := l.AwaitOutcome(ctx, id, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, ledger.OutcomeSuccess, outcome.Status)
	assert.Equal(t, uint64(1), outcome.BlockNumber)
	assert.Equal(t, uint64(21000), outcome.GasUsed)
	assert.NotEmpty(t, outcome.BlockHash)
}

func TestLedger_AwaitOutcomeTimeout(t *testing.T) {
	chain := newSimulatedChain(t)
	l := NewLedger(chain.client, chain.signer, nil, logger.NewNopLogger())

	unknown := common.HexToHash("0x01").Hex()
	_, err := l.AwaitOutcome(context.Background(), unknown, 50*time.Millisecond)
	assert.ErrorIs(t, err, ledger.ErrTimeout)
}

func TestLedger_AwaitOutcomeParentCancelled(t *testing.T) {
	chain := newSimulatedChain(t)
	l := NewLedger(chain.client, chain.signer, nil, logger.NewNopLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := l.AwaitOutcome(ctx, common.HexToHash("0x02").Hex(), time.Second)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ledger.ErrTimeout)
}

func TestLedger_SubmitRejectedByApprover(t *testing.T) {
	chain := newSimulatedChain(t)
	var seen *types.Transaction
	reject := func(_ context.Context, tx *types.Transaction) error {
		seen = tx
		return ledger.ErrUserRejected
	}
	l := NewLedger(chain.client, chain.signer, reject, logger.NewNopLogger())

	_, err := l.Submit(context.Background(), ledger.Operation{To: common.HexToAddress("0xb1")})
	assert.ErrorIs(t, err, ledger.ErrUserRejected)
	require.NotNil(t, seen)

	nonce, err := chain.client.GetNonce(context.Background(), chain.signer.Address())
	require.NoError(t, err)
	assert.Equal(t, uint64(0), nonce, "nothing may be sent after a rejection")
}

func TestLedger_AwaitOutcomeBadIdentifier(t *testing.T) {
	chain := newSimulatedChain(t)
	l := NewLedger(chain.client, chain.signer, nil, logger.NewNopLogger())

	_, err := l.AwaitOutcome(context.Background(), "not-a-hash", time.Second)
	assert.Error(t, err)
}

func TestSigner_PersonalMessageRoundTrip(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer, err := NewSigner(key)
	require.NoError(t, err)

	msg := []byte("txledger:auth:1700000000")
	sig, err := signer.SignPersonalMessage(context.Background(), msg)
	require.NoError(t, err)

	addr, err := RecoverPersonalSigner(msg, sig)
	require.NoError(t, err)
	assert.Equal(t, signer.Address(), addr)

	_, err = NewSigner(nil)
	assert.ErrorIs(t, err, ErrNilPrivateKey)
}
