package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var tokenAddr = common.HexToAddress("0x8502496d6739dd6e18ced318c4b5fc12a5fb2c2c")

const recipient = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

type fakeBackend struct {
	mu sync.Mutex

	chainID   *big.Int
	gasPrice  *big.Int
	nonceBase uint64

	sent          []*types.Transaction
	receiptStatus uint64
	noReceipt     bool

	gasErr   error
	nonceErr error
	sendErr  error
	blockErr error

	// recorded as broadcast, then reported to the caller as failed
	acceptThenErr error

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		chainID:       big.NewInt(1),
		gasPrice:      big.NewInt(10_000_000_000),
		receiptStatus: types.ReceiptStatusSuccessful,
	}
}

func (f *fakeBackend) ChainID(ctx context.Context) (*big.Int, error) { return f.chainID, nil }

func (f *fakeBackend) BlockNumber(ctx context.Context) (uint64, error) {
	if f.blockErr != nil {
		return 0, f.blockErr
	}
	return 100, nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	n := f.inFlight.Add(1)
	for {
		m := f.maxInFlight.Load()
		if n <= m || f.maxInFlight.CompareAndSwap(m, n) {
			break
		}
	}
	if f.gasErr != nil {
		f.inFlight.Add(-1)
		return nil, f.gasErr
	}
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeBackend) NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error) {
	if f.nonceErr != nil {
		f.inFlight.Add(-1)
		return 0, f.nonceErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonceBase + uint64(len(f.sent)), nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	if f.sendErr != nil {
		f.inFlight.Add(-1)
		return f.sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return f.acceptThenErr
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	if f.noReceipt {
		return nil, ethereum.NotFound
	}
	f.inFlight.Add(-1)
	return &types.Receipt{
		Status:      f.receiptStatus,
		TxHash:      hash,
		BlockNumber: big.NewInt(101),
	}, nil
}

func (f *fakeBackend) sentTxs() []*types.Transaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*types.Transaction(nil), f.sent...)
}

func newTestTransactor(t *testing.T, b Backend) (*Transactor, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tr := New(context.Background(), b, key, tokenAddr, Options{
		ReceiptTimeout:      100 * time.Millisecond,
		ReceiptPollInterval: 5 * time.Millisecond,
	})
	return tr, key
}

func TestTransactor_MintConfirmed(t *testing.T) {
	b := newFakeBackend()
	b.nonceBase = 7
	tr, key := newTestTransactor(t, b)
	require.True(t, tr.Available())

	out := tr.Mint(context.Background(), recipient, 1.5)
	require.Equal(t, StatusConfirmed, out.Status, "err=%v", out.Err)
	assert.Equal(t, uint64(101), out.BlockNumber)
	assert.Equal(t, uint64(7), out.Nonce)

	sent := b.sentTxs()
	require.Len(t, sent, 1)
	tx := sent[0]

	from, err := types.Sender(types.LatestSignerForChainID(big.NewInt(1)), tx)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey), from)
	assert.Equal(t, from, tr.Address())

	assert.Equal(t, uint64(7), tx.Nonce())
	assert.Equal(t, uint64(200000), tx.Gas())
	assert.Equal(t, big.NewInt(12_000_000_000), tx.GasPrice())
	assert.Equal(t, tokenAddr, *tx.To())
	assert.Equal(t, tx.Hash(), out.TxHash)

	to, amount, err := UnpackMint(tx.Data())
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(recipient), to)
	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, want, amount)
}

func TestTransactor_MintReverted(t *testing.T) {
	b := newFakeBackend()
	b.receiptStatus = types.ReceiptStatusFailed
	tr, _ := newTestTransactor(t, b)

	out := tr.Mint(context.Background(), recipient, 1)
	assert.Equal(t, StatusReverted, out.Status)
	assert.True(t, out.HasTx())
	assert.Error(t, out.Err)
}

func TestTransactor_MintTimedOut(t *testing.T) {
	b := newFakeBackend()
	b.noReceipt = true
	tr, _ := newTestTransactor(t, b)

	start := time.Now()
	out := tr.Mint(context.Background(), recipient, 1)
	assert.Equal(t, StatusTimedOut, out.Status)
	assert.True(t, out.HasTx())
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestTransactor_WaitIgnoresCallerCancel(t *testing.T) {
	b := newFakeBackend()
	b.noReceipt = true
	tr, _ := newTestTransactor(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	out := tr.Mint(ctx, recipient, 1)
	assert.Equal(t, StatusTimedOut, out.Status)
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
}

func TestTransactor_MintIgnoresCancelledCaller(t *testing.T) {
	b := newFakeBackend()
	tr, _ := newTestTransactor(t, b)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out := tr.Mint(ctx, recipient, 1)
	require.Equal(t, StatusConfirmed, out.Status, "err=%v", out.Err)
	assert.Len(t, b.sentTxs(), 1)
}

func TestTransactor_AmbiguousSendWaitsForReceipt(t *testing.T) {
	for _, sendErr := range []error{context.Canceled, context.DeadlineExceeded} {
		t.Run(sendErr.Error(), func(t *testing.T) {
			b := newFakeBackend()
			b.acceptThenErr = sendErr
			tr, _ := newTestTransactor(t, b)

			out := tr.Mint(context.Background(), recipient, 1)
			require.Equal(t, StatusConfirmed, out.Status, "err=%v", out.Err)
			require.Len(t, b.sentTxs(), 1)
			assert.Equal(t, b.sentTxs()[0].Hash(), out.TxHash)
			assert.True(t, tr.Available())
		})
	}
}

func TestTransactor_AmbiguousSendWithoutReceiptTimesOut(t *testing.T) {
	b := newFakeBackend()
	b.acceptThenErr = context.DeadlineExceeded
	b.noReceipt = true
	tr, _ := newTestTransactor(t, b)

	out := tr.Mint(context.Background(), recipient, 1)
	assert.Equal(t, StatusTimedOut, out.Status)
	assert.True(t, out.HasTx())
}

func TestTransactor_SubmissionFailures(t *testing.T) {
	cases := []struct {
		name  string
		setup func(b *fakeBackend)
	}{
		{"gas price", func(b *fakeBackend) { b.gasErr = errors.New("boom") }},
		{"nonce", func(b *fakeBackend) { b.nonceErr = errors.New("boom") }},
		{"send", func(b *fakeBackend) { b.sendErr = errors.New("insufficient funds for gas") }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newFakeBackend()
			tr, _ := newTestTransactor(t, b)
			tc.setup(b)

			out := tr.Mint(context.Background(), recipient, 1)
			assert.Equal(t, StatusSubmissionFailed, out.Status)
			assert.Error(t, out.Err)
			assert.True(t, tr.Available(), "non-network errors keep the chain available")
		})
	}
}

func TestTransactor_ConnectivityErrorMarksUnavailable(t *testing.T) {
	b := newFakeBackend()
	tr, _ := newTestTransactor(t, b)
	b.sendErr = errors.New("dial tcp 127.0.0.1:8545: connect: connection refused")

	out := tr.Mint(context.Background(), recipient, 1)
	require.Equal(t, StatusSubmissionFailed, out.Status)
	assert.False(t, tr.Available())

	b.sendErr = nil
	require.NoError(t, tr.CheckHealth(context.Background()))
	assert.True(t, tr.Available())
}

func TestTransactor_RejectsWithoutRPC(t *testing.T) {
	b := newFakeBackend()
	tr, _ := newTestTransactor(t, b)

	out := tr.Mint(context.Background(), recipient, 1e-19)
	assert.ErrorIs(t, out.Err, ErrZeroAmount)

	out = tr.Mint(context.Background(), "not-an-address", 1)
	assert.ErrorIs(t, out.Err, ErrInvalidRecipient)

	assert.Empty(t, b.sentTxs())
}

func TestTransactor_Unconfigured(t *testing.T) {
	tr := New(context.Background(), nil, nil, tokenAddr, Options{})
	assert.False(t, tr.Available())
	assert.Equal(t, common.Address{}, tr.Address())

	out := tr.Mint(context.Background(), recipient, 1)
	assert.ErrorIs(t, out.Err, ErrUnavailable)
	assert.ErrorIs(t, tr.CheckHealth(context.Background()), ErrUnavailable)
}

func TestTransactor_UnreachableAtStartup(t *testing.T) {
	b := newFakeBackend()
	b.blockErr = errors.New("connection refused")
	tr, _ := newTestTransactor(t, b)
	assert.False(t, tr.Available())

	b.blockErr = nil
	require.NoError(t, tr.CheckHealth(context.Background()))
	assert.True(t, tr.Available())
	assert.Equal(t, big.NewInt(1), tr.ChainID())
}

func TestTransactor_ConcurrentMintsSerialized(t *testing.T) {
	b := newFakeBackend()
	tr, _ := newTestTransactor(t, b)

	const n = 8
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			out := tr.Mint(context.Background(), recipient, 1)
			assert.Equal(t, StatusConfirmed, out.Status)
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), b.maxInFlight.Load())

	sent := b.sentTxs()
	require.Len(t, sent, n)
	for i, tx := range sent {
		assert.Equal(t, uint64(i), tx.Nonce())
	}
}

func TestToWei(t *testing.T) {
	assert.Equal(t, int64(0), ToWei(1e-19).Int64())
	assert.Equal(t, int64(0), ToWei(0).Int64())
	assert.Equal(t, int64(0), ToWei(-1).Int64())

	want, _ := new(big.Int).SetString("1500000000000000000", 10)
	assert.Equal(t, want, ToWei(1.5))

	assert.Equal(t, "1.500000", FormatUnits(want))
	assert.InDelta(t, 1.5, ToTokens(want), 1e-12)
}
