package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/sirupsen/logrus"

	"github.com/pvzzle/yieldmint/internal/metrics"
)

var (
	ErrUnavailable      = errors.New("chain unavailable")
	ErrZeroAmount       = errors.New("amount rounds to zero wei")
	ErrInvalidRecipient = errors.New("invalid recipient address")
)

// Backend is the slice of the node API the transactor needs. *ethclient.Client satisfies it.
type Backend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	NonceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

type Options struct {
	GasLimit            uint64
	GasPriceBufferPct   int64
	ReceiptTimeout      time.Duration
	ReceiptPollInterval time.Duration
	// RPCTimeout bounds each gas, nonce and send call inside Mint.
	RPCTimeout time.Duration
	Logger     *logrus.Entry
}

func (o *Options) setDefaults() {
	if o.GasLimit == 0 {
		o.GasLimit = 200000
	}
	if o.GasPriceBufferPct <= 0 {
		o.GasPriceBufferPct = 20
	}
	if o.ReceiptTimeout <= 0 {
		o.ReceiptTimeout = 120 * time.Second
	}
	if o.ReceiptPollInterval <= 0 {
		o.ReceiptPollInterval = time.Second
	}
	if o.RPCTimeout <= 0 {
		o.RPCTimeout = 15 * time.Second
	}
	if o.Logger == nil {
		o.Logger = logrus.NewEntry(logrus.StandardLogger())
	}
}

// Transactor is the only sender for its signing key. Mint calls are
// serialized from nonce lookup through the receipt wait.
type Transactor struct {
	backend Backend
	key     *ecdsa.PrivateKey
	from    common.Address
	token   common.Address
	opts    Options
	log     *logrus.Entry

	chainMu sync.RWMutex
	chainID *big.Int

	connected atomic.Bool

	// signer lock
	mu sync.Mutex
}

func Dial(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	cl, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial eth rpc: %w", err)
	}
	return cl, nil
}

func ParseKey(hexKey string) (*ecdsa.PrivateKey, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// New builds a transactor. A nil backend or key is allowed and yields a
// transactor that reports Available() == false for its whole life.
func New(ctx context.Context, backend Backend, key *ecdsa.PrivateKey, token common.Address, opts Options) *Transactor {
	opts.setDefaults()

	t := &Transactor{
		backend: backend,
		key:     key,
		token:   token,
		opts:    opts,
		log:     opts.Logger,
	}
	if key != nil {
		t.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	if t.configured() {
		if err := t.CheckHealth(ctx); err != nil {
			t.log.WithError(err).Warn("node not reachable at startup; settlement paused until it is")
		}
	}
	metrics.SetChainAvailable(t.Available())
	return t
}

func (t *Transactor) configured() bool {
	return t != nil && t.backend != nil && t.key != nil
}

// Available reports whether a settlement could be submitted right now.
func (t *Transactor) Available() bool {
	return t.configured() && t.connected.Load() && t.ChainID() != nil
}

// Address returns the signer address, or the zero address if no key is configured.
func (t *Transactor) Address() common.Address {
	if t == nil {
		return common.Address{}
	}
	return t.from
}

func (t *Transactor) Token() common.Address { return t.token }

func (t *Transactor) ChainID() *big.Int {
	t.chainMu.RLock()
	defer t.chainMu.RUnlock()
	if t.chainID == nil {
		return nil
	}
	return new(big.Int).Set(t.chainID)
}

// CheckHealth checks connectivity and loads the chain id on first success.
func (t *Transactor) CheckHealth(ctx context.Context) error {
	if !t.configured() {
		return ErrUnavailable
	}
	if _, err := t.backend.BlockNumber(ctx); err != nil {
		t.setConnected(false)
		return fmt.Errorf("block number: %w", err)
	}
	if t.ChainID() == nil {
		id, err := t.backend.ChainID(ctx)
		if err != nil {
			t.setConnected(false)
			return fmt.Errorf("chain id: %w", err)
		}
		t.chainMu.Lock()
		t.chainID = id
		t.chainMu.Unlock()
		t.log.WithFields(logrus.Fields{"chain_id": id.String(), "signer": t.from.Hex()}).Info("connected to node")
	}
	t.setConnected(true)
	return nil
}

// Watch checks the node every interval until ctx is done.
func (t *Transactor) Watch(ctx context.Context, interval time.Duration) error {
	if !t.configured() {
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, interval)
			if err := t.CheckHealth(pctx); err != nil && ctx.Err() == nil {
				t.log.WithError(err).Warn("node health check failed")
			}
			cancel()
		}
	}
}

func (t *Transactor) setConnected(ok bool) {
	if t.connected.Swap(ok) != ok {
		if ok {
			t.log.Info("chain available")
		} else {
			t.log.Warn("chain unavailable")
		}
	}
	metrics.SetChainAvailable(t.configured() && ok)
}

// Mint submits mint(to, amount) and waits for its receipt. Caller
// cancellation is ignored: every RPC call is bounded by RPCTimeout and the
// wait by ReceiptTimeout instead.
func (t *Transactor) Mint(ctx context.Context, to string, amount float64) Outcome {
	ctx = context.WithoutCancel(ctx)
	amountWei := ToWei(amount)

	if !t.Available() {
		return failed(amountWei, ErrUnavailable)
	}
	if amountWei.Sign() <= 0 {
		return failed(amountWei, ErrZeroAmount)
	}
	if !common.IsHexAddress(to) {
		return failed(amountWei, fmt.Errorf("%w: %q", ErrInvalidRecipient, to))
	}
	recipient := common.HexToAddress(to)

	t.mu.Lock()
	defer t.mu.Unlock()

	log := t.log.WithFields(logrus.Fields{"account": to, "amount": FormatUnits(amountWei)})

	rctx, cancel := context.WithTimeout(ctx, t.opts.RPCTimeout)
	gasPrice, err := t.backend.SuggestGasPrice(rctx)
	cancel()
	if err != nil {
		t.noteRPCError(err)
		return failed(amountWei, fmt.Errorf("suggest gas price: %w", err))
	}
	gasPrice = t.bufferGasPrice(gasPrice)

	// Always from the node; this process is assumed to be the key's only sender.
	rctx, cancel = context.WithTimeout(ctx, t.opts.RPCTimeout)
	nonce, err := t.backend.NonceAt(rctx, t.from, nil)
	cancel()
	if err != nil {
		t.noteRPCError(err)
		return failed(amountWei, fmt.Errorf("nonce: %w", err))
	}

	data, err := PackMint(recipient, amountWei)
	if err != nil {
		return failed(amountWei, fmt.Errorf("pack mint: %w", err))
	}

	chainID := t.ChainID()
	token := t.token
	signed, err := types.SignTx(types.NewTx(&types.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      t.opts.GasLimit,
		To:       &token,
		Value:    new(big.Int),
		Data:     data,
	}), types.LatestSignerForChainID(chainID), t.key)
	if err != nil {
		return failed(amountWei, fmt.Errorf("sign tx: %w", err))
	}

	out := Outcome{
		TxHash:    signed.Hash(),
		Nonce:     nonce,
		GasPrice:  gasPrice,
		AmountWei: amountWei,
	}
	log = log.WithFields(logrus.Fields{"tx_hash": out.TxHash.Hex(), "nonce": nonce})

	rctx, cancel = context.WithTimeout(ctx, t.opts.RPCTimeout)
	err = t.backend.SendTransaction(rctx, signed)
	cancel()
	switch {
	case err == nil:
		log.Info("mint transaction sent")
	case sendOutcomeUnknown(err):
		// The node may have accepted it; the receipt decides.
		log.WithError(err).Warn("mint send did not answer; waiting for receipt")
	default:
		t.noteRPCError(err)
		out.Status = StatusSubmissionFailed
		out.Err = fmt.Errorf("send tx: %w", err)
		return out
	}

	receipt, err := t.waitReceipt(ctx, out.TxHash)
	if err != nil {
		out.Status = StatusTimedOut
		out.Err = err
		return out
	}

	if receipt.BlockNumber != nil {
		out.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		out.Status = StatusConfirmed
	} else {
		out.Status = StatusReverted
		out.Err = errors.New("execution reverted")
	}
	return out
}

func (t *Transactor) bufferGasPrice(price *big.Int) *big.Int {
	out := new(big.Int).Mul(price, big.NewInt(100+t.opts.GasPriceBufferPct))
	return out.Div(out, big.NewInt(100))
}

func (t *Transactor) waitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.opts.ReceiptTimeout)
	defer cancel()

	ticker := time.NewTicker(t.opts.ReceiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := t.backend.TransactionReceipt(wctx, hash)
		switch {
		case err == nil && receipt != nil:
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound) && wctx.Err() == nil:
			t.log.WithError(err).WithField("tx_hash", hash.Hex()).Debug("receipt poll failed")
		}

		select {
		case <-wctx.Done():
			return nil, fmt.Errorf("no receipt for %s within %s: %w", hash.Hex(), t.opts.ReceiptTimeout, wctx.Err())
		case <-ticker.C:
		}
	}
}

func sendOutcomeUnknown(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (t *Transactor) noteRPCError(err error) {
	if isConnectivityErr(err) {
		t.setConnected(false)
	}
}

func isConnectivityErr(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, token := range []string{"connection refused", "connection reset", "no such host", "broken pipe", "eof"} {
		if strings.Contains(msg, token) {
			return true
		}
	}
	return false
}
