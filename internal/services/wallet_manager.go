package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"sync/atomic"
	"time"

	"faucetd/internal/config"
	"faucetd/internal/faucetstatus"
	"faucetd/internal/interfaces"
	"faucetd/internal/metrics"
	"faucetd/internal/models"
)

// Sentinel domain errors client code matches against, mirroring the
// teacher's wrapped-error convention (fmt.Errorf + %w) for everything
// below this.
var (
	ErrWalletNotReady = fmt.Errorf("ERR_WALLET_NOT_READY")
)

// WalletManager owns the hot wallet: the signing client, the read-only
// query client, and the last-known WalletState snapshot. It is the
// sole writer of WalletState: LoadWalletState publishes a fresh
// snapshot, and SendTokens/ExecuteContract publish an optimistically
// debited copy after each successful broadcast.
type WalletManager struct {
	cfg    *config.ChainConfig
	client interfaces.ChainClient
	query  interfaces.QueryClient

	state atomic.Pointer[models.WalletState]

	reload    chan struct{}
	retryOnce atomicRetryTimer
}

type atomicRetryTimer struct {
	timer *time.Timer
}

// NewWalletManager wires a WalletManager around an already-constructed
// chain client pair; constructing those clients (deriving the address
// from cwWalletMnemonic, opening RPC connections) is the out-of-scope
// chain-client-transport boundary and happens in
// app.InitializeContainer.
func NewWalletManager(cfg *config.ChainConfig, client interfaces.ChainClient, query interfaces.QueryClient) *WalletManager {
	w := &WalletManager{
		cfg:    cfg,
		client: client,
		query:  query,
		reload: make(chan struct{}, 1),
	}
	w.state.Store(models.ZeroState())
	return w
}

// Initialize kicks off the first LoadWalletState and starts a listener
// for the reload signal sent by RequestReload. Each call starts one
// more listener; earlier ones keep running until ctx is done.
func (w *WalletManager) Initialize(ctx context.Context) {
	log.Printf("🚀 [Wallet] initializing")
	w.LoadWalletState(ctx)
	go w.watchReload(ctx)
}

func (w *WalletManager) watchReload(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.reload:
			w.LoadWalletState(ctx)
		}
	}
}

// RequestReload asks for a fresh LoadWalletState on the next tick of
// the reload watcher; coalesces multiple requests into one reload.
func (w *WalletManager) RequestReload() {
	select {
	case w.reload <- struct{}{}:
	default:
	}
}

// State returns the current immutable snapshot.
func (w *WalletManager) State() *models.WalletState {
	return w.state.Load()
}

// LoadWalletState queries sequence, native balance, and (for a
// contract token) the token balance, and republishes a fresh snapshot.
// On any failure it publishes ready=false with zeroed balances rather
// than leaving a stale snapshot in place, and always updates
// FaucetStatus so operators see the degraded condition.
func (w *WalletManager) LoadWalletState(ctx context.Context) {
	parent := ctx
	ctx, cancel := context.WithTimeout(parent, 10*time.Second)
	defer cancel()

	seq, err := w.client.Sequence(ctx)
	if err != nil {
		w.publishUnready(fmt.Sprintf("sequence query failed: %v", err))
		w.scheduleRetry(parent)
		return
	}

	native, err := w.client.Balance(ctx, w.cfg.Denom)
	if err != nil {
		w.publishUnready(fmt.Sprintf("native balance query failed: %v", err))
		w.scheduleRetry(parent)
		return
	}

	token := native
	if !w.cfg.IsNativeToken {
		token, err = w.contractBalance(ctx)
		if err != nil {
			w.publishUnready(fmt.Sprintf("token balance query failed: %v", err))
			w.scheduleRetry(parent)
			return
		}
	}

	next := &models.WalletState{
		Ready:         true,
		Sequence:      seq,
		TokenBalance:  token,
		NativeBalance: native,
		RefreshedAt:   time.Now(),
	}
	w.state.Store(next)
	w.publishStatus(next)
	log.Printf("✅ [Wallet] refreshed: seq=%d native=%s token=%s", seq, native.String(), token.String())
}

func (w *WalletManager) contractBalance(ctx context.Context) (*big.Int, error) {
	query := []byte(fmt.Sprintf(`{"balance":{"address":%q}}`, w.client.Address))
	raw, err := w.client.ContractQuery(ctx, w.cfg.ContractAddr, query)
	if err != nil {
		return nil, err
	}
	var out struct {
		Balance string `json:"balance"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(out.Balance, 10)
	if !ok {
		return nil, fmt.Errorf("malformed contract balance %q", out.Balance)
	}
	return amount, nil
}

func (w *WalletManager) publishUnready(reason string) {
	log.Printf("❌ [Wallet] %s", reason)
	zero := models.ZeroState()
	zero.RefreshedAt = time.Now()
	w.state.Store(zero)
	w.publishStatus(zero)
}

func (w *WalletManager) publishStatus(s *models.WalletState) {
	metrics.WalletReady.Set(boolToFloat(s.Ready))
	metrics.WalletSequence.Set(float64(s.Sequence))
	metrics.WalletTokenBalance.Set(bigToFloat(s.TokenBalance))
	metrics.WalletNativeBalance.Set(bigToFloat(s.NativeBalance))

	switch {
	case !s.Ready:
		faucetstatus.Set("wallet", faucetstatus.Error, "Cannot connect to network")
	case s.TokenBalance.Cmp(mustAmount(w.cfg.MinBalance)) <= 0 || s.NativeBalance.Cmp(mustAmount(w.cfg.MinGasAmount)) <= 0:
		faucetstatus.Set("wallet", faucetstatus.Error, "The faucet is out of funds!")
	case s.TokenBalance.Cmp(mustAmount(w.cfg.LowBalance)) <= 0:
		faucetstatus.Set("wallet", faucetstatus.Warning, fmt.Sprintf("The faucet is running low on funds! Balance: %s", w.ReadableAmount(s.TokenBalance)))
	default:
		faucetstatus.Set("wallet", faucetstatus.Info, "")
	}
}

// scheduleRetry uses a single-slot timer so repeated failures never
// stack more than one pending retry.
func (w *WalletManager) scheduleRetry(ctx context.Context) {
	if w.retryOnce.timer != nil {
		w.retryOnce.timer.Stop()
	}
	w.retryOnce.timer = time.AfterFunc(5*time.Second, func() {
		w.LoadWalletState(ctx)
	})
}

// SendTokens broadcasts a native send or a CW20-style contract
// transfer depending on cwIsNativeToken, then applies the optimistic
// local debit described in the spec's data model.
func (w *WalletManager) SendTokens(ctx context.Context, recipient string, amount *big.Int) (string, error) {
	state := w.state.Load()
	if !state.Ready {
		return "", ErrWalletNotReady
	}

	var txHash string
	var err error
	if w.cfg.IsNativeToken {
		txHash, err = w.client.SendTokens(ctx, recipient, amount)
	} else {
		msg := []byte(fmt.Sprintf(`{"transfer":{"recipient":%q,"amount":%q}}`, recipient, amount.String()))
		txHash, err = w.client.ExecuteContract(ctx, w.cfg.ContractAddr, msg, nil)
	}
	if err != nil {
		return "", fmt.Errorf("ERR_TX_BROADCAST: %w", err)
	}

	w.applyOptimisticDebit(amount, mustAmount(w.cfg.GasAmount), w.cfg.IsNativeToken)
	return txHash, nil
}

// ExecuteContract is used by RefillController for withdraw/deposit
// messages against the treasury contract; it never touches
// TokenBalance, only sequence and the gas component of NativeBalance.
func (w *WalletManager) ExecuteContract(ctx context.Context, contract string, msg []byte, funds *big.Int) (string, error) {
	state := w.state.Load()
	if !state.Ready {
		return "", ErrWalletNotReady
	}
	txHash, err := w.client.ExecuteContract(ctx, contract, msg, funds)
	if err != nil {
		return "", fmt.Errorf("ERR_TX_BROADCAST: %w", err)
	}
	w.applyOptimisticDebit(big.NewInt(0), mustAmount(w.cfg.GasAmount), false)
	return txHash, nil
}

func (w *WalletManager) applyOptimisticDebit(tokenAmount, gasAmount *big.Int, nativeTokenSpend bool) {
	prev := w.state.Load()
	next := &models.WalletState{
		Ready:         prev.Ready,
		Sequence:      prev.Sequence + 1,
		TokenBalance:  new(big.Int).Sub(prev.TokenBalance, tokenAmount),
		NativeBalance: new(big.Int).Sub(prev.NativeBalance, gasAmount),
		RefreshedAt:   prev.RefreshedAt,
	}
	if nativeTokenSpend {
		next.NativeBalance.Sub(next.NativeBalance, tokenAmount)
	}
	w.state.Store(next)
	metrics.WalletSequence.Set(float64(next.Sequence))
	metrics.WalletTokenBalance.Set(bigToFloat(next.TokenBalance))
	metrics.WalletNativeBalance.Set(bigToFloat(next.NativeBalance))
}

// WalletBalance is a read-through query of an arbitrary external
// address; it is never cached, unlike the wallet's own state. Unlike
// LoadWalletState (which uses ChainClient.Balance) it goes through the
// read-only query client, since it never resolves against this
// wallet's own address.
func (w *WalletManager) WalletBalance(ctx context.Context, addr string) (*big.Int, error) {
	return w.query.BalanceOf(ctx, addr, w.cfg.Denom)
}

// ReadableAmount truncates (never rounds) to 3 fractional digits.
func (w *WalletManager) ReadableAmount(amount *big.Int) string {
	return ReadableAmount(amount, w.cfg.Decimals, w.cfg.Symbol)
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func bigToFloat(v *big.Int) float64 {
	f := new(big.Float).SetInt(v)
	out, _ := f.Float64()
	return out
}

func mustAmount(s string) *big.Int {
	if s == "" {
		return big.NewInt(0)
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return big.NewInt(0)
	}
	return v
}
