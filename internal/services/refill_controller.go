package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"sync"
	"time"

	"faucetd/internal/chainclient"
	"faucetd/internal/config"
	"faucetd/internal/interfaces"
	"faucetd/internal/metrics"
	"faucetd/internal/models"
)

const refillAttemptCooldown = 60 * time.Second

// refillConfirmAttempts bounds how long Check waits for a refill/
// overflow broadcast to confirm before giving up on it, at
// chainclient.PollUntilFinal's fixed poll interval.
const refillConfirmAttempts = 60

// RefillController keeps the dispensing wallet's available token
// balance inside [refillThreshold, refillOverflowAmount], withdrawing
// from or depositing to a treasury contract when the band is exited.
// Grounded on the teacher's scheduler_service.go ticker-lifecycle
// pattern and withdraw_timeout_service.go's cooldown-check shape.
type RefillController struct {
	cfg    config.RefillConfig
	wallet *WalletManager
	store  interfaces.SessionStore
	queue  *ClaimPipeline
	query  interfaces.QueryClient

	mu    sync.Mutex
	state models.RefillState

	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewRefillController(cfg config.RefillConfig, wallet *WalletManager, store interfaces.SessionStore, queue *ClaimPipeline, query interfaces.QueryClient) *RefillController {
	return &RefillController{
		cfg:      cfg,
		wallet:   wallet,
		store:    store,
		queue:    queue,
		query:    query,
		stopChan: make(chan struct{}),
	}
}

// Start runs an immediate check followed by a ticker at the fixed
// 60-second attempt cooldown, matching the teacher's runXSync
// immediate-then-loop shape.
func (r *RefillController) Start(ctx context.Context) {
	if !r.cfg.Enabled || r.cfg.Contract == "" {
		log.Printf("ℹ️ [Refill] disabled or no contract configured, controller is a no-op")
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.Check(ctx)
		ticker := time.NewTicker(refillAttemptCooldown)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				r.Check(ctx)
			case <-r.stopChan:
				return
			}
		}
	}()
}

func (r *RefillController) Stop() {
	close(r.stopChan)
	r.wg.Wait()
}

// Check is single-flight: a concurrent call while one is already
// in-flight is a no-op, as is a call within either cooldown window.
func (r *RefillController) Check(ctx context.Context) {
	if !r.cfg.Enabled || r.cfg.Contract == "" {
		return
	}

	r.mu.Lock()
	if r.state.InFlight {
		r.mu.Unlock()
		return
	}
	now := time.Now()
	if now.Sub(r.state.LastAttemptTime) < refillAttemptCooldown {
		r.mu.Unlock()
		return
	}
	if now.Sub(r.state.LastSuccessTime) < time.Duration(r.cfg.CooldownSeconds)*time.Second {
		r.mu.Unlock()
		return
	}
	r.state.InFlight = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.state.InFlight = false
		r.mu.Unlock()
	}()

	action, amount, err := r.decide(ctx)
	if err != nil {
		log.Printf("❌ [Refill] could not compute available balance: %v", err)
		return
	}
	if action == models.RefillActionNone {
		return
	}

	r.mu.Lock()
	r.state.LastAttemptTime = time.Now()
	r.mu.Unlock()

	txHash, err := r.execute(ctx, action, amount)
	if err != nil {
		log.Printf("❌ [Refill] %s attempt failed: %v", action, err)
		metrics.RefillAttempts.WithLabelValues(string(action), "failure").Inc()
		return
	}

	// lastSuccessTime is only stamped once the broadcast has actually
	// confirmed, not merely been accepted by the mempool — a dropped or
	// reverted refill tx must not start the success cooldown.
	result, err := chainclient.PollUntilFinal(ctx, r.query, txHash, refillConfirmAttempts)
	if err != nil || result.Code != 0 {
		log.Printf("❌ [Refill] %s txHash=%s did not confirm: %v", action, txHash, err)
		metrics.RefillAttempts.WithLabelValues(string(action), "failure").Inc()
		return
	}

	r.mu.Lock()
	r.state.LastSuccessTime = time.Now()
	r.mu.Unlock()
	metrics.RefillAttempts.WithLabelValues(string(action), "success").Inc()
	r.wallet.LoadWalletState(ctx)
}

func (r *RefillController) decide(ctx context.Context) (models.RefillAction, *big.Int, error) {
	state := r.wallet.State()
	unclaimed, err := r.store.UnclaimedBalance(ctx)
	if err != nil {
		return models.RefillActionNone, nil, err
	}
	queued := r.queue.QueuedAmount()

	available := new(big.Int).Sub(state.TokenBalance, unclaimed)
	available.Sub(available, queued)

	overflow := mustAmount(r.cfg.OverflowAmount)
	threshold := mustAmount(r.cfg.Threshold)

	switch {
	case available.Cmp(overflow) > 0:
		return models.RefillActionOverflow, new(big.Int).Sub(available, overflow), nil
	case available.Cmp(threshold) < 0:
		return models.RefillActionRefill, mustAmount(r.cfg.Amount), nil
	default:
		return models.RefillActionNone, nil, nil
	}
}

func (r *RefillController) execute(ctx context.Context, action models.RefillAction, amount *big.Int) (string, error) {
	var msg []byte
	var funds *big.Int

	switch action {
	case models.RefillActionRefill:
		msg, _ = json.Marshal(map[string]interface{}{
			"withdraw": map[string]string{"amount": mustAmount(r.cfg.Amount).String()},
		})
	case models.RefillActionOverflow:
		msg, _ = json.Marshal(map[string]interface{}{"deposit": map[string]interface{}{}})
		funds = amount
	default:
		return "", fmt.Errorf("unexpected refill action %q", action)
	}

	txHash, err := r.wallet.ExecuteContract(ctx, r.cfg.Contract, msg, funds)
	if err != nil {
		return "", err
	}
	log.Printf("💧 [Refill] %s broadcast txHash=%s amount=%s", action, txHash, amount.String())
	return txHash, nil
}
