package services

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"math/big"
	"sort"
	"sync"
	"time"

	"faucetd/internal/config"
	"faucetd/internal/interfaces"
	"faucetd/internal/metrics"
	"faucetd/internal/models"
	"faucetd/internal/utils"
)

func decodeClaim(raw string) (models.Claim, error) {
	var c models.Claim
	if raw == "" {
		return c, fmt.Errorf("empty claim json")
	}
	err := json.Unmarshal([]byte(raw), &c)
	return c, err
}

func encodeClaim(c models.Claim) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// FailureReason carries the human-facing txError message for a claim
// that processOne decided to fail. Using a result value instead of an
// error keeps queue processing out of Go's error-propagation path
// entirely: failures are data, handled by the same code that handles
// success.
type FailureReason struct {
	Message string
}

// ClaimPipeline owns the queue/pending/history maps and drives the
// claim state machine described by the data model: QUEUE -> PROCESSING
// -> PENDING -> CONFIRMED|FAILED. claimIdx, not the wallet's on-chain
// sequence number, is the ordering and history key — a sequence number
// is reused across retries and double-broadcasts and makes a poor
// primary key for anything persisted.
type ClaimPipeline struct {
	cfg    *config.ChainConfig
	pcfg   config.PipelineConfig
	store  interfaces.SessionStore
	hooks  interfaces.ModuleHooks
	wallet *WalletManager
	query  interfaces.QueryClient
	hub    *NotificationHub

	mu           sync.Mutex
	queue        []*models.ClaimInfo
	bySession    map[string]*models.ClaimInfo
	pending      map[string]*models.ClaimInfo
	historyByIdx map[int64]*models.ClaimInfo

	nextClaimIdx           int64
	lastProcessedClaimIdx  int64
	lastConfirmedClaimIdx  int64

	ticking  int32 // single-flight guard for the queue tick, held under mu
	stopChan chan struct{}
	wg       sync.WaitGroup

	statusCacheMu  sync.Mutex
	statusCache    *QueueStatus
	statusCachedAt time.Time
}

// QueueStatus is the aggregated snapshot served by getQueueStatus.
type QueueStatus struct {
	QueueLength    int   `json:"queueLength"`
	PendingCount   int   `json:"pendingCount"`
	ProcessedIdx   int64 `json:"processedIdx"`
	ConfirmedIdx   int64 `json:"confirmedIdx"`
}

const queueStatusCacheTTL = 10 * time.Second

// NewClaimPipeline wires a ClaimPipeline around its collaborators. The
// teacher's global service registry is replaced by this constructor's
// parameter list; app.ServiceContainer is the only place that
// assembles one.
func NewClaimPipeline(cfg *config.ChainConfig, pcfg config.PipelineConfig, store interfaces.SessionStore, hooks interfaces.ModuleHooks, wallet *WalletManager, query interfaces.QueryClient, hub *NotificationHub) *ClaimPipeline {
	return &ClaimPipeline{
		cfg:          cfg,
		pcfg:         pcfg,
		store:        store,
		hooks:        hooks,
		wallet:       wallet,
		query:        query,
		hub:          hub,
		bySession:    make(map[string]*models.ClaimInfo),
		pending:      make(map[string]*models.ClaimInfo),
		historyByIdx: make(map[int64]*models.ClaimInfo),
		nextClaimIdx: 1,
		stopChan:     make(chan struct{}),
	}
}

// Recover rebuilds queue/bySession/pending from every persisted
// CLAIMING session, then resumes confirmation watchers for anything
// already broadcast. Must run before Start.
func (p *ClaimPipeline) Recover(ctx context.Context) error {
	recs, err := p.store.GetClaimingSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to load claiming sessions: %w", err)
	}

	p.mu.Lock()
	var maxIdx int64
	for _, rec := range recs {
		claim, err := decodeClaim(rec.ClaimJSON)
		if err != nil {
			log.Printf("❌ [Pipeline] dropping session %s: malformed claim json: %v", rec.SessionID, err)
			continue
		}
		info := &models.ClaimInfo{
			SessionID:  rec.SessionID,
			TargetAddr: rec.TargetAddr,
			Amount:     rec.Amount,
			Claim:      claim,
		}
		maxIdx = utils.MaxInt64(maxIdx, claim.ClaimIdx)

		switch claim.Status {
		case models.ClaimStatusQueue, models.ClaimStatusProcessing:
			info.Claim.Status = models.ClaimStatusQueue
			p.queue = append(p.queue, info)
			p.bySession[info.SessionID] = info
		case models.ClaimStatusPending:
			if claim.TxHash == "" {
				log.Printf("❌ [Pipeline] dropping session %s: PENDING with no txHash", rec.SessionID)
				continue
			}
			p.pending[claim.TxHash] = info
			p.bySession[info.SessionID] = info
			p.wg.Add(1)
			go p.watchConfirmation(context.Background(), info)
		default:
			log.Printf("❌ [Pipeline] dropping session %s: unrecoverable substatus %s", rec.SessionID, claim.Status)
		}
	}
	sort.Slice(p.queue, func(i, j int) bool { return p.queue[i].Claim.ClaimIdx < p.queue[j].Claim.ClaimIdx })
	p.nextClaimIdx = maxIdx + 1
	p.mu.Unlock()

	log.Printf("🔁 [Pipeline] recovered %d claiming sessions, nextClaimIdx=%d", len(recs), p.nextClaimIdx)
	return nil
}

// Start launches the 2-second queue tick loop. Stop cancels it and
// waits for in-flight confirmation watchers started by Recover or by a
// running tick to reach their outcome (confirmed, failed, or timed out).
func (p *ClaimPipeline) Start(ctx context.Context) {
	p.wg.Add(1)
	go p.tickLoop(ctx)
}

func (p *ClaimPipeline) Stop() {
	close(p.stopChan)
	p.hub.Reset()
	p.wg.Wait()
}

func (p *ClaimPipeline) tickLoop(ctx context.Context) {
	defer p.wg.Done()
	ticker := time.NewTicker(p.pcfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.tick(ctx)
		case <-p.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// CreateClaim evaluates the four ordered preconditions, allocates
// claimIdx, runs the pre-claim hook, persists the flip to CLAIMING and
// the new claim, and enqueues it.
func (p *ClaimPipeline) CreateClaim(ctx context.Context, sessionID, targetAddr, amount string) (*models.ClaimInfo, error) {
	session, err := p.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}
	if session == nil || session.Status != models.SessionStatusClaimable {
		return nil, ErrNotClaimable
	}

	dropAmount, ok := new(big.Int).SetString(amount, 10)
	if !ok {
		return nil, ErrAmountTooLow
	}
	if dropAmount.Cmp(mustAmount(p.cfg.MinAmount)) < 0 {
		return nil, ErrAmountTooLow
	}
	if dropAmount.Cmp(mustAmount(p.cfg.MaxAmount)) > 0 {
		return nil, ErrAmountTooHigh
	}
	if !hasPrefix(targetAddr, p.cfg.AddressPrefix) {
		return nil, ErrInvalidAddress
	}

	// The check-and-reserve must happen under one critical section: a
	// concurrent CreateClaim for the same session has to see the
	// reservation before it can race past the exists check. Everything
	// after this point rolls the reservation back on failure instead of
	// inserting it only once every precondition has already passed.
	p.mu.Lock()
	if _, exists := p.bySession[sessionID]; exists {
		p.mu.Unlock()
		return nil, ErrRaceClaiming
	}
	claimIdx := p.nextClaimIdx
	p.nextClaimIdx++
	claim := models.Claim{
		ClaimIdx:  claimIdx,
		Status:    models.ClaimStatusQueue,
		ClaimTime: time.Now().Unix(),
	}
	info := &models.ClaimInfo{
		SessionID:  sessionID,
		TargetAddr: targetAddr,
		Amount:     amount,
		Claim:      claim,
	}
	p.bySession[sessionID] = info
	p.mu.Unlock()

	if err := p.hooks.BeforeClaim(ctx, sessionID, targetAddr, amount); err != nil {
		p.mu.Lock()
		delete(p.bySession, sessionID)
		p.mu.Unlock()
		if isDomainError(err) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	rec := &models.SessionRecord{
		SessionID:  sessionID,
		TargetAddr: targetAddr,
		Amount:     amount,
		ClaimIdx:   claimIdx,
	}
	data, _ := encodeClaim(claim)
	rec.ClaimJSON = data
	if err := p.store.CreateClaimingSession(ctx, rec); err != nil {
		p.mu.Lock()
		delete(p.bySession, sessionID)
		p.mu.Unlock()
		return nil, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	p.mu.Lock()
	p.queue = append(p.queue, info)
	metrics.QueueDepth.Set(float64(len(p.queue)))
	p.mu.Unlock()

	return info, nil
}

// tick drains the queue while pending has room and the wallet can pay
// gas, processing claims sequentially within the tick. Re-entry while
// a previous tick is still running is skipped, not queued.
func (p *ClaimPipeline) tick(ctx context.Context) {
	if !p.beginTick() {
		return
	}
	defer p.endTick()

	p.mu.Lock()
	prevProcessed := p.lastProcessedClaimIdx
	prevConfirmed := p.lastConfirmedClaimIdx
	p.mu.Unlock()

	for {
		state := p.wallet.State()
		p.mu.Lock()
		if len(p.pending) >= p.cfg.MaxPending || len(p.queue) == 0 {
			p.mu.Unlock()
			break
		}
		if !state.Ready || state.NativeBalance.Cmp(mustAmount(p.cfg.MinGasAmount)) <= 0 {
			p.mu.Unlock()
			break
		}
		c := p.queue[0]
		p.queue = p.queue[1:]
		p.lastProcessedClaimIdx = c.Claim.ClaimIdx
		metrics.QueueDepth.Set(float64(len(p.queue)))
		metrics.LastProcessedClaimIdx.Set(float64(c.Claim.ClaimIdx))
		p.mu.Unlock()

		p.processOne(ctx, c)
	}

	p.mu.Lock()
	processed, confirmed := p.lastProcessedClaimIdx, p.lastConfirmedClaimIdx
	p.mu.Unlock()

	if processed != prevProcessed || confirmed != prevConfirmed {
		p.hub.Broadcast(BroadcastData{ProcessedIdx: processed, ConfirmedIdx: confirmed})
	}
}

func (p *ClaimPipeline) beginTick() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticking != 0 {
		return false
	}
	p.ticking = 1
	return true
}

func (p *ClaimPipeline) endTick() {
	p.mu.Lock()
	p.ticking = 0
	p.mu.Unlock()
}

// processOne mutates c in place, persists the transition, and never
// returns an error: every outcome is represented in the Claim itself.
func (p *ClaimPipeline) processOne(ctx context.Context, c *models.ClaimInfo) (ok bool, failed *FailureReason) {
	state := p.wallet.State()
	if !state.Ready {
		p.fail(ctx, c, "Network RPC is currently unreachable.")
		return false, &FailureReason{Message: "Network RPC is currently unreachable."}
	}
	if state.NativeBalance.Cmp(mustAmount(p.cfg.MinGasAmount)) <= 0 {
		p.fail(ctx, c, "Faucet wallet is out of gas funds.")
		return false, &FailureReason{Message: "Faucet wallet is out of gas funds."}
	}

	c.Claim.Status = models.ClaimStatusProcessing
	p.persist(ctx, c)

	amount := mustAmount(c.Amount)
	txHash, err := p.wallet.SendTokens(ctx, c.TargetAddr, amount)
	if err != nil {
		msg := "Processing Exception: " + err.Error()
		p.fail(ctx, c, msg)
		return false, &FailureReason{Message: msg}
	}

	c.Claim.TxHash = txHash
	c.Claim.Status = models.ClaimStatusPending
	p.persist(ctx, c)

	p.mu.Lock()
	p.pending[txHash] = c
	metrics.PendingCount.Set(float64(len(p.pending)))
	p.mu.Unlock()

	p.wg.Add(1)
	go p.watchConfirmation(context.Background(), c)

	return true, nil
}

// watchConfirmation polls the read-only query client until it yields a
// result or the configured bound elapses, then retires the claim.
func (p *ClaimPipeline) watchConfirmation(ctx context.Context, c *models.ClaimInfo) {
	defer p.wg.Done()

	ctx, cancel := context.WithTimeout(ctx, p.pcfg.ConfirmationTimeout)
	defer cancel()

	const pollInterval = 2 * time.Second
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		result, err := p.query.GetTx(ctx, c.Claim.TxHash)
		if err == nil && result.Found {
			if result.Code == 0 {
				c.Claim.TxHeight = result.Height
				c.Claim.TxFee = p.cfg.GasAmount
				c.Claim.Status = models.ClaimStatusConfirmed
				p.confirm(context.Background(), c)
			} else {
				p.fail(context.Background(), c, "Transaction failed")
			}
			return
		}

		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			p.fail(context.Background(), c, "confirmation timeout")
			return
		}
	}
}

func (p *ClaimPipeline) confirm(ctx context.Context, c *models.ClaimInfo) {
	p.persist(ctx, c)
	p.retire(c)

	p.mu.Lock()
	p.lastConfirmedClaimIdx = utils.MaxInt64(p.lastConfirmedClaimIdx, c.Claim.ClaimIdx)
	metrics.LastConfirmedClaimIdx.Set(float64(p.lastConfirmedClaimIdx))
	p.mu.Unlock()

	p.hooks.SessionClaimed(ctx, *c)
	metrics.ClaimsProcessed.WithLabelValues("confirmed").Inc()
	p.hub.Broadcast(BroadcastData{ProcessedIdx: p.lastProcessedClaimIdx, ConfirmedIdx: p.lastConfirmedClaimIdx})
}

func (p *ClaimPipeline) fail(ctx context.Context, c *models.ClaimInfo, message string) {
	c.Claim.Status = models.ClaimStatusFailed
	c.Claim.TxError = message
	p.persist(ctx, c)
	p.retire(c)
	metrics.ClaimsProcessed.WithLabelValues("failed").Inc()
}

// retire removes a terminal claim from every live collection and moves
// it into historyByIdx for the configured retention window.
func (p *ClaimPipeline) retire(c *models.ClaimInfo) {
	idx := c.Claim.ClaimIdx
	p.mu.Lock()
	delete(p.bySession, c.SessionID)
	if c.Claim.TxHash != "" {
		delete(p.pending, c.Claim.TxHash)
	}
	p.historyByIdx[idx] = c
	metrics.PendingCount.Set(float64(len(p.pending)))
	p.mu.Unlock()

	time.AfterFunc(p.pcfg.HistoryRetention, func() {
		p.mu.Lock()
		delete(p.historyByIdx, idx)
		p.mu.Unlock()
	})
}

func (p *ClaimPipeline) persist(ctx context.Context, c *models.ClaimInfo) {
	if err := p.store.UpdateClaim(ctx, c.SessionID, c.Claim); err != nil {
		log.Printf("❌ [Pipeline] failed to persist claim for session %s: %v", c.SessionID, err)
	}
}

// QueuedAmount sums the amount committed to every claim still waiting
// in the queue, used by RefillController's available-balance formula.
func (p *ClaimPipeline) QueuedAmount() *big.Int {
	p.mu.Lock()
	defer p.mu.Unlock()
	sum := big.NewInt(0)
	for _, c := range p.queue {
		sum.Add(sum, mustAmount(c.Amount))
	}
	return sum
}

// TransactionQueue returns queue ++ pending values, and historyByIdx
// values unless queueOnly is set.
func (p *ClaimPipeline) TransactionQueue(queueOnly bool) []models.ClaimInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]models.ClaimInfo, 0, len(p.queue)+len(p.pending)+len(p.historyByIdx))
	for _, c := range p.queue {
		out = append(out, *c)
	}
	for _, c := range p.pending {
		out = append(out, *c)
	}
	if !queueOnly {
		for _, c := range p.historyByIdx {
			out = append(out, *c)
		}
	}
	return out
}

// CachedQueueStatus serves getQueueStatus from a 10-second TTL cache,
// grounded on unified_polling_service.go's refresh-on-stale-read
// pattern. On a refresh it reads the queue and pending counts and the
// two watermarks under mu; it does not list entries the way
// TransactionQueue does.
func (p *ClaimPipeline) CachedQueueStatus() QueueStatus {
	p.statusCacheMu.Lock()
	defer p.statusCacheMu.Unlock()

	if p.statusCache != nil && time.Since(p.statusCachedAt) < queueStatusCacheTTL {
		return *p.statusCache
	}

	p.mu.Lock()
	status := QueueStatus{
		QueueLength:  len(p.queue),
		PendingCount: len(p.pending),
		ProcessedIdx: p.lastProcessedClaimIdx,
		ConfirmedIdx: p.lastConfirmedClaimIdx,
	}
	p.mu.Unlock()

	p.statusCache = &status
	p.statusCachedAt = time.Now()
	return status
}

func hasPrefix(addr, prefix string) bool {
	return len(addr) >= len(prefix) && addr[:len(prefix)] == prefix
}

func isDomainError(err error) bool {
	switch err {
	case ErrNotClaimable, ErrAmountTooLow, ErrAmountTooHigh, ErrInvalidAddress, ErrRaceClaiming:
		return true
	default:
		return false
	}
}
