package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"faucetd/internal/interfaces"
	"faucetd/internal/models"

	"gorm.io/gorm"
)

// sessionRepository is the GORM-backed interfaces.SessionStore.
type sessionRepository struct {
	db *gorm.DB
}

// NewSessionRepository builds the default persistence adapter for the
// claim-settlement subsystem.
func NewSessionRepository(db *gorm.DB) interfaces.SessionStore {
	return &sessionRepository{db: db}
}

func (r *sessionRepository) GetClaimingSessions(ctx context.Context) ([]models.SessionRecord, error) {
	var recs []models.SessionRecord
	err := r.db.WithContext(ctx).
		Where("status = ?", models.SessionStatusClaiming).
		Order("claim_idx ASC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to query claiming sessions: %w", err)
	}
	return recs, nil
}

func (r *sessionRepository) GetSession(ctx context.Context, sessionID string) (*models.SessionRecord, error) {
	var rec models.SessionRecord
	err := r.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&rec).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query session %s: %w", sessionID, err)
	}
	return &rec, nil
}

func (r *sessionRepository) CreateClaimingSession(ctx context.Context, rec *models.SessionRecord) error {
	rec.Status = models.SessionStatusClaiming
	rec.UpdatedAt = time.Now()
	// The CLAIMABLE row normally exists already: flip it in place, and
	// insert only when there is no row for this session yet.
	res := r.db.WithContext(ctx).Model(&models.SessionRecord{}).
		Where("session_id = ?", rec.SessionID).
		Updates(map[string]interface{}{
			"status":      rec.Status,
			"target_addr": rec.TargetAddr,
			"amount":      rec.Amount,
			"claim_idx":   rec.ClaimIdx,
			"claim_json":  rec.ClaimJSON,
			"updated_at":  rec.UpdatedAt,
		})
	if res.Error == nil && res.RowsAffected == 0 {
		rec.CreatedAt = rec.UpdatedAt
		res = r.db.WithContext(ctx).Create(rec)
	}
	if err := res.Error; err != nil {
		return fmt.Errorf("failed to persist claiming session %s: %w", rec.SessionID, err)
	}
	return nil
}

// UnclaimedBalance sums Amount over every session still sitting in
// CLAIMABLE (committed but not yet claimed). Sessions before CLAIMABLE
// carry no amount yet and are not this subsystem's concern.
func (r *sessionRepository) UnclaimedBalance(ctx context.Context) (*big.Int, error) {
	var rows []string
	err := r.db.WithContext(ctx).Model(&models.SessionRecord{}).
		Where("status = ? AND amount <> ''", models.SessionStatusClaimable).
		Pluck("amount", &rows).Error
	if err != nil {
		return nil, fmt.Errorf("failed to sum unclaimed balance: %w", err)
	}
	sum := big.NewInt(0)
	for _, a := range rows {
		v, ok := new(big.Int).SetString(a, 10)
		if !ok {
			continue
		}
		sum.Add(sum, v)
	}
	return sum, nil
}

func (r *sessionRepository) UpdateClaim(ctx context.Context, sessionID string, claim models.Claim) error {
	data, err := json.Marshal(claim)
	if err != nil {
		return fmt.Errorf("failed to marshal claim: %w", err)
	}
	res := r.db.WithContext(ctx).Model(&models.SessionRecord{}).
		Where("session_id = ?", sessionID).
		Updates(map[string]interface{}{
			"claim_idx":  claim.ClaimIdx,
			"claim_json": string(data),
			"updated_at": time.Now(),
		})
	if res.Error != nil {
		return fmt.Errorf("failed to update claim for session %s: %w", sessionID, res.Error)
	}
	return nil
}
