package hooks

import (
	"context"
	"errors"
	"testing"

	"faucetd/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestLocalHooks_BeforeClaimShortCircuitsOnFirstError(t *testing.T) {
	h := NewLocalHooks()
	var ran []int
	h.AddBeforeClaim(func(ctx context.Context, sessionID, targetAddr, amount string) error {
		ran = append(ran, 1)
		return nil
	})
	wantErr := errors.New("vetoed")
	h.AddBeforeClaim(func(ctx context.Context, sessionID, targetAddr, amount string) error {
		ran = append(ran, 2)
		return wantErr
	})
	h.AddBeforeClaim(func(ctx context.Context, sessionID, targetAddr, amount string) error {
		ran = append(ran, 3)
		return nil
	})

	err := h.BeforeClaim(context.Background(), "s1", "addr1", "100")
	assert.ErrorIs(t, err, wantErr)
	assert.Equal(t, []int{1, 2}, ran)
}

func TestLocalHooks_SessionClaimedRunsAll(t *testing.T) {
	h := NewLocalHooks()
	var calls int
	h.AddSessionClaimed(func(ctx context.Context, info models.ClaimInfo) { calls++ })
	h.AddSessionClaimed(func(ctx context.Context, info models.ClaimInfo) { calls++ })

	h.SessionClaimed(context.Background(), models.ClaimInfo{SessionID: "s1"})
	assert.Equal(t, 2, calls)
}
