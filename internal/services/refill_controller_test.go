package services

import (
	"context"
	"math/big"
	"testing"

	"faucetd/internal/config"
	"faucetd/internal/interfaces"
	"faucetd/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type unclaimedStore struct {
	fakeStore
	unclaimed *big.Int
}

func (s *unclaimedStore) UnclaimedBalance(ctx context.Context) (*big.Int, error) {
	return s.unclaimed, nil
}

func walletWithTokenBalance(balance *big.Int) *WalletManager {
	w := NewWalletManager(&config.ChainConfig{}, interfaces.ChainClient{}, nil)
	w.state.Store(&models.WalletState{
		Ready:         true,
		TokenBalance:  balance,
		NativeBalance: big.NewInt(0),
	})
	return w
}

func TestRefillController_Decide(t *testing.T) {
	cfg := config.RefillConfig{
		Enabled:        true,
		Contract:       "cosmos1refill",
		Amount:         "1000",
		Threshold:      "500",
		OverflowAmount: "5000",
	}

	cases := []struct {
		name          string
		tokenBalance  int64
		unclaimed     int64
		queued        int64
		wantAction    models.RefillAction
	}{
		{"below threshold triggers refill", 100, 0, 0, models.RefillActionRefill},
		{"above overflow triggers overflow", 10000, 0, 0, models.RefillActionOverflow},
		{"inside band does nothing", 2000, 0, 0, models.RefillActionNone},
		{"unclaimed and queued reduce availability below threshold", 5000, 3000, 2000, models.RefillActionRefill},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &unclaimedStore{unclaimed: big.NewInt(tc.unclaimed)}
			queueStore := newFakeStore()
			pipeline := newTestPipeline(queueStore)
			if tc.queued > 0 {
				queueStore.sessions["q1"] = &models.SessionRecord{SessionID: "q1", Status: models.SessionStatusClaimable}
				_, err := pipeline.CreateClaim(context.Background(), "q1", "cosmos1abc", big.NewInt(tc.queued).String())
				require.NoError(t, err)
			}

			wallet := walletWithTokenBalance(big.NewInt(tc.tokenBalance))
			rc := NewRefillController(cfg, wallet, store, pipeline, nil)

			action, _, err := rc.decide(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.wantAction, action)
		})
	}
}
