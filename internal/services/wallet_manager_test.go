package services

import (
	"context"
	"math/big"
	"testing"

	"faucetd/internal/config"
	"faucetd/internal/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingQueryClient struct {
	lastAddr  string
	lastDenom string
	balance   *big.Int
}

func (q *recordingQueryClient) GetTx(ctx context.Context, txHash string) (interfaces.TxResult, error) {
	return interfaces.TxResult{}, nil
}

func (q *recordingQueryClient) BalanceOf(ctx context.Context, addr, denom string) (*big.Int, error) {
	q.lastAddr = addr
	q.lastDenom = denom
	return q.balance, nil
}

// TestWalletBalance_QueriesTheGivenAddress guards against WalletBalance
// silently resolving against the faucet's own address instead of the
// external one it was asked about.
func TestWalletBalance_QueriesTheGivenAddress(t *testing.T) {
	query := &recordingQueryClient{balance: big.NewInt(555)}
	cfg := &config.ChainConfig{Denom: "utok"}
	w := NewWalletManager(cfg, interfaces.ChainClient{Address: "cosmos1faucet"}, query)

	amount, err := w.WalletBalance(context.Background(), "cosmos1someoneelse")
	require.NoError(t, err)
	assert.Equal(t, "555", amount.String())
	assert.Equal(t, "cosmos1someoneelse", query.lastAddr)
	assert.Equal(t, "utok", query.lastDenom)
}
