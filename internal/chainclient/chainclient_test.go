package chainclient

import (
	"context"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"faucetd/internal/interfaces"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLCDClient_GetTx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"tx_response": map[string]interface{}{
				"code":    0,
				"height":  "12345",
				"raw_log": "",
			},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "cosmos1sender")
	res, err := c.GetTx(context.Background(), "ABC123")
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, uint32(0), res.Code)
	assert.Equal(t, int64(12345), res.Height)
}

func TestLCDClient_GetTx_NotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, "cosmos1sender")
	res, err := c.GetTx(context.Background(), "MISSING")
	require.NoError(t, err)
	assert.False(t, res.Found)
}

func TestLCDClient_Balance(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"balance": map[string]string{"denom": "utok", "amount": "42000"},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, "cosmos1sender")
	amount, err := c.balance(context.Background(), "utok")
	require.NoError(t, err)
	assert.Equal(t, "42000", amount.String())
}

func TestLCDClient_BalanceOf_QueriesGivenAddress(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]interface{}{
			"balance": map[string]string{"denom": "utok", "amount": "777"},
		})
	}))
	defer srv.Close()

	// The client is bound to its own address, but BalanceOf must query
	// whatever address it is given, not c.address.
	c := New(srv.URL, "cosmos1ownaddress")
	amount, err := c.BalanceOf(context.Background(), "cosmos1someoneelse", "utok")
	require.NoError(t, err)
	assert.Equal(t, "777", amount.String())
	assert.Contains(t, gotPath, "cosmos1someoneelse")
	assert.NotContains(t, gotPath, "cosmos1ownaddress")
}

type fakeQueryClient struct {
	results []interfaces.TxResult
	calls   int
}

func (f *fakeQueryClient) GetTx(ctx context.Context, txHash string) (interfaces.TxResult, error) {
	idx := f.calls
	if idx >= len(f.results) {
		idx = len(f.results) - 1
	}
	f.calls++
	return f.results[idx], nil
}

func (f *fakeQueryClient) BalanceOf(ctx context.Context, addr, denom string) (*big.Int, error) {
	return big.NewInt(0), nil
}

func TestPollUntilFinal_ReturnsOnceFound(t *testing.T) {
	q := &fakeQueryClient{results: []interfaces.TxResult{
		{Found: false},
		{Found: false},
		{Found: true, Code: 0, Height: 99},
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := PollUntilFinal(ctx, q, "TXHASH", 10)
	require.NoError(t, err)
	assert.True(t, res.Found)
	assert.Equal(t, int64(99), res.Height)
	assert.Equal(t, 3, q.calls)
}

func TestPollUntilFinal_ExhaustsAttempts(t *testing.T) {
	q := &fakeQueryClient{results: []interfaces.TxResult{{Found: false}}}

	_, err := PollUntilFinal(context.Background(), q, "TXHASH", 2)
	assert.Error(t, err)
}
