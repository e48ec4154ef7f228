// Package chainclient is the one concrete implementation of the
// out-of-scope chain-client transport boundary. The spec treats the
// signing client and the read-only query client as external
// collaborators whose interfaces only matter; this HTTP/LCD
// implementation exists so the rest of the subsystem has something
// real to run against. It follows the polling-for-confirmation
// approach of a cosmos LCD REST client: broadcast, then poll
// /cosmos/tx/v1beta1/txs/{hash} until the chain reports a result.
package chainclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"faucetd/internal/interfaces"
)

const pollInterval = 500 * time.Millisecond

// SignAndBroadcastFunc is the injected cryptographic-primitives
// callback: given an unsigned message envelope and optional funds, it
// signs and broadcasts the transaction and returns its hash. Deriving
// keys from a mnemonic and constructing the SignDoc are out of scope
// for this package; callers supply this however they see fit.
type SignAndBroadcastFunc func(ctx context.Context, msg json.RawMessage, funds *big.Int) (txHash string, err error)

// LCDClient speaks the cosmos LCD REST dialect for the read-only
// queries (account, balances, contract state, tx lookup). It does not
// broadcast itself: Build routes sends and executes through the
// injected SignAndBroadcastFunc.
type LCDClient struct {
	baseURL    string
	address    string
	httpClient *http.Client
}

// New builds an LCDClient bound to a wallet address. Signing itself
// (deriving keys from the mnemonic, constructing and signing the
// SignDoc) is a cryptographic-primitives concern explicitly out of
// scope for this subsystem; that work, and the broadcast itself, is
// left to the SignAndBroadcastFunc handed to Build.
func New(baseURL, address string) *LCDClient {
	return &LCDClient{
		baseURL:    baseURL,
		address:    address,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Build returns the interfaces.ChainClient function bundle bound to
// this LCD client, ready for WalletManager to hold.
func (c *LCDClient) Build(signAndBroadcast SignAndBroadcastFunc) interfaces.ChainClient {
	return interfaces.ChainClient{
		Address: c.address,
		SendTokens: func(ctx context.Context, recipient string, amount *big.Int) (string, error) {
			msg, _ := json.Marshal(map[string]interface{}{
				"bank_send": map[string]string{"to_address": recipient, "amount": amount.String()},
			})
			return signAndBroadcast(ctx, msg, nil)
		},
		ExecuteContract: func(ctx context.Context, contract string, msg []byte, funds *big.Int) (string, error) {
			env, _ := json.Marshal(map[string]interface{}{
				"execute": map[string]interface{}{"contract": contract, "msg": json.RawMessage(msg)},
			})
			return signAndBroadcast(ctx, env, funds)
		},
		Sequence: c.accountSequence,
		Balance:  c.balance,
		ContractQuery: c.contractQuery,
	}
}

func (c *LCDClient) accountSequence(ctx context.Context) (uint64, error) {
	var out struct {
		Account struct {
			Sequence string `json:"sequence"`
		} `json:"account"`
	}
	url := fmt.Sprintf("%s/cosmos/auth/v1beta1/accounts/%s", c.baseURL, c.address)
	if err := c.getJSON(ctx, url, &out); err != nil {
		return 0, err
	}
	var seq uint64
	if _, err := fmt.Sscanf(out.Account.Sequence, "%d", &seq); err != nil {
		return 0, fmt.Errorf("malformed sequence %q: %w", out.Account.Sequence, err)
	}
	return seq, nil
}

func (c *LCDClient) balance(ctx context.Context, denom string) (*big.Int, error) {
	return c.BalanceOf(ctx, c.address, denom)
}

// BalanceOf queries denom's balance for an arbitrary bech32 address,
// not just this client's own. It backs both ChainClient.Balance (bound
// to c.address above) and the QueryClient.BalanceOf method
// WalletManager.WalletBalance uses to look up external addresses.
func (c *LCDClient) BalanceOf(ctx context.Context, addr, denom string) (*big.Int, error) {
	var out struct {
		Balance struct {
			Amount string `json:"amount"`
		} `json:"balance"`
	}
	url := fmt.Sprintf("%s/cosmos/bank/v1beta1/balances/%s/by_denom?denom=%s", c.baseURL, addr, denom)
	if err := c.getJSON(ctx, url, &out); err != nil {
		return nil, err
	}
	amount, ok := new(big.Int).SetString(out.Balance.Amount, 10)
	if !ok {
		return nil, fmt.Errorf("malformed balance amount %q", out.Balance.Amount)
	}
	return amount, nil
}

func (c *LCDClient) contractQuery(ctx context.Context, contract string, query []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/cosmwasm/wasm/v1/contract/%s/smart/%s", c.baseURL, contract, query)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("contract query failed: %d %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// GetTx polls a single time; ClaimPipeline's confirmation watcher is
// responsible for the retry loop and its own bound.
func (c *LCDClient) GetTx(ctx context.Context, txHash string) (interfaces.TxResult, error) {
	url := fmt.Sprintf("%s/cosmos/tx/v1beta1/txs/%s", c.baseURL, txHash)
	var out struct {
		TxResponse struct {
			Code   uint32 `json:"code"`
			Height string `json:"height"`
			RawLog string `json:"raw_log"`
		} `json:"tx_response"`
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return interfaces.TxResult{}, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return interfaces.TxResult{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return interfaces.TxResult{Found: false}, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return interfaces.TxResult{}, err
	}

	var height int64
	fmt.Sscanf(out.TxResponse.Height, "%d", &height)
	return interfaces.TxResult{
		Found:  true,
		Code:   out.TxResponse.Code,
		Height: height,
		RawLog: out.TxResponse.RawLog,
	}, nil
}

func (c *LCDClient) getJSON(ctx context.Context, url string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("LCD request failed: %d %s", resp.StatusCode, string(body))
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// PollUntilFinal is a single blocking call for callers that do not
// drive their own ticker; RefillController uses it to await its
// refill/overflow transactions. ClaimPipeline's confirmation watcher
// does not use it: it calls GetTx directly under its own bound.
func PollUntilFinal(ctx context.Context, qc interfaces.QueryClient, txHash string, maxAttempts int) (interfaces.TxResult, error) {
	for i := 0; i < maxAttempts; i++ {
		res, err := qc.GetTx(ctx, txHash)
		if err != nil {
			return interfaces.TxResult{}, err
		}
		if res.Found {
			return res, nil
		}
		select {
		case <-ctx.Done():
			return interfaces.TxResult{}, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
	return interfaces.TxResult{}, fmt.Errorf("tx not found after %d attempts", maxAttempts)
}
