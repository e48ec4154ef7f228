// Package interfaces collects the collaborator boundaries the
// claim-settlement core depends on but does not implement: session
// persistence, the pre/post-claim hook chain, and the two chain-facing
// clients. Breaking these out as interfaces here (rather than importing
// concrete types from db/chainclient) is what lets services depend on
// abstractions instead of a global service registry.
package interfaces

import (
	"context"
	"math/big"

	"faucetd/internal/models"
)

// SessionStore is the persistence boundary. The HTTP/session layer,
// the database engine, and the eligibility modules that drive a
// session to CLAIMABLE are all out of scope; this subsystem only reads
// and writes through this interface.
type SessionStore interface {
	// GetClaimingSessions returns every session currently in CLAIMING,
	// used once at startup to rebuild the in-memory queue/pending maps.
	GetClaimingSessions(ctx context.Context) ([]models.SessionRecord, error)
	GetSession(ctx context.Context, sessionID string) (*models.SessionRecord, error)
	// CreateClaimingSession persists a brand new claim atomically with
	// the session flip to CLAIMING.
	CreateClaimingSession(ctx context.Context, rec *models.SessionRecord) error
	UpdateClaim(ctx context.Context, sessionID string, claim models.Claim) error
	// UnclaimedBalance sums the drop amount committed to every live,
	// non-claiming CLAIMABLE session. The session manager that owns
	// eligibility and CLAIMABLE assignment is out of scope; this is the
	// one figure RefillController needs back from it.
	UnclaimedBalance(ctx context.Context) (*big.Int, error)
}

// ModuleHooks is the pre/post-claim extension chain. A pre-claim hook
// may veto a claim with a domain error (re-raised verbatim); any other
// error it returns is wrapped as INTERNAL_ERROR. This replaces the
// teacher's direct service-to-service calls with an injected chain the
// pipeline never needs to know the implementation of.
type ModuleHooks interface {
	BeforeClaim(ctx context.Context, sessionID, targetAddr, amount string) error
	SessionClaimed(ctx context.Context, info models.ClaimInfo)
}

// ChainClient is the signing, state-changing half of the chain-client
// transport boundary: native sends and contract executes.
type ChainClient struct {
	Address       string
	SendTokens    func(ctx context.Context, recipient string, amount *big.Int) (txHash string, err error)
	ExecuteContract func(ctx context.Context, contract string, msg []byte, funds *big.Int) (txHash string, err error)
	Sequence      func(ctx context.Context) (uint64, error)
	Balance       func(ctx context.Context, denom string) (*big.Int, error)
	ContractQuery func(ctx context.Context, contract string, query []byte) ([]byte, error)
}

// TxResult is the outcome of a confirmed (or failed) transaction as
// reported by QueryClient.GetTx.
type TxResult struct {
	Found  bool
	Code   uint32
	Height int64
	RawLog string
}

// QueryClient is the read-only half of the chain-client transport
// boundary, used by the confirmation watcher and by WalletBalance to
// query an arbitrary external address (as opposed to ChainClient's
// Balance, which is bound to the faucet's own address).
type QueryClient interface {
	GetTx(ctx context.Context, txHash string) (TxResult, error)
	BalanceOf(ctx context.Context, addr, denom string) (*big.Int, error)
}
