package app

import (
	"context"
	"fmt"
	"log"
	"sync"

	"faucetd/internal/chainclient"
	"faucetd/internal/config"
	"faucetd/internal/db"
	"faucetd/internal/hooks"
	"faucetd/internal/interfaces"
	"faucetd/internal/repository"
	"faucetd/internal/services"

	"gorm.io/gorm"
)

// ServiceContainer replaces the teacher's global service registry with
// explicit dependency injection: every collaborator is constructed
// once here and handed to its dependents, rather than looked up
// through a package-level singleton at call time.
type ServiceContainer struct {
	DB *gorm.DB

	SessionStore interfaces.SessionStore
	Hooks        *hooks.LocalHooks
	NATSHook     *hooks.NATSPublisher

	WalletManager    *services.WalletManager
	NotificationHub  *services.NotificationHub
	ClaimPipeline    *services.ClaimPipeline
	RefillController *services.RefillController
}

var (
	Container     *ServiceContainer
	containerOnce sync.Once
)

// InitializeContainer builds the one ServiceContainer for the process.
// walletAddress and signAndBroadcast are supplied by the caller because
// deriving a bech32 address and signing a SignDoc from cwWalletMnemonic
// is a cryptographic-primitives concern explicitly out of scope here.
func InitializeContainer(cfg *config.Config, walletAddress string, signAndBroadcast chainclient.SignAndBroadcastFunc) (*ServiceContainer, error) {
	containerOnce.Do(func() {
		c := &ServiceContainer{DB: db.DB}

		c.SessionStore = repository.NewSessionRepository(c.DB)
		c.Hooks = hooks.NewLocalHooks()

		if cfg.NATS.Enabled {
			pub, err := hooks.NewNATSPublisher(cfg.NATS.URL, "faucet.claims.confirmed", "FAUCET_CLAIMS")
			if err != nil {
				log.Printf("⚠️ [Container] NATS hook sink unavailable, continuing without it: %v", err)
			} else {
				c.NATSHook = pub
				c.Hooks.AddSessionClaimed(pub.SessionClaimed)
			}
		}

		lcd := chainclient.New(cfg.Chain.RPCHost, walletAddress)
		chainClient := lcd.Build(signAndBroadcast)
		c.WalletManager = services.NewWalletManager(&cfg.Chain, chainClient, lcd)

		c.NotificationHub = services.NewNotificationHub(cfg.Hub)
		c.ClaimPipeline = services.NewClaimPipeline(&cfg.Chain, cfg.Pipeline, c.SessionStore, c.Hooks, c.WalletManager, lcd, c.NotificationHub)
		c.RefillController = services.NewRefillController(cfg.Refill, c.WalletManager, c.SessionStore, c.ClaimPipeline, lcd)

		Container = c
	})
	return Container, nil
}

// Start brings up every long-running goroutine in dependency order:
// the hub before the pipeline (so early broadcasts have somewhere to
// go), the pipeline's crash recovery before its tick loop, and the
// refill controller last since it depends on both.
func (c *ServiceContainer) Start(ctx context.Context) error {
	db.StartHealthMonitor(ctx)
	c.NotificationHub.Run()
	c.WalletManager.Initialize(ctx)
	if err := c.ClaimPipeline.Recover(ctx); err != nil {
		return fmt.Errorf("failed to recover claim pipeline: %w", err)
	}
	c.ClaimPipeline.Start(ctx)
	c.RefillController.Start(ctx)
	log.Printf("🚀 [Container] all services started")
	return nil
}

// Cleanup stops every service in the reverse order Start brought them
// up, then releases the NATS hook sink if one was wired.
func (c *ServiceContainer) Cleanup() {
	c.RefillController.Stop()
	c.ClaimPipeline.Stop()
	c.NotificationHub.Stop()
	if c.NATSHook != nil {
		c.NATSHook.Close()
	}
	log.Printf("🛑 [Container] all services stopped")
}
