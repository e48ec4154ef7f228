// Command faucetd is the composition root for the claim-settlement
// core: it loads configuration, opens the database, wires
// WalletManager -> ClaimPipeline -> RefillController ->
// NotificationHub through app.ServiceContainer, and starts their
// background loops. The HTTP/WS routing shown below is illustrative
// only — mounting session auth, eligibility checks, and the full API
// surface is a consumer's concern, out of scope for this core.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"faucetd/internal/app"
	"faucetd/internal/config"
	"faucetd/internal/db"
	"faucetd/internal/faucetstatus"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/mux"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (defaults to config.yaml / config.local.yaml)")
	flag.Parse()

	if err := config.LoadConfig(*configPath); err != nil {
		log.Fatalf("❌ [Main] failed to load config: %v", err)
	}

	if err := db.InitDB(); err != nil {
		log.Fatalf("❌ [Main] failed to init database: %v", err)
	}

	walletAddress := os.Getenv("CW_WALLET_ADDRESS")
	container, err := app.InitializeContainer(config.AppConfig, walletAddress, noopSignAndBroadcast)
	if err != nil {
		log.Fatalf("❌ [Main] failed to initialize service container: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := container.Start(ctx); err != nil {
		log.Fatalf("❌ [Main] failed to start services: %v", err)
	}

	go serveHTTP(container)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Printf("🛑 [Main] shutting down")
	cancel()
	container.Cleanup()
}

// noopSignAndBroadcast is a placeholder for the out-of-scope
// cryptographic-primitives callback; a real deployment replaces this
// with a signer bound to cwWalletMnemonic.
func noopSignAndBroadcast(ctx context.Context, msg json.RawMessage, funds *big.Int) (string, error) {
	return "", context.DeadlineExceeded
}

// serveHTTP demonstrates, but does not own, the attachment points a
// consumer's HTTP layer needs: a gin router for REST-style status
// endpoints, mounted under a gorilla/mux router that forwards every
// path to it, mirroring how the retrieval pack's Nil-Store faucet
// mounts its own routes alongside a core service. No WebSocket route
// is registered here.
func serveHTTP(container *app.ServiceContainer) {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/api/getQueueStatus", func(c *gin.Context) {
		c.JSON(http.StatusOK, container.ClaimPipeline.CachedQueueStatus())
	})
	r.GET("/api/faucetStatus", func(c *gin.Context) {
		c.JSON(http.StatusOK, faucetstatus.Snapshot())
	})

	wsRouter := mux.NewRouter()
	wsRouter.PathPrefix("/").Handler(r)

	addr := config.AppConfig.Server.Host + ":" + strconv.Itoa(config.AppConfig.Server.Port)
	log.Printf("🚀 [Main] HTTP surface listening on %s (illustrative only)", addr)
	if err := http.ListenAndServe(addr, wsRouter); err != nil {
		log.Printf("❌ [Main] HTTP server stopped: %v", err)
	}
}
