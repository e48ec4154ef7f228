// Package hooks implements the pre-claim / claimed module hook chain
// ClaimPipeline depends on through interfaces.ModuleHooks. Eligibility
// and anti-abuse modules are out of scope; what remains here is the
// extension point they would plug into.
package hooks

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"faucetd/internal/models"

	"github.com/nats-io/nats.go"
)

// LocalHooks is the default ModuleHooks: a plain chain of in-process
// checks and no-op notifications, no external fan-out.
type LocalHooks struct {
	before []func(ctx context.Context, sessionID, targetAddr, amount string) error
	after  []func(ctx context.Context, info models.ClaimInfo)
}

func NewLocalHooks() *LocalHooks {
	return &LocalHooks{}
}

// AddBeforeClaim registers an additional pre-claim check, run in
// registration order; the first error short-circuits the rest.
func (h *LocalHooks) AddBeforeClaim(fn func(ctx context.Context, sessionID, targetAddr, amount string) error) {
	h.before = append(h.before, fn)
}

func (h *LocalHooks) AddSessionClaimed(fn func(ctx context.Context, info models.ClaimInfo)) {
	h.after = append(h.after, fn)
}

func (h *LocalHooks) BeforeClaim(ctx context.Context, sessionID, targetAddr, amount string) error {
	for _, fn := range h.before {
		if err := fn(ctx, sessionID, targetAddr, amount); err != nil {
			return err
		}
	}
	return nil
}

func (h *LocalHooks) SessionClaimed(ctx context.Context, info models.ClaimInfo) {
	for _, fn := range h.after {
		fn(ctx, info)
	}
}

// NATSPublisher is an optional SessionClaimed sink that mirrors every
// confirmed claim onto a JetStream subject, for operators who want hook
// fan-out across processes the way the teacher's nats_client.go fans
// deposit/withdraw events out to other services. It never vetoes a
// claim — BeforeClaim is always a no-op here.
type NATSPublisher struct {
	conn    *nats.Conn
	js      nats.JetStreamContext
	subject string
}

// NewNATSPublisher connects to url and ensures the JetStream stream
// backing subject exists.
func NewNATSPublisher(url, subject, streamName string) (*NATSPublisher, error) {
	conn, err := nats.Connect(url,
		nats.Timeout(10*time.Second),
		nats.ReconnectWait(5*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			log.Printf("⚠️ [Hooks] NATS disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Printf("✅ [Hooks] NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(streamName); err != nil {
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:      streamName,
			Subjects:  []string{subject},
			Retention: nats.LimitsPolicy,
			MaxAge:    24 * time.Hour,
			Storage:   nats.FileStorage,
		}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create stream %s: %w", streamName, err)
		}
	}

	return &NATSPublisher{conn: conn, js: js, subject: subject}, nil
}

func (p *NATSPublisher) BeforeClaim(ctx context.Context, sessionID, targetAddr, amount string) error {
	return nil
}

func (p *NATSPublisher) SessionClaimed(ctx context.Context, info models.ClaimInfo) {
	data, err := json.Marshal(info)
	if err != nil {
		log.Printf("❌ [Hooks] failed to marshal claim for session %s: %v", info.SessionID, err)
		return
	}
	if _, err := p.js.Publish(p.subject, data); err != nil {
		log.Printf("❌ [Hooks] failed to publish claim for session %s: %v", info.SessionID, err)
	}
}

func (p *NATSPublisher) Close() {
	p.conn.Close()
}
