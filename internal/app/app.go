package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"booklend/internal/notify"
	"booklend/internal/util"
	"booklend/pkg/domain"
	"booklend/pkg/store"
)

// Config holds runtime configuration for the lending core.
type Config struct {
	DatabaseURL string
	Store       store.Store
	Hub         *notify.Hub

	// AdminUsername/AdminPassword seed an account on startup when set.
	AdminUsername string
	AdminPassword string
}

// App owns the catalog, the request and return ledgers and the rules that
// keep Book.isFree consistent with them.
type App struct {
	store store.Store
	hub   *notify.Hub

	// mu serializes every ledger mutation together with the broadcast that
	// follows it, so subscribers see snapshots in commit order.
	mu sync.Mutex
}

// New constructs the application with database storage and a fan-out hub.
func New(cfg Config) (*App, error) {
	dataStore := cfg.Store
	if dataStore == nil {
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("database URL required")
		}
		var err error
		dataStore, err = store.NewGormStore(cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("init store: %w", err)
		}
	}
	hub := cfg.Hub
	if hub == nil {
		hub = notify.NewHub()
	}
	a := &App{store: dataStore, hub: hub}

	if strings.TrimSpace(cfg.AdminUsername) != "" {
		if err := a.EnsureUser(context.Background(), cfg.AdminUsername, cfg.AdminPassword); err != nil {
			return nil, fmt.Errorf("seed admin user: %w", err)
		}
	}
	return a, nil
}

// Store exposes the underlying store for collaborators such as the catalog
// importer.
func (a *App) Store() store.Store { return a.store }

// CloseSubscriptions ends every live subscription and rejects new ones.
func (a *App) CloseSubscriptions() {
	a.hub.Close()
}

// Close ends all subscriptions and releases the store.
func (a *App) Close() error {
	a.hub.Close()
	return a.store.Close()
}

// mutate runs fn as one atomic unit under the ledger lock. When fn reports a
// change, the request snapshot read inside the unit is broadcast after commit.
func (a *App) mutate(ctx context.Context, fn func(store.Tx) (bool, error)) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var (
		changed bool
		snap    notify.Snapshot
	)
	err := a.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		changed, err = fn(tx)
		if err != nil || !changed {
			return err
		}
		snap, err = tx.ListRequests()
		if err != nil {
			return fmt.Errorf("snapshot requests: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if changed {
		a.hub.Publish(snap)
	}
	return nil
}

// Subscribe registers an observer. Its first snapshot reflects every
// mutation committed before the call.
func (a *App) Subscribe(ctx context.Context) (*notify.Subscription, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	snap, err := a.store.ListRequests(ctx, store.RequestFilter{})
	if err != nil {
		return nil, fmt.Errorf("snapshot requests: %w", err)
	}
	sub, err := a.hub.Subscribe(snap)
	if err != nil {
		return nil, err
	}
	slog.Debug("lend.subscribed", "subscribers", a.hub.Len())
	return sub, nil
}

// Subscribers reports the live subscriber count.
func (a *App) Subscribers() int { return a.hub.Len() }

// logOutcome records a ledger operation. Rejected preconditions log at
// warn, infrastructure failures at error.
func logOutcome(ctx context.Context, event string, err error, attrs ...any) {
	logger := util.LoggerFromContext(ctx)
	switch {
	case err == nil:
		logger.Info(event, attrs...)
	case domain.KindOf(err) != "":
		logger.Warn(event+"_rejected", append(attrs, "kind", string(domain.KindOf(err)), "err", err)...)
	default:
		logger.Error(event+"_failed", append(attrs, "err", err)...)
	}
}
