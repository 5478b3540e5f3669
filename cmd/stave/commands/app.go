package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/dyluth/stave/internal/collab"
	"github.com/dyluth/stave/internal/config"
	"github.com/dyluth/stave/internal/eventbus"
	"github.com/dyluth/stave/internal/printer"
	"github.com/dyluth/stave/internal/project"
	"github.com/dyluth/stave/internal/relay"
	"github.com/dyluth/stave/internal/session"
	"github.com/dyluth/stave/internal/store"
	"github.com/dyluth/stave/internal/transport"
)

// app is the fully wired client stack for one CLI invocation.
type app struct {
	cfg       *config.StaveConfig
	identity  collab.Identity
	bus       *eventbus.Bus
	relay     *relay.Client
	store     store.Store
	transport *transport.Transport
	collab    *collab.Service
	session   *session.Session
}

// loadIdentity returns the persisted local identity, creating it on first use.
func loadIdentity(cfg *config.StaveConfig) (collab.Identity, error) {
	if err := os.MkdirAll(cfg.User.DataDir, 0700); err != nil {
		return collab.Identity{}, fmt.Errorf("failed to create data directory %s: %w", cfg.User.DataDir, err)
	}
	ids, err := collab.OpenBoltIdentityStore(cfg.IdentityPath())
	if err != nil {
		return collab.Identity{}, err
	}
	defer ids.Close()

	return collab.LoadIdentity(ids, cfg.User.Name)
}

// openRelay connects to the Redis relay named in cfg.
func openRelay(cfg *config.StaveConfig) (*relay.Client, error) {
	opts, err := cfg.RedisOptions()
	if err != nil {
		return nil, err
	}
	client, err := relay.NewClient(opts, cfg.Redis.Namespace)
	if err != nil {
		return nil, printer.ErrorWithContext(
			"relay unavailable",
			err.Error(),
			map[string]string{"Redis": cfg.Redis.URL},
			[]string{"Start Redis or point redis.url (or REDIS_URL) at a running instance"},
		)
	}
	client.SetMirrorMaxLen(cfg.Redis.MirrorMaxLen)
	return client, nil
}

// openStore picks PostgreSQL when a database URL is configured, otherwise
// the relay's Redis.
func openStore(ctx context.Context, cfg *config.StaveConfig) (store.Store, error) {
	if cfg.Database.URL != "" {
		st, err := store.NewPostgresStore(ctx, cfg.Database.URL)
		if err != nil {
			return nil, printer.Error("database unavailable", err.Error(), []string{
				"Check database.url (or DATABASE_URL) and that PostgreSQL is running",
			})
		}
		return st, nil
	}

	opts, err := cfg.RedisOptions()
	if err != nil {
		return nil, err
	}
	st, err := store.NewRedisStore(opts, cfg.Redis.Namespace)
	if err != nil {
		return nil, printer.Error("project store unavailable", err.Error(), []string{
			"Start Redis or point redis.url (or REDIS_URL) at a running instance",
		})
	}
	return st, nil
}

// newApp wires relay, transport, collaboration service, store and session.
func newApp(ctx context.Context, cfg *config.StaveConfig) (*app, error) {
	id, err := loadIdentity(cfg)
	if err != nil {
		return nil, printer.Error("failed to load identity", err.Error(), nil)
	}

	tcfg, err := cfg.TransportSettings()
	if err != nil {
		return nil, err
	}
	ccfg, err := cfg.CollabSettings()
	if err != nil {
		return nil, err
	}

	rc, err := openRelay(cfg)
	if err != nil {
		return nil, err
	}
	st, err := openStore(ctx, cfg)
	if err != nil {
		rc.Close()
		return nil, err
	}

	bus := eventbus.New()
	t := transport.New(rc, bus, transport.Identity{
		UserID:   id.UserID,
		UserName: id.UserName,
		Color:    project.UserColor(id.UserID),
	}, tcfg)
	svc := collab.NewService(t, bus, id, ccfg, collab.PrinterNotifier{})

	return &app{
		cfg:       cfg,
		identity:  id,
		bus:       bus,
		relay:     rc,
		store:     st,
		transport: t,
		collab:    svc,
		session:   session.New(bus, svc, t, st, cfg.SessionSettings()),
	}, nil
}

// Close tears the stack down in reverse order.
func (a *app) Close(ctx context.Context) {
	if err := a.session.Close(ctx); err != nil {
		printer.Warning("failed to close session: %v\n", err)
	}
	a.collab.Close()
	if err := a.transport.Close(); err != nil {
		printer.Warning("failed to close transport: %v\n", err)
	}
	a.store.Close()
	a.relay.Close()
}
