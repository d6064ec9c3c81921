package app

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/medfatnasii277/portalbell/internal/api"
	"github.com/medfatnasii277/portalbell/internal/credential"
	"github.com/medfatnasii277/portalbell/internal/logger"
	"github.com/medfatnasii277/portalbell/internal/model"
	"github.com/medfatnasii277/portalbell/internal/store"
	appsync "github.com/medfatnasii277/portalbell/internal/sync"
	"github.com/medfatnasii277/portalbell/internal/transport"
)

// Session bundles everything one signed-in user needs: the engine over the
// store, the refresh poller, and the transport state feed.
type Session struct {
	Identity string
	Server   string
	Engine   *appsync.Engine
	Poller   *appsync.Poller
	States   <-chan transport.State

	cache     *store.SQLiteCache
	log       *slog.Logger
	closeOnce sync.Once
}

// NewSession builds the engine, transport, REST client and cache from cfg.
// Nothing connects until Engine.Initialize is called.
func NewSession(cfg *model.AppConfig) (*Session, error) {
	log := logger.WithComponent("app")

	token, err := ResolveToken(cfg)
	if err != nil {
		return nil, err
	}
	if token == "" && cfg.User.Username != "" {
		log.Warn("no token configured, requests will be unauthenticated",
			"username", cfg.User.Username,
		)
	}

	states := make(chan transport.State, 16)
	adapter := transport.NewAdapter(transport.Config{
		URL:   cfg.Server.WSURL,
		Token: token,
		Destinations: []string{
			cfg.Stomp.UserDestination,
			cfg.Stomp.BroadcastDestination,
		},
		Heartbeat: cfg.HeartbeatInterval(),
		Reconnect: transport.NewReconnectPolicy(cfg.Reconnect),
		OnStateChange: func(s transport.State) {
			select {
			case states <- s:
			default:
			}
		},
	})

	client := api.NewClient(cfg.Server.BaseURL, token)

	s := &Session{
		Identity: cfg.User.Username,
		Server:   cfg.Server.BaseURL,
		States:   states,
		log:      log,
	}

	var opts []appsync.Option
	if cfg.Cache.Path != "" {
		cache, err := openCache(cfg.Cache.Path)
		if err != nil {
			// The cache only speeds up startup; run without it.
			log.Warn("snapshot cache disabled", "path", cfg.Cache.Path, "error", err)
		} else {
			s.cache = cache
			opts = append(opts, appsync.WithCache(cache))
		}
	}

	s.Engine = appsync.NewEngine(store.NewNotificationStore(), adapter, client, opts...)
	s.Poller = appsync.NewPoller(s.Engine, cfg.PollInterval())
	return s, nil
}

// Close stops polling, ends the engine session (saving its snapshot) and
// closes the cache. Later calls do nothing.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.Poller.Stop()
		s.Engine.Close()
		if s.cache != nil {
			if err := s.cache.Close(); err != nil {
				s.log.Warn("closing cache", "error", err)
			}
		}
	})
}

// ResolveToken returns the configured token, falling back to the keyring
// entry of the configured user. A missing keyring entry yields "".
func ResolveToken(cfg *model.AppConfig) (string, error) {
	if cfg.User.Token != "" {
		return cfg.User.Token, nil
	}
	if cfg.User.Username == "" {
		return "", nil
	}

	token, err := credential.Token(cfg.User.Username)
	if errors.Is(err, credential.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("loading token for %s: %w", cfg.User.Username, err)
	}
	return token, nil
}

func openCache(path string) (*store.SQLiteCache, error) {
	path = expandHome(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating cache directory: %w", err)
	}
	return store.NewSQLiteCache(path)
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[2:])
}
