package core

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/polyroom/polyroom/internal/config"
	"github.com/polyroom/polyroom/internal/discovery"
	"github.com/polyroom/polyroom/internal/logging"
	"github.com/polyroom/polyroom/internal/plugin"
	"github.com/polyroom/polyroom/internal/plugin/builtin"
	"github.com/polyroom/polyroom/internal/room"
	"github.com/polyroom/polyroom/internal/server"
)

// Core wires configuration, the plugin registry, the room set, and the
// network server into one runnable process.
type Core struct {
	cfg      config.Snapshot
	registry *plugin.Registry
	server   *server.Server

	mu    sync.Mutex
	rooms map[string]*room.Room

	baseURL    string
	advertiser *discovery.Advertiser
	log        *logging.Scope

	done     chan struct{}
	doneOnce sync.Once
}

// New builds a core from a configuration snapshot: registers the
// builtin APIs, attaches installed plugin metadata, and prepares the
// data directory and the process log scope.
func New(cfg config.Snapshot) (*Core, error) {
	c := &Core{
		cfg:      cfg,
		registry: plugin.NewRegistry(),
		rooms:    make(map[string]*room.Room),
		done:     make(chan struct{}),
	}

	if err := builtin.RegisterAll(c.registry); err != nil {
		return nil, fmt.Errorf("failed to register builtin APIs: %w", err)
	}
	if err := c.registry.LoadDir(cfg.PluginDir); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	scope, err := logging.NewScope("core", cfg.DataDir, cfg.Log.Levels, cfg.Log.Kinds)
	if err != nil {
		return nil, err
	}
	c.log = scope

	opts := server.Options{
		Provider:    c,
		ResourceDir: cfg.ResourceDir,
		PluginDir:   cfg.PluginDir,
	}
	if cfg.TLS.Enabled {
		tlsConf, err := server.NewTLSConfig(cfg.TLS.Cert, cfg.TLS.Key)
		if err != nil {
			return nil, err
		}
		opts.TLS = tlsConf
	}
	c.server = server.New(opts)

	return c, nil
}

// BaseURL implements server.RoomProvider. It is fixed once the listener
// is bound.
func (c *Core) BaseURL() string {
	return c.baseURL
}

// EnsureRoom implements server.RoomProvider: it returns the room with
// the given id, creating it (with its own data directory and log scope)
// on first contact.
func (c *Core) EnsureRoom(id string) (*room.Room, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if rm, ok := c.rooms[id]; ok {
		return rm, nil
	}

	scope, err := logging.NewScope(id, c.cfg.DataDir, c.cfg.Log.Levels, c.cfg.Log.Kinds)
	if err != nil {
		return nil, fmt.Errorf("failed to create room %s: %w", id, err)
	}
	if err := os.MkdirAll(filepath.Join(scope.Dir(), "output"), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create room %s: %w", id, err)
	}

	rm := room.New(id, room.Options{
		DataDir:    scope.Dir(),
		Log:        scope,
		APIs:       c.registry,
		OnShutdown: c.RequestShutdown,
	})
	c.rooms[id] = rm

	logging.Info("Room created",
		zap.String("room", id),
		zap.String("data_dir", scope.Dir()),
	)
	return rm, nil
}

// Run binds the listener, publishes the URL, and serves until a signal
// arrives or shutdown is requested (config going inactive, or the
// shutdown API).
func (c *Core) Run() error {
	if err := c.server.Listen(c.cfg.Host, c.cfg.Port); err != nil {
		return fmt.Errorf("failed to listen on %s:%d: %w", c.cfg.Host, c.cfg.Port, err)
	}

	port := c.server.Port()
	c.baseURL = c.cfg.Protocol + net.JoinHostPort(c.cfg.Host, strconv.Itoa(port))
	logging.Info("Server started", zap.String("url", c.baseURL))
	c.log.Logf(logging.LevelSystem, "Server started at %s", c.baseURL)
	fmt.Println(c.baseURL)

	if c.cfg.Discovery.Enabled {
		adv, err := discovery.Advertise(c.cfg.Discovery.Instance, port, c.baseURL)
		if err != nil {
			logging.Warn("Failed to advertise service", zap.Error(err))
		} else {
			c.advertiser = adv
		}
	}

	serveErr := make(chan error, 1)
	go func() { serveErr <- c.server.Serve() }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sig)

	select {
	case s := <-sig:
		logging.Info("Received signal, shutting down", zap.String("signal", s.String()))
	case <-c.done:
		logging.Info("Shutdown requested")
	case err := <-serveErr:
		if err != nil {
			return err
		}
	}

	return c.Shutdown()
}

// RequestShutdown asks Run to stop. Safe to call from any goroutine,
// any number of times.
func (c *Core) RequestShutdown() {
	c.doneOnce.Do(func() { close(c.done) })
}

// ApplyConfig reacts to a reloaded configuration. Only the dynamic
// fields take effect on a running core: active=false shuts the process
// down, forceReload tells every connected client to reload itself.
// Address, TLS, and directory changes need a restart.
func (c *Core) ApplyConfig(next config.Snapshot) {
	if !next.Active {
		logging.Info("Configuration set inactive, shutting down")
		c.RequestShutdown()
		return
	}

	if next.ForceReload {
		logging.Info("Configuration requested client reload")
		payload := []byte(`{}`)
		c.mu.Lock()
		rooms := make([]*room.Room, 0, len(c.rooms))
		for _, rm := range c.rooms {
			rooms = append(rooms, rm)
		}
		c.mu.Unlock()
		for _, rm := range rooms {
			rm.BroadcastWS("forceReload", "", payload, nil, false)
		}
	}
}

// Shutdown stops the advertiser and the server, then closes the room
// log scopes.
func (c *Core) Shutdown() error {
	if c.advertiser != nil {
		c.advertiser.Shutdown()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	err := c.server.Close(ctx)

	c.mu.Lock()
	for _, rm := range c.rooms {
		if scope := rm.Log(); scope != nil {
			_ = scope.Close()
		}
	}
	c.mu.Unlock()

	c.log.Logf(logging.LevelSystem, "Server stopped")
	_ = c.log.Close()
	logging.Info("Server stopped")
	return err
}
