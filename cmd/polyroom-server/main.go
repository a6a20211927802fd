// Polyroom-server is a multi-room collaborative editing server.
//
// It serves each room's web client over HTTP(S) on a single port,
// promotes connections to WebSockets for live collaboration, and keeps
// every room's mesh state, camera, cursors, and edit history in sync
// across its members.
//
// Usage:
//
//	polyroom-server serve [flags]
//
// See 'polyroom-server serve --help' for available options.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/polyroom/polyroom/internal/config"
	"github.com/polyroom/polyroom/internal/core"
	"github.com/polyroom/polyroom/internal/logging"
	"github.com/polyroom/polyroom/internal/version"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "polyroom-server",
	Short: "Polyroom collaborative editing server",
	Long: `A standalone server hosting collaborative editing rooms.

Each room is an isolated world of meshes, cursors, and a shared camera,
joined by URL. Clients get the web UI over HTTP and live updates over
WebSockets, both on the same port; HTTPS/WSS is served alongside plain
HTTP when a certificate is configured.`,
	Version: version.Version,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

// Serve command and flags
var (
	configPath  string
	host        string
	port        int
	certPath    string
	keyPath     string
	dataDir     string
	resourceDir string
	pluginDir   string
	logLevel    string
	noDiscovery bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	Long: `Start the server and print the room entry URL.

Settings come from the config file (JSON or YAML), merged over built-in
defaults; command-line flags override both. The config file is watched
while running: setting "active": false shuts the server down, and
"forceReload": true makes every connected client reload itself.`,
	Example: `  # Start on an OS-chosen port and print the URL
  polyroom-server serve

  # Start on a fixed address with a config file
  polyroom-server serve --config polyroom.yaml --host 0.0.0.0 --port 8080

  # Serve HTTPS/WSS alongside plain HTTP
  polyroom-server serve --cert fullchain.pem --key privkey.pem`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to config file (JSON or YAML)")
	serveCmd.Flags().StringVar(&host, "host", "", "Listen address (default 127.0.0.1)")
	serveCmd.Flags().IntVar(&port, "port", -1, "Listen port (0 = OS-chosen)")
	serveCmd.Flags().StringVar(&certPath, "cert", "", "Path to TLS certificate file")
	serveCmd.Flags().StringVar(&keyPath, "key", "", "Path to TLS private key file")
	serveCmd.Flags().StringVar(&dataDir, "data-dir", "", "Directory for room data and logs")
	serveCmd.Flags().StringVar(&resourceDir, "resource-dir", "", "Directory with the web client assets")
	serveCmd.Flags().StringVar(&pluginDir, "plugin-dir", "", "Directory with installed plugins")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&noDiscovery, "no-discovery", false, "Disable mDNS advertisement")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg = applyFlags(cmd, cfg)

	if err := logging.Initialize(cfg.Log.Level); err != nil {
		return err
	}
	defer logging.Sync()

	if (certPath == "") != (keyPath == "") {
		return fmt.Errorf("both --cert and --key must be provided together, or neither")
	}

	c, err := core.New(cfg)
	if err != nil {
		return err
	}

	if configPath != "" {
		watcher, err := config.Watch(configPath, c.ApplyConfig)
		if err != nil {
			return fmt.Errorf("failed to watch config file: %w", err)
		}
		defer func() { _ = watcher.Close() }()
	}

	return c.Run()
}

// applyFlags lays explicitly set flags over the loaded snapshot.
func applyFlags(cmd *cobra.Command, cfg config.Snapshot) config.Snapshot {
	if cmd.Flags().Changed("host") {
		cfg.Host = host
	}
	if cmd.Flags().Changed("port") && port >= 0 {
		cfg.Port = port
	}
	if cmd.Flags().Changed("cert") {
		cfg.TLS.Cert = certPath
		cfg.TLS.Enabled = certPath != ""
	}
	if cmd.Flags().Changed("key") {
		cfg.TLS.Key = keyPath
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir = dataDir
	}
	if cmd.Flags().Changed("resource-dir") {
		cfg.ResourceDir = resourceDir
	}
	if cmd.Flags().Changed("plugin-dir") {
		cfg.PluginDir = pluginDir
	}
	if cmd.Flags().Changed("log-level") {
		cfg.Log.Level = logLevel
	}
	if noDiscovery {
		cfg.Discovery.Enabled = false
	}
	if cfg.TLS.Enabled {
		cfg.Protocol = "https://"
	}
	return cfg
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("polyroom-server %s\n", version.Full())
	},
}
