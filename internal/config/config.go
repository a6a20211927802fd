package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsonpatch "github.com/evanphx/json-patch"
	"gopkg.in/yaml.v3"
)

// Snapshot is an immutable view of the server configuration. A process
// holds exactly one current snapshot at a time; reloading produces a new
// one rather than mutating shared state.
type Snapshot struct {
	// Protocol is the URL scheme prefix of the published URL ("http://"
	// or "https://").
	Protocol string `json:"protocol" yaml:"protocol"`
	// Host is the listen address. Port 0 asks the OS to choose; the
	// chosen port is read back and published as part of the full URL.
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`

	// Active false requests a graceful shutdown when applied to a
	// running core.
	Active bool `json:"active" yaml:"active"`
	// ForceReload true asks every room to broadcast a forceReload event
	// when the snapshot is applied. It is consumed, never persisted back.
	ForceReload bool `json:"forceReload" yaml:"forceReload"`

	DataDir     string `json:"dataDir" yaml:"dataDir"`
	ResourceDir string `json:"resourceDir" yaml:"resourceDir"`
	PluginDir   string `json:"pluginDir" yaml:"pluginDir"`

	TLS       TLS       `json:"tls" yaml:"tls"`
	Log       Log       `json:"log" yaml:"log"`
	Discovery Discovery `json:"discovery" yaml:"discovery"`
}

// TLS holds the certificate material for the https/wss path. When
// disabled the server still serves plaintext; TLS connections are
// rejected at detection time.
type TLS struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Cert    string `json:"cert" yaml:"cert"`
	Key     string `json:"key" yaml:"key"`
}

// Log configures the process/room log scopes.
type Log struct {
	// Level controls the zap mirror (debug, info, warn, error).
	Level string `json:"level" yaml:"level"`
	// Levels and Kinds filter the per-scope sinks.
	Levels []string `json:"levels" yaml:"levels"`
	Kinds  []string `json:"kinds" yaml:"kinds"`
}

// Discovery configures mDNS advertisement of the serving URL.
type Discovery struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Instance string `json:"instance" yaml:"instance"`
}

// Default returns the built-in configuration the on-disk file is
// merge-patched over.
func Default() Snapshot {
	return Snapshot{
		Protocol:    "http://",
		Host:        "127.0.0.1",
		Port:        0,
		Active:      true,
		DataDir:     "data",
		ResourceDir: "resources",
		PluginDir:   "plugin",
		Log: Log{
			Level:  "info",
			Levels: []string{"system", "apicall", "wscall", "error"},
			Kinds:  []string{"text", "file"},
		},
		Discovery: Discovery{
			Instance: "polyroom",
		},
	}
}

// Load reads the configuration file at path (JSON, or YAML by
// extension), merge-patches it over Default, and normalizes the result.
// An empty path yields the defaults.
func Load(path string) (Snapshot, error) {
	snap := Default()
	if path == "" {
		return normalize(snap), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to read config file: %w", err)
	}

	patch := raw
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		patch, err = yamlToJSON(raw)
		if err != nil {
			return Snapshot{}, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	return Apply(snap, patch)
}

// Apply merge-patches (RFC 7386) the JSON patch over the snapshot and
// returns the normalized result. The input snapshot is not modified.
func Apply(snap Snapshot, patch []byte) (Snapshot, error) {
	base, err := json.Marshal(snap)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to encode config: %w", err)
	}

	merged, err := jsonpatch.MergePatch(base, patch)
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to merge config: %w", err)
	}

	var next Snapshot
	if err := json.Unmarshal(merged, &next); err != nil {
		return Snapshot{}, fmt.Errorf("invalid config value: %w", err)
	}

	return normalize(next), nil
}

// normalize fills the fields a file may blank out or set to unusable
// values.
func normalize(s Snapshot) Snapshot {
	if s.Protocol == "" {
		s.Protocol = "http://"
	}
	if !strings.HasSuffix(s.Protocol, "://") {
		s.Protocol += "://"
	}
	if s.Host == "" {
		s.Host = "127.0.0.1"
	}
	if s.Port < 0 || s.Port > 65535 {
		s.Port = 0
	}
	if s.DataDir == "" {
		s.DataDir = "data"
	}
	if s.ResourceDir == "" {
		s.ResourceDir = "resources"
	}
	if s.PluginDir == "" {
		s.PluginDir = "plugin"
	}
	if s.Discovery.Instance == "" {
		s.Discovery.Instance = "polyroom"
	}
	return s
}

func yamlToJSON(raw []byte) ([]byte, error) {
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		doc = map[string]interface{}{}
	}
	return json.Marshal(doc)
}
