package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"

	"github.com/beachsh/beach/pkg/update"
	"github.com/beachsh/beach/pkg/wire"
)

// Config is beach's on-disk configuration, loaded from YAML and then
// overlaid with any flags the user passed on the command line.
type Config struct {
	ControlPath string    `yaml:"control_path"`
	Server      Server    `yaml:"server"`
	Security    Security  `yaml:"security"`
	Sync        Sync      `yaml:"sync"`
	Tunnel      Tunnel    `yaml:"tunnel"`
	Advanced    Advanced  `yaml:"advanced"`
	Update      Update    `yaml:"update"`
}

// Server configures the HTTP/WebSocket front door (pkg/httpapi).
type Server struct {
	Port       string `yaml:"port"`
	AccessMode string `yaml:"access_mode"` // "localhost" or "network"
	StaticPath string `yaml:"static_path"`
}

// Security gates /api and /ws with HTTP basic auth.
type Security struct {
	PasswordEnabled bool   `yaml:"password_enabled"`
	Password        string `yaml:"password"`
}

// Sync configures pkg/sync.Synchronizer's negotiated budgets, wired
// into wire.SyncConfigFrame at Hello time.
type Sync struct {
	ForegroundBudget     uint32 `yaml:"foreground_budget"`
	RecentBudget         uint32 `yaml:"recent_budget"`
	HistoryBudget        uint32 `yaml:"history_budget"`
	DeltaBudget          uint32 `yaml:"delta_budget"`
	HeartbeatMs          uint64 `yaml:"heartbeat_ms"`
	InitialSnapshotLines uint32 `yaml:"initial_snapshot_lines"`
	RecentWindowRows     int    `yaml:"recent_window_rows"` // the classifier's K
}

// Frame converts Sync into the wire.SyncConfigFrame sent in the Hello
// host frame for a new subscription.
func (s Sync) Frame() wire.SyncConfigFrame {
	return wire.SyncConfigFrame{
		SnapshotBudgets: []wire.LaneBudget{
			{Lane: update.LaneForeground, MaxUpdates: s.ForegroundBudget},
			{Lane: update.LaneRecent, MaxUpdates: s.RecentBudget},
			{Lane: update.LaneHistory, MaxUpdates: s.HistoryBudget},
		},
		DeltaBudget:          s.DeltaBudget,
		HeartbeatMs:          s.HeartbeatMs,
		InitialSnapshotLines: s.InitialSnapshotLines,
	}
}

// Tunnel configures the optional public exposure of the front door
// through pkg/tunnel.
type Tunnel struct {
	Enabled     bool   `yaml:"enabled"`
	AuthToken   string `yaml:"auth_token"`
	TokenStored bool   `yaml:"token_stored"`
}

// Advanced holds host-process knobs: debug logging, exited-session
// cleanup on startup, preferred terminal for local attach.
type Advanced struct {
	DebugMode      bool   `yaml:"debug_mode"`
	CleanupStartup bool   `yaml:"cleanup_startup"`
	PreferredTerm  string `yaml:"preferred_terminal"`
}

// Update controls the self-update channel (mirrors UpdateChannel.swift).
type Update struct {
	Channel           string `yaml:"channel"` // "stable" or "prerelease"
	AutoCheck         bool   `yaml:"auto_check"`
	ShowNotifications bool   `yaml:"show_notifications"`
}

// DefaultConfig returns beach's out-of-the-box configuration.
func DefaultConfig() *Config {
	homeDir, _ := os.UserHomeDir()
	return &Config{
		ControlPath: filepath.Join(homeDir, ".beach", "control"),
		Server: Server{
			Port:       "4020",
			AccessMode: "localhost",
		},
		Security: Security{
			PasswordEnabled: false,
		},
		Sync: Sync{
			ForegroundBudget:     4096,
			RecentBudget:         2048,
			HistoryBudget:        512,
			DeltaBudget:          1024,
			HeartbeatMs:          2000,
			InitialSnapshotLines: 2000,
			RecentWindowRows:     200,
		},
		Tunnel: Tunnel{
			Enabled: false,
		},
		Advanced: Advanced{
			DebugMode:      false,
			CleanupStartup: false,
			PreferredTerm:  "auto",
		},
		Update: Update{
			Channel:           "stable",
			AutoCheck:         true,
			ShowNotifications: true,
		},
	}
}

// LoadConfig loads configuration from filename, writing out a default
// config if it doesn't exist yet.
func LoadConfig(filename string) *Config {
	cfg := DefaultConfig()

	if filename == "" {
		return cfg
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		fmt.Printf("Warning: failed to create config directory: %v\n", err)
		return cfg
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		if !os.IsNotExist(err) {
			fmt.Printf("Warning: failed to read config file: %v\n", err)
		}
		if err := cfg.Save(filename); err != nil {
			fmt.Printf("Warning: failed to save default config: %v\n", err)
		}
		return cfg
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		fmt.Printf("Warning: failed to parse config file: %v\n", err)
		return DefaultConfig()
	}

	return cfg
}

// Save writes the configuration to filename as YAML.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}

// MergeFlags overlays any flags the user actually set on the command
// line onto c, leaving unset flags alone.
func (c *Config) MergeFlags(flags *pflag.FlagSet) {
	if flags.Changed("port") {
		if val, err := flags.GetString("port"); err == nil {
			c.Server.Port = val
		}
	}

	if flags.Changed("localhost") {
		if val, err := flags.GetBool("localhost"); err == nil && val {
			c.Server.AccessMode = "localhost"
		}
	}

	if flags.Changed("network") {
		if val, err := flags.GetBool("network"); err == nil && val {
			c.Server.AccessMode = "network"
		}
	}

	if flags.Changed("password") {
		if val, err := flags.GetString("password"); err == nil && val != "" {
			c.Security.Password = val
			c.Security.PasswordEnabled = true
		}
	}

	if flags.Changed("password-enabled") {
		if val, err := flags.GetBool("password-enabled"); err == nil {
			c.Security.PasswordEnabled = val
		}
	}

	if flags.Changed("tunnel") {
		if val, err := flags.GetBool("tunnel"); err == nil {
			c.Tunnel.Enabled = val
		}
	}

	if flags.Changed("tunnel-token") {
		if val, err := flags.GetString("tunnel-token"); err == nil && val != "" {
			c.Tunnel.AuthToken = val
			c.Tunnel.TokenStored = true
		}
	}

	if flags.Changed("debug") {
		if val, err := flags.GetBool("debug"); err == nil {
			c.Advanced.DebugMode = val
		}
	}

	if flags.Changed("cleanup-startup") {
		if val, err := flags.GetBool("cleanup-startup"); err == nil {
			c.Advanced.CleanupStartup = val
		}
	}

	if flags.Changed("update-channel") {
		if val, err := flags.GetString("update-channel"); err == nil {
			c.Update.Channel = val
		}
	}

	if flags.Changed("static-path") {
		if val, err := flags.GetString("static-path"); err == nil {
			c.Server.StaticPath = val
		}
	}

	if flags.Changed("control-path") {
		if val, err := flags.GetString("control-path"); err == nil {
			c.ControlPath = val
		}
	}

	if flags.Changed("heartbeat-ms") {
		if val, err := flags.GetUint64("heartbeat-ms"); err == nil {
			c.Sync.HeartbeatMs = val
		}
	}
}

// Print displays the current configuration.
func (c *Config) Print() {
	fmt.Println("beach configuration:")
	fmt.Printf("  Control Path: %s\n", c.ControlPath)
	fmt.Println("\nServer:")
	fmt.Printf("  Port: %s\n", c.Server.Port)
	fmt.Printf("  Access Mode: %s\n", c.Server.AccessMode)
	fmt.Printf("  Static Path: %s\n", c.Server.StaticPath)
	fmt.Println("\nSecurity:")
	fmt.Printf("  Password Enabled: %t\n", c.Security.PasswordEnabled)
	if c.Security.PasswordEnabled {
		fmt.Printf("  Password: [hidden]\n")
	}
	fmt.Println("\nSync:")
	fmt.Printf("  Foreground/Recent/History budgets: %d/%d/%d\n",
		c.Sync.ForegroundBudget, c.Sync.RecentBudget, c.Sync.HistoryBudget)
	fmt.Printf("  Delta Budget: %d\n", c.Sync.DeltaBudget)
	fmt.Printf("  Heartbeat: %dms\n", c.Sync.HeartbeatMs)
	fmt.Println("\nTunnel:")
	fmt.Printf("  Enabled: %t\n", c.Tunnel.Enabled)
	fmt.Printf("  Token Stored: %t\n", c.Tunnel.TokenStored)
	fmt.Println("\nAdvanced:")
	fmt.Printf("  Debug Mode: %t\n", c.Advanced.DebugMode)
	fmt.Printf("  Cleanup on Startup: %t\n", c.Advanced.CleanupStartup)
	fmt.Printf("  Preferred Terminal: %s\n", c.Advanced.PreferredTerm)
	fmt.Println("\nUpdate:")
	fmt.Printf("  Channel: %s\n", c.Update.Channel)
	fmt.Printf("  Auto Check: %t\n", c.Update.AutoCheck)
	fmt.Printf("  Show Notifications: %t\n", c.Update.ShowNotifications)
}
