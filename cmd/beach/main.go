// Command beach is the host binary: it spawns a PTY session, serves
// the replication wire protocol over pkg/httpapi, and optionally
// exposes the front door through pkg/tunnel.
package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/beachsh/beach/pkg/applog"
	"github.com/beachsh/beach/pkg/config"
	"github.com/beachsh/beach/pkg/httpapi"
	"github.com/beachsh/beach/pkg/session"
	"github.com/beachsh/beach/pkg/tunnel"
)

var version = "dev"

// errUsage marks an invalid-arguments error, exit code 2
// (0 success, 2 invalid arguments, 1 runtime error).
type errUsage struct{ error }

var (
	// Core flags.
	sessionServer string
	joinSession   string
	passcode      string
	logFile       string

	// Session management, ambient to the wire protocol.
	controlPath       string
	sessionName       string
	listSessions      bool
	sendKey           string
	sendText          string
	signalCmd         string
	stopSession       bool
	killSession       bool
	cleanupExited     bool

	// Server.
	serve      bool
	staticPath string

	port      string
	bindAddr  string
	localhost bool
	network   bool

	password        string
	passwordEnabled bool

	tunnelEnabled bool
	tunnelToken   string

	tlsEnabled      bool
	tlsPort         string
	tlsDomain       string
	tlsSelfSigned   bool
	tlsCertPath     string
	tlsKeyPath      string
	tlsAutoRedirect bool

	debugMode      bool
	cleanupStartup bool

	configFile string
)

var rootCmd = &cobra.Command{
	Use:   "beach [flags] [-- command]",
	Short: "beach replicates a terminal's live grid state to any number of viewers",
	Long: `beach spawns a PTY, keeps a server-side replica of its terminal grid,
and streams snapshot/delta updates to connected viewers over a websocket.`,
	RunE: run,
	Args: cobra.ArbitraryArgs,
}

func init() {
	homeDir, _ := os.UserHomeDir()
	defaultControlPath := filepath.Join(homeDir, ".beach", "control")
	defaultConfigPath := filepath.Join(homeDir, ".beach", "config.yaml")

	rootCmd.Flags().StringVar(&sessionServer, "session-server", "", "Session server base URL, for brokered joins")
	rootCmd.Flags().StringVar(&joinSession, "join", "", "Join an existing session by ID instead of spawning one")
	rootCmd.Flags().StringVar(&passcode, "passcode", "", "Six-alphanumeric passcode for --join")
	rootCmd.Flags().StringVar(&logFile, "log", "", "Write logs to this file instead of stderr")

	rootCmd.Flags().StringVar(&controlPath, "control-path", defaultControlPath, "Control directory path")
	rootCmd.Flags().StringVar(&sessionName, "session-name", "", "Session name")
	rootCmd.Flags().BoolVar(&listSessions, "list-sessions", false, "List all sessions")
	rootCmd.Flags().StringVar(&sendKey, "send-key", "", "Send key to session")
	rootCmd.Flags().StringVar(&sendText, "send-text", "", "Send text to session")
	rootCmd.Flags().StringVar(&signalCmd, "signal", "", "Send signal to session")
	rootCmd.Flags().BoolVar(&stopSession, "stop", false, "Stop session (SIGTERM)")
	rootCmd.Flags().BoolVar(&killSession, "kill", false, "Kill session (SIGKILL)")
	rootCmd.Flags().BoolVar(&cleanupExited, "cleanup-exited", false, "Clean up exited sessions")

	rootCmd.Flags().BoolVar(&serve, "serve", false, "Start the HTTP/WebSocket front door")
	rootCmd.Flags().StringVar(&staticPath, "static-path", "", "Path to static viewer assets")

	rootCmd.Flags().StringVarP(&port, "port", "p", "4020", "Server port")
	rootCmd.Flags().StringVar(&bindAddr, "bind", "", "Bind address (auto-detected if empty)")
	rootCmd.Flags().BoolVar(&localhost, "localhost", false, "Bind to localhost only (127.0.0.1)")
	rootCmd.Flags().BoolVar(&network, "network", false, "Bind to all interfaces (0.0.0.0)")

	rootCmd.Flags().StringVar(&password, "password", "", "Front door password for Basic Auth")
	rootCmd.Flags().BoolVar(&passwordEnabled, "password-enabled", false, "Enable password protection")

	rootCmd.Flags().BoolVar(&tunnelEnabled, "tunnel", false, "Expose the front door through an ngrok tunnel")
	rootCmd.Flags().StringVar(&tunnelToken, "tunnel-token", "", "ngrok auth token")

	rootCmd.Flags().BoolVar(&tlsEnabled, "tls", false, "Enable HTTPS/TLS support")
	rootCmd.Flags().StringVar(&tlsPort, "tls-port", "4443", "HTTPS port")
	rootCmd.Flags().StringVar(&tlsDomain, "tls-domain", "", "Domain for Let's Encrypt (optional)")
	rootCmd.Flags().BoolVar(&tlsSelfSigned, "tls-self-signed", true, "Use self-signed certificates (default)")
	rootCmd.Flags().StringVar(&tlsCertPath, "tls-cert", "", "Custom TLS certificate path")
	rootCmd.Flags().StringVar(&tlsKeyPath, "tls-key", "", "Custom TLS key path")
	rootCmd.Flags().BoolVar(&tlsAutoRedirect, "tls-redirect", false, "Redirect HTTP to HTTPS")

	rootCmd.Flags().BoolVar(&debugMode, "debug", false, "Enable debug logging")
	rootCmd.Flags().BoolVar(&cleanupStartup, "cleanup-startup", false, "Clean up sessions on startup")

	rootCmd.Flags().StringVarP(&configFile, "config", "c", defaultConfigPath, "Configuration file path")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("beach v%s\n", version)
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "config",
		Short: "Show configuration",
		Run: func(cmd *cobra.Command, args []string) {
			config.LoadConfig(configFile).Print()
		},
	})
}

func run(cmd *cobra.Command, args []string) error {
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file: %w", err)
		}
		defer f.Close()
		log.SetOutput(f)
	}

	cfg := config.LoadConfig(configFile)
	cfg.MergeFlags(cmd.Flags())
	applog.SetDebug(cfg.Advanced.DebugMode || debugMode)

	if cfg.ControlPath != "" {
		controlPath = cfg.ControlPath
	}
	if cfg.Server.Port != "" {
		port = cfg.Server.Port
	}

	if joinSession != "" {
		return fmt.Errorf("joining a remote session via --session-server is not yet implemented")
	}

	manager := session.NewManager(controlPath)

	if cfg.Advanced.CleanupStartup || cleanupStartup {
		if err := manager.UpdateAllSessionStatuses(); err != nil {
			applog.Warnf("status update failed: %v", err)
		}
	}

	if listSessions {
		sessions, err := manager.ListSessions()
		if err != nil {
			return fmt.Errorf("failed to list sessions: %w", err)
		}
		fmt.Printf("ID\t\tName\t\tStatus\t\tCommand\n")
		for _, s := range sessions {
			fmt.Printf("%s\t%s\t\t%s\t\t%s\n", s.ID[:8], s.Name, s.Status, s.Cmdline)
		}
		return nil
	}

	if cleanupExited {
		return manager.RemoveExitedSessions()
	}

	if sessionName != "" && (sendKey != "" || sendText != "" || signalCmd != "" || stopSession || killSession) {
		sess, err := manager.FindSession(sessionName)
		if err != nil {
			return fmt.Errorf("failed to find session: %w", err)
		}
		switch {
		case sendKey != "":
			return sess.SendKey(sendKey)
		case sendText != "":
			return sess.SendText(sendText)
		case signalCmd != "":
			return sess.Signal(signalCmd)
		case stopSession:
			return sess.Stop()
		case killSession:
			return sess.Kill()
		}
	}

	if serve {
		return startServer(cfg, manager)
	}

	if len(args) == 0 {
		return errUsage{fmt.Errorf("no command specified: pass --serve to start the front door, --list-sessions to see sessions, or a command to run in a new session")}
	}

	sess, err := manager.CreateSession(session.Config{
		Name:    sessionName,
		Cmdline: args,
		Cwd:     ".",
	})
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	fmt.Printf("Created session: %s (%s)\n", sess.ID, sess.ID[:8])
	return sess.Attach()
}

func startServer(cfg *config.Config, manager *session.Manager) error {
	serverPassword := password
	if cfg.Security.PasswordEnabled && cfg.Security.Password != "" {
		serverPassword = cfg.Security.Password
	}

	bindAddress := determineBind(cfg)

	if _, err := strconv.Atoi(port); err != nil {
		return errUsage{fmt.Errorf("invalid port: %w", err)}
	}

	server := httpapi.NewServer(manager, serverPassword)
	server.SetSyncConfig(cfg.Sync.Frame())

	var tun *tunnel.Service
	if cfg.Tunnel.Enabled || tunnelEnabled {
		authToken := tunnelToken
		if authToken == "" {
			authToken = cfg.Tunnel.AuthToken
		}
		if authToken == "" {
			applog.Warnf("tunnel enabled but no auth token provided")
		} else {
			portInt, _ := strconv.Atoi(port)
			tun = tunnel.NewService()
			tun.SetSessionCounter(func() int {
				sessions, err := manager.ListSessions()
				if err != nil {
					return 0
				}
				return len(sessions)
			})
			if err := tun.Start(authToken, portInt); err != nil {
				applog.Warnf("tunnel failed to start: %v", err)
			} else {
				applog.Infof("tunnel starting...")
				defer tun.Cleanup()
			}
		}
	}
	server.SetTunnel(tun)

	applog.Infof("starting beach server on %s:%s", bindAddress, port)
	if staticPath != "" {
		applog.Infof("serving viewer assets from: %s", staticPath)
	}
	applog.Infof("control directory: %s", controlPath)
	if serverPassword != "" {
		applog.Infof("basic auth enabled with username: admin")
	}
	if tun != nil && tun.IsRunning() {
		applog.Infof("tunnel: %s", tun.GetURL())
	}

	if tlsEnabled {
		if _, err := strconv.Atoi(tlsPort); err != nil {
			return errUsage{fmt.Errorf("invalid TLS port: %w", err)}
		}
		tlsPortInt, _ := strconv.Atoi(tlsPort)
		tlsServer := httpapi.NewTLSServer(server, &httpapi.TLSConfig{
			Port:         tlsPortInt,
			Domain:       tlsDomain,
			SelfSigned:   tlsSelfSigned,
			CertPath:     tlsCertPath,
			KeyPath:      tlsKeyPath,
			AutoRedirect: tlsAutoRedirect,
		})
		applog.Infof("starting beach HTTPS server on %s:%s", bindAddress, tlsPort)
		httpAddr := ""
		if tlsAutoRedirect {
			httpAddr = fmt.Sprintf("%s:%s", bindAddress, port)
		}
		return tlsServer.StartTLS(httpAddr, fmt.Sprintf("%s:%s", bindAddress, tlsPort))
	}

	return http.ListenAndServe(fmt.Sprintf("%s:%s", bindAddress, port), server.Handler())
}

func determineBind(cfg *config.Config) string {
	if localhost {
		return "127.0.0.1"
	}
	if network {
		return "0.0.0.0"
	}
	switch cfg.Server.AccessMode {
	case "network":
		return "0.0.0.0"
	default:
		return "127.0.0.1"
	}
}

func main() {
	rootCmd.SilenceUsage = true
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if _, ok := err.(errUsage); ok {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
