package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/channelgw/internal/api"
	"github.com/mattjoyce/channelgw/internal/auth"
	"github.com/mattjoyce/channelgw/internal/channel"
	"github.com/mattjoyce/channelgw/internal/config"
	"github.com/mattjoyce/channelgw/internal/events"
	"github.com/mattjoyce/channelgw/internal/inspect"
	"github.com/mattjoyce/channelgw/internal/lock"
	"github.com/mattjoyce/channelgw/internal/log"
	"github.com/mattjoyce/channelgw/internal/pubsub"
	"github.com/mattjoyce/channelgw/internal/rooms"
	"github.com/mattjoyce/channelgw/internal/scheduler"
	"github.com/mattjoyce/channelgw/internal/socket"
	"github.com/mattjoyce/channelgw/internal/state"
	"github.com/mattjoyce/channelgw/internal/storage"
	"github.com/mattjoyce/channelgw/internal/transport"
	"github.com/mattjoyce/channelgw/internal/tui/watch"
	"github.com/mattjoyce/channelgw/internal/webhook"
)

var (
	version   = "0.1.0-dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

// configEnvVar names the environment variable consulted when --config is
// not given.
const configEnvVar = "CHANNELGW_CONFIG"

func main() {
	os.Exit(runCLI(os.Args[1:]))
}

func runCLI(cliArgs []string) int {
	if len(cliArgs) < 1 {
		printUsage()
		return 1
	}

	cmd := cliArgs[0]
	args := cliArgs[1:]

	switch cmd {
	case "system":
		return runSystemNoun(args)
	case "config":
		return runConfigNoun(args)
	case "room":
		return runRoomNoun(args)

	case "start":
		return runStart(args)
	case "version", "--version":
		return runVersion(args)
	case "help", "--help", "-h":
		printUsage()
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		return 1
	}
}

type versionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

func runVersion(args []string) int {
	fs := flag.NewFlagSet("version", flag.ContinueOnError)
	jsonOut := fs.Bool("json", false, "Output version metadata as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if fs.NArg() > 0 {
		fmt.Fprintln(os.Stderr, "Usage: channelgw version [--json]")
		return 1
	}

	info := currentVersionInfo()

	if *jsonOut {
		data, err := json.MarshalIndent(info, "", "  ")
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render version JSON: %v\n", err)
			return 1
		}
		fmt.Println(string(data))
		return 0
	}

	fmt.Printf("channelgw %s\n", info.Version)
	fmt.Printf("commit: %s\n", info.Commit)
	fmt.Printf("built_at: %s\n", info.BuildTime)
	return 0
}

func currentVersionInfo() versionInfo {
	info := versionInfo{
		Version:   strings.TrimSpace(version),
		Commit:    "unknown",
		BuildTime: "unknown",
	}
	if info.Version == "" {
		info.Version = "0.0.0-dev"
	}

	commit := strings.TrimSpace(gitCommit)
	if commit == "" || commit == "unknown" {
		commit = readBuildSetting("vcs.revision")
	}
	if commit != "" {
		info.Commit = shortenCommit(commit)
	}

	built := strings.TrimSpace(buildDate)
	if built == "" || built == "unknown" {
		built = readBuildSetting("vcs.time")
	}
	if t, ok := normalizeBuildTimeUTC(built); ok {
		info.BuildTime = t
	}
	return info
}

func shortenCommit(commit string) string {
	if len(commit) <= 12 {
		return commit
	}
	return commit[:12]
}

func normalizeBuildTimeUTC(raw string) (string, bool) {
	if raw == "" || raw == "unknown" {
		return "", false
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return "", false
	}
	return t.UTC().Format(time.RFC3339), true
}

func readBuildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == key {
			return strings.TrimSpace(setting.Value)
		}
	}
	return ""
}

func printUsage() {
	fmt.Print(`channelgw - Real-time channel gateway for websocket and long-poll clients

Usage:
  channelgw <noun> <action> [flags]

System Commands:
  system start      Start the gateway in the foreground
  system status     Show config, database and PID lock state
  system watch      Real-time socket monitoring TUI

Config Commands:
  config check      Validate configuration syntax and integrity
  config lock       Authorize current state (update integrity hashes)
  config token      Generate a scoped bearer token entry

Room Commands:
  room inspect <topic>  Show stored history and authors of a room

General:
  start             Alias for 'system start'
  version           Show version information
  help              Show this help message

Use 'channelgw <noun> help' for resource-specific flags.
`)
}

// --- NOUN DISPATCHERS ---

func runSystemNoun(args []string) int {
	if len(args) < 1 {
		printSystemNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printSystemNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "start":
		if hasHelpFlag(actionArgs) {
			printSystemStartHelp()
			return 0
		}
		return runStart(actionArgs)
	case "status":
		if hasHelpFlag(actionArgs) {
			printSystemStatusHelp()
			return 0
		}
		return runSystemStatus(actionArgs)
	case "watch":
		if hasHelpFlag(actionArgs) {
			printSystemWatchHelp()
			return 0
		}
		return runWatch(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown system action: %s\n", action)
		return 1
	}
}

func runConfigNoun(args []string) int {
	if len(args) < 1 {
		printConfigNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printConfigNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "check":
		if hasHelpFlag(actionArgs) {
			printConfigCheckHelp()
			return 0
		}
		return runConfigCheck(actionArgs)
	case "lock":
		if hasHelpFlag(actionArgs) {
			printConfigLockHelp()
			return 0
		}
		return runConfigLock(actionArgs)
	case "token":
		if hasHelpFlag(actionArgs) {
			printConfigTokenHelp()
			return 0
		}
		return runConfigToken(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown config action: %s\n", action)
		return 1
	}
}

func runRoomNoun(args []string) int {
	if len(args) < 1 {
		printRoomNounHelp(os.Stderr)
		return 1
	}
	if isHelpToken(args[0]) {
		printRoomNounHelp(os.Stdout)
		return 0
	}

	action := args[0]
	actionArgs := args[1:]

	switch action {
	case "inspect":
		if hasHelpFlag(actionArgs) {
			printRoomInspectHelp()
			return 0
		}
		return runRoomInspect(actionArgs)
	default:
		fmt.Fprintf(os.Stderr, "Unknown room action: %s\n", action)
		return 1
	}
}

func isHelpToken(token string) bool {
	return token == "help" || token == "--help" || token == "-h"
}

func hasHelpFlag(args []string) bool {
	for _, arg := range args {
		if arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}

func printSystemNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: channelgw system <action>")
	fmt.Fprintln(w, "Actions: start, status, watch")
}

func printConfigNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: channelgw config <action> [flags]")
	fmt.Fprintln(w, "Actions: check, lock, token")
}

func printRoomNounHelp(w *os.File) {
	fmt.Fprintln(w, "Usage: channelgw room <action>")
	fmt.Fprintln(w, "Actions: inspect")
}

func printRoomInspectHelp() {
	fmt.Println("Usage: channelgw room inspect <topic> [--config PATH] [--limit N] [--json]")
	fmt.Println("Show message counts, authors and the most recent messages of a room.")
}

func printSystemStartHelp() {
	fmt.Println("Usage: channelgw system start [--config PATH]")
	fmt.Println("Start the gateway in the foreground.")
}

func printSystemStatusHelp() {
	fmt.Println("Usage: channelgw system status [--config PATH] [--json]")
	fmt.Println("Show config validity, database readiness and PID lock state.")
	fmt.Println("")
	fmt.Println("Exit codes:")
	fmt.Println("  0  All checks passed")
	fmt.Println("  1  One or more checks failed")
}

func printSystemWatchHelp() {
	fmt.Println("Usage: channelgw system watch [flags]")
	fmt.Println()
	fmt.Println("Real-time monitoring TUI for connected sockets and joined topics.")
	fmt.Println()
	fmt.Println("Flags:")
	fmt.Println("  --api-url URL    Gateway URL (default: http://localhost:4000)")
	fmt.Println("  --api-key KEY    Bearer token with events:ro (or CHANNELGW_API_KEY)")
	fmt.Println()
	fmt.Println("Keybindings:")
	fmt.Println("  q, Ctrl+C        Quit")
	fmt.Println("  ↑/↓, k/j         Select socket")
}

func printConfigCheckHelp() {
	fmt.Println("Usage: channelgw config check [--config PATH] [--format human|json] [--strict] [--json]")
	fmt.Println("Validate configuration syntax, integrity hashes and policy. Exit 2 on warnings with --strict.")
}

func printConfigLockHelp() {
	fmt.Println("Usage: channelgw config lock [--config PATH] [-v|--verbose] [--dry-run]")
	fmt.Println("Authorize current configuration state by regenerating .checksums manifests.")
}

func printConfigTokenHelp() {
	fmt.Println("Usage: channelgw config token [--scopes a,b] [--env NAME]")
	fmt.Println("Generate a random bearer token and print its config entry.")
	fmt.Println("Without --scopes an interactive scope picker is shown.")
}

// --- ACTION IMPLEMENTATIONS ---

// discoverConfigPath picks the config when --config is not given: the
// CHANNELGW_CONFIG variable, then ./config.yaml, then the user config dir.
func discoverConfigPath() (string, error) {
	if p := strings.TrimSpace(os.Getenv(configEnvVar)); p != "" {
		return p, nil
	}
	candidates := []string{"config.yaml"}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates, filepath.Join(dir, "channelgw", "config.yaml"))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err == nil {
			return c, nil
		}
	}
	return "", fmt.Errorf("no config found (tried %s); use --config or %s", strings.Join(candidates, ", "), configEnvVar)
}

func loadConfig(configPath string) (*config.Config, string, error) {
	if configPath == "" {
		discovered, err := discoverConfigPath()
		if err != nil {
			return nil, "", err
		}
		configPath = discovered
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, configPath, err
	}
	return cfg, configPath, nil
}

func authTokens(tokens []config.APIToken) []auth.TokenConfig {
	out := make([]auth.TokenConfig, 0, len(tokens))
	for _, t := range tokens {
		out = append(out, auth.TokenConfig{Token: t.Token, Scopes: t.Scopes})
	}
	return out
}

func newPubSub(ctx context.Context, cfg config.PubSubConfig) (pubsub.PubSub, error) {
	if cfg.Adapter != "libp2p" {
		return pubsub.NewMemory(), nil
	}
	return pubsub.NewLibp2p(ctx, pubsub.Libp2pOptions{
		ListenAddrs:     cfg.Libp2p.ListenAddrs,
		Bootstrap:       cfg.Libp2p.Bootstrap,
		Rendezvous:      cfg.Libp2p.Rendezvous,
		EnableMDNS:      cfg.Libp2p.EnableMDNS,
		IdentityKeyFile: cfg.Libp2p.IdentityKeyFile,
		TopicPrefix:     cfg.Libp2p.TopicPrefix,
	})
}

func runStart(args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to parse flags: %v\n", err)
		return 1
	}

	cfg, resolved, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	log.Setup(cfg.Service.LogLevel, cfg.Service.LogFormat)
	logger := log.WithComponent("main")
	logger.Info("channelgw starting", "version", version, "config", resolved)

	pidLock, err := lock.AcquirePIDLock(cfg.Service.PIDFile)
	if err != nil {
		logger.Error("failed to acquire PID lock (another instance may be running)", "path", cfg.Service.PIDFile, "error", err)
		return 1
	}
	defer pidLock.Release()
	logger.Info("acquired PID lock", "path", pidLock.Path())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ps, err := newPubSub(ctx, cfg.PubSub)
	if err != nil {
		logger.Error("failed to start pubsub", "adapter", cfg.PubSub.Adapter, "error", err)
		return 1
	}
	defer ps.Close()
	if p2p, ok := ps.(*pubsub.Libp2p); ok {
		logger.Info("libp2p pubsub started", "peer_id", p2p.PeerID(), "addrs", p2p.ListenAddrs())
	}

	hub := events.NewHub(256)
	deps := api.Deps{PubSub: ps, Events: hub}

	var room *rooms.Room
	if cfg.Storage.Path != "" {
		db, err := storage.OpenSQLite(ctx, cfg.Storage.Path)
		if err != nil {
			logger.Error("failed to open database", "path", cfg.Storage.Path, "error", err)
			return 1
		}
		defer db.Close()
		logger.Info("database opened", "path", cfg.Storage.Path)

		sessions := state.NewSessionLog(db)
		stream, unsubscribe := hub.Subscribe()
		defer unsubscribe()
		go sessions.Follow(ctx, stream)
		deps.Sessions = sessions

		var roomStore scheduler.RoomStore
		if cfg.Rooms.Enabled {
			store := rooms.NewStore(db)
			room = rooms.NewRoom(store, cfg.Rooms.HistoryLimit)
			roomStore = store
		}

		sched, err := scheduler.New(cfg.Storage.Maintenance, sessions, roomStore, hub, log.WithComponent("maintenance"))
		if err != nil {
			logger.Error("failed to create scheduler", "error", err)
			return 1
		}
		if err := sched.Start(ctx); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			return 1
		}
		defer sched.Stop()
	}

	owners := transport.NewManager()
	ep := &transport.Endpoint{
		Config:         socket.EndpointConfig{Name: cfg.Endpoint.Name, PubSub: ps},
		Handler:        rooms.NewHandler(authTokens(cfg.Rooms.Tokens), room),
		Server:         channel.NewServer(channel.Options{JoinTimeout: cfg.Endpoint.JoinTimeout}),
		Events:         hub,
		Owners:         owners,
		CheckOrigin:    cfg.Endpoint.CheckOrigin,
		AllowedOrigins: cfg.Endpoint.AllowedOrigins,
	}
	deps.Stats = owners

	if ws := cfg.Transports.WebSocket; ws.Enabled {
		deps.WebSocket = transport.NewWebSocket(ep, transport.WebSocketOptions{
			Timeout:         ws.Timeout,
			MaxMessageBytes: ws.MaxMessageBytes,
		})
	}
	if lp := cfg.Transports.LongPoll; lp.Enabled {
		deps.LongPoll = transport.NewLongPoll(ep, transport.LongPollOptions{
			Window:          lp.Window,
			SessionTimeout:  lp.SessionTimeout,
			Secret:          cfg.Endpoint.SecretKeyBase,
			MaxMessageBytes: cfg.Transports.WebSocket.MaxMessageBytes,
		})
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 2)

	apiServer := api.New(api.Config{
		Listen: cfg.Endpoint.Listen,
		Admin:  cfg.API.Enabled,
		APIKey: cfg.API.Auth.APIKey,
		Tokens: authTokens(cfg.API.Auth.Tokens),
	}, deps, log.WithComponent("api"))
	go func() {
		if err := apiServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errCh <- fmt.Errorf("endpoint: %w", err)
		}
	}()
	logger.Info("endpoint listening",
		"listen", cfg.Endpoint.Listen,
		"websocket", cfg.Transports.WebSocket.Enabled,
		"longpoll", cfg.Transports.LongPoll.Enabled,
		"admin", cfg.API.Enabled,
	)

	if cfg.Webhooks != nil && len(cfg.Webhooks.Endpoints) > 0 {
		webhookConfig, err := webhook.FromGlobalConfig(cfg.Webhooks)
		if err != nil {
			logger.Error("failed to configure webhooks", "error", err)
			return 1
		}
		webhookServer := webhook.New(webhookConfig, ps, log.WithComponent("webhook"))
		go func() {
			if err := webhookServer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("webhook: %w", err)
			}
		}()
		logger.Info("webhook server enabled", "listen", webhookConfig.Listen, "endpoints", len(webhookConfig.Endpoints))
	}

	logger.Info("channelgw running (press Ctrl+C to stop)")

	code := 0
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		logger.Error("component failed", "error", err)
		code = 1
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer closeCancel()
	if err := owners.CloseAll(closeCtx); err != nil {
		logger.Warn("sockets did not close in time", "error", err)
	}
	cancel()

	logger.Info("channelgw stopped")
	return code
}

type statusCheck struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail"`
}

type statusReport struct {
	Healthy bool          `json:"healthy"`
	Config  string        `json:"config"`
	Checks  []statusCheck `json:"checks"`
}

func runSystemStatus(args []string) int {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	jsonOut := fs.Bool("json", false, "Output as JSON")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	report := statusReport{Healthy: true}
	add := func(name string, ok bool, detail string) {
		report.Checks = append(report.Checks, statusCheck{Name: name, OK: ok, Detail: detail})
		if !ok {
			report.Healthy = false
		}
	}

	cfg, resolved, err := loadConfig(*configPath)
	report.Config = resolved
	if err != nil {
		add("config", false, err.Error())
	} else {
		add("config", true, "valid")

		if cfg.Storage.Path != "" {
			db, err := storage.OpenSQLite(context.Background(), cfg.Storage.Path)
			if err != nil {
				add("database", false, err.Error())
			} else {
				_ = db.Close()
				add("database", true, cfg.Storage.Path)
			}
		}

		pid, held, err := lock.Probe(cfg.Service.PIDFile)
		switch {
		case err != nil:
			add("pid_lock", false, err.Error())
		case held:
			add("pid_lock", true, fmt.Sprintf("running as pid %d", pid))
		default:
			add("pid_lock", true, "not running")
		}
	}

	if *jsonOut {
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Println(string(data))
	} else {
		if report.Config != "" {
			fmt.Printf("Config: %s\n", report.Config)
		}
		for _, c := range report.Checks {
			mark := "OK  "
			if !c.OK {
				mark = "FAIL"
			}
			fmt.Printf("  [%s] %-9s %s\n", mark, c.Name, c.Detail)
		}
	}

	if !report.Healthy {
		return 1
	}
	return 0
}

func runRoomInspect(args []string) int {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to configuration file or directory")
	limit := fs.Int("limit", 20, "Number of recent messages to show")
	jsonOut := fs.Bool("json", false, "Output as JSON")

	flagArgs, positional := splitFlagsAndPositionals(args, map[string]bool{"--config": true, "-config": true, "--limit": true, "-limit": true})
	if err := fs.Parse(flagArgs); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "Usage: channelgw room inspect <topic> [--config PATH] [--limit N] [--json]")
		return 1
	}
	topic := strings.TrimSpace(positional[0])

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return 1
	}

	ctx := context.Background()
	db, err := storage.OpenSQLite(ctx, cfg.Storage.Path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open database: %v\n", err)
		return 1
	}
	defer db.Close()

	var report string
	if *jsonOut {
		report, err = inspect.BuildJSONReport(ctx, db, topic, *limit)
	} else {
		report, err = inspect.BuildReport(ctx, db, topic, *limit)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Inspect failed: %v\n", err)
		return 1
	}
	fmt.Print(report)
	if *jsonOut {
		fmt.Println()
	}
	return 0
}

// splitFlagsAndPositionals lets positionals come before flags.
func splitFlagsAndPositionals(args []string, takesValue map[string]bool) ([]string, []string) {
	var flags, positional []string
	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			positional = append(positional, arg)
			continue
		}
		flags = append(flags, arg)
		if strings.Contains(arg, "=") {
			continue
		}
		if takesValue[arg] && i+1 < len(args) {
			flags = append(flags, args[i+1])
			i++
		}
	}
	return flags, positional
}

func runWatch(args []string) int {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	apiURL := fs.String("api-url", "http://localhost:4000", "Gateway URL")
	apiKey := fs.String("api-key", os.Getenv("CHANNELGW_API_KEY"), "API Bearer Token")
	if err := fs.Parse(args); err != nil {
		fmt.Fprintf(os.Stderr, "Flag error: %v\n", err)
		return 1
	}

	if *apiKey == "" {
		fmt.Fprintln(os.Stderr, "Error: API key required. Use --api-key or CHANNELGW_API_KEY env var.")
		return 1
	}

	p := tea.NewProgram(watch.New(*apiURL, *apiKey))
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "TUI error: %v\n", err)
		return 1
	}
	return 0
}
