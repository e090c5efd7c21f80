// ABOUTME: Entry point for the glint-gateway decision server
// ABOUTME: Routes agent tool calls to backends behind health and circuit checks

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/glinthq/glint-gateway/internal/auth"
	"github.com/glinthq/glint-gateway/internal/breaker"
	"github.com/glinthq/glint-gateway/internal/config"
	"github.com/glinthq/glint-gateway/internal/dedupe"
	"github.com/glinthq/glint-gateway/internal/delegation"
	"github.com/glinthq/glint-gateway/internal/dispatch"
	"github.com/glinthq/glint-gateway/internal/gateway"
	"github.com/glinthq/glint-gateway/internal/health"
	"github.com/glinthq/glint-gateway/internal/passport"
	"github.com/glinthq/glint-gateway/internal/registry"
	"github.com/glinthq/glint-gateway/internal/search"
	"github.com/glinthq/glint-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
        _ _       _                     _
   __ _| (_)_ __ | |_       __ _  __ _| |_ _____      ____ _ _   _
  / _' | | | '_ \| __|____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
 | (_| | | | | | | ||_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
  \__, |_|_|_| |_|\__|     \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
  |___/                    |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: GLINT_CONFIG env var > XDG_CONFIG_HOME/glint/gateway.yaml > ~/.config/glint/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("GLINT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "glint", "gateway.yaml")
}

// getDataPath returns the path to the glint data directory.
// Priority: XDG_DATA_HOME/glint > ~/.local/share/glint
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "glint")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: glint-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                  Start the gateway server")
		fmt.Println("  init                   Create a new config file interactively")
		fmt.Println("  bootstrap --name NAME  Create the root passport and token")
		fmt.Println("  health                 Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "bootstrap":
		err = runBootstrap(ctx)
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Backends: %d\n", len(cfg.Backends))
	fmt.Println()

	logger.Info("starting glint-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"backends", len(cfg.Backends),
	)

	// Open the store
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	// Decision layer components
	br := breaker.New(logger)
	tracker := health.NewTracker(0)
	index := search.New()

	urls := make(map[string]string, len(cfg.Backends))
	for _, b := range cfg.Backends {
		urls[b.ID] = b.URL
	}
	caller := dispatch.NewHTTPCaller(urls)

	prober := health.NewProber(health.ProberConfig{
		Tracker:       tracker,
		Breaker:       br,
		Probe:         caller.Probe,
		Interval:      cfg.Probe.Interval,
		MaxConcurrent: cfg.Probe.MaxConcurrent,
		Logger:        logger,
	})

	reg := registry.New(registry.Config{
		Indexer:  index,
		ProbeSet: prober,
		Logger:   logger,
	})
	for _, b := range cfg.Backends {
		tools := make([]registry.ToolDefinition, 0, len(b.Tools))
		for _, tool := range b.Tools {
			tools = append(tools, registry.ToolDefinition{
				Name:        tool.Name,
				Description: tool.Description,
			})
		}
		if err := reg.RegisterBackend(b.ID, b.Name, tools); err != nil {
			return fmt.Errorf("registering backend %q: %w", b.ID, err)
		}
		br.Configure(b.ID, breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			ResetTimeout:     cfg.Breaker.ResetTimeout,
		})
	}

	router := dispatch.New(dispatch.Config{
		Registry: reg,
		Breaker:  br,
		Caller:   caller,
		Logger:   logger,
	})

	requestCache := dedupe.New(dedupe.DefaultTTL, dedupe.DefaultMaxSize)
	defer requestCache.Close()

	var tokens passport.TokenGenerator
	var verifier auth.TokenVerifier
	if cfg.Auth.JWTSecret != "" {
		jv := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret))
		tokens = jv
		verifier = jv
	}
	passports := passport.NewService(st, tokens, logger)

	gw := gateway.New(gateway.Config{
		HTTPAddr:  cfg.Server.HTTPAddr,
		Store:     st,
		Registry:  reg,
		Breaker:   br,
		Tracker:   tracker,
		Prober:    prober,
		Router:    router,
		Passports: passports,
		Index:     index,
		Dedupe:    requestCache,
		Verifier:  verifier,
		TopK:      cfg.Search.TopK,
		Logger:    logger,
	})

	return gw.Start(ctx)
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

// runBootstrap performs first-time setup of the gateway:
// 1. Creates config file with random JWT secret (if not exists)
// 2. Creates database and root passport with the full wildcard scope
// 3. Generates a JWT token for the root passport
//
// This is a one-command setup: glint-gateway bootstrap --name "Your Name"
func runBootstrap(ctx context.Context) error {
	// Parse args with explicit error handling
	// Supports both "--name value" and "--name=value" formats
	var displayName string
	args := os.Args[2:]
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--name" || arg == "-n":
			if i+1 >= len(args) {
				return fmt.Errorf("--name requires a value")
			}
			displayName = args[i+1]
			i++
		case strings.HasPrefix(arg, "--name="):
			displayName = strings.TrimPrefix(arg, "--name=")
		case strings.HasPrefix(arg, "-n="):
			displayName = strings.TrimPrefix(arg, "-n=")
		case strings.HasPrefix(arg, "-"):
			return fmt.Errorf("unknown flag: %s", arg)
		default:
			return fmt.Errorf("unexpected argument: %s", arg)
		}
	}

	if displayName == "" {
		return fmt.Errorf("--name flag is required")
	}

	displayName = strings.TrimSpace(displayName)
	if displayName == "" {
		return fmt.Errorf("display name cannot be empty or whitespace only")
	}
	if len(displayName) > 100 {
		return fmt.Errorf("display name exceeds maximum length of 100 characters")
	}

	configPath := getConfigPath()
	dataPath := getDataPath()
	dbPath := filepath.Join(dataPath, "gateway.db")

	green := color.New(color.FgGreen)
	cyan := color.New(color.FgCyan)
	yellow := color.New(color.FgYellow)

	// Check if config exists, create if not
	var cfg *config.Config
	var jwtSecret string

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		// Generate random JWT secret
		secretBytes := make([]byte, 32)
		if _, err := rand.Read(secretBytes); err != nil {
			return fmt.Errorf("generating JWT secret: %w", err)
		}
		jwtSecret = base64.StdEncoding.EncodeToString(secretBytes)

		// Create config directory
		configDir := filepath.Dir(configPath)
		if err := os.MkdirAll(configDir, 0755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		// Create data directory
		if err := os.MkdirAll(dataPath, 0755); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}

		// Write config file
		configContent := fmt.Sprintf(`# glint-gateway configuration
# Generated by glint-gateway bootstrap

server:
  http_addr: "localhost:8080"

database:
  path: "%s"

auth:
  jwt_secret: "%s"

logging:
  level: "info"
  format: "text"
`, dbPath, jwtSecret)

		if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
			return fmt.Errorf("writing config file: %w", err)
		}

		green.Printf("  ✓ Created config: %s\n", configPath)

		// Load the config we just created
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
	} else {
		// Config exists, load it
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}

		// Check JWT secret is configured
		if cfg.Auth.JWTSecret == "" {
			return fmt.Errorf("jwt_secret not configured in %s (required for bootstrap)", configPath)
		}
		jwtSecret = cfg.Auth.JWTSecret

		cyan.Printf("  Using existing config: %s\n", configPath)
	}

	// Open the store directly
	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	green.Printf("  ✓ Database: %s\n", cfg.Database.Path)

	// Create the root passport with the full wildcard scope
	tokens := auth.NewJWTVerifier([]byte(jwtSecret))
	passports := passport.NewService(st, tokens, slog.Default())

	result, err := passports.CreateRoot(ctx, displayName, []string{"*"}, delegation.Budget{})
	if err != nil {
		return fmt.Errorf("creating root passport: %w", err)
	}

	green.Printf("  ✓ Created root passport: %s\n", displayName)

	// Save token to file for CLI tools to read
	tokenPath := filepath.Join(filepath.Dir(configPath), "token")
	if err := os.WriteFile(tokenPath, []byte(result.Token), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}

	green.Printf("  ✓ Saved token: %s\n", tokenPath)

	expiresAt := time.Now().Add(auth.DefaultTokenTTL).UTC()

	// Print results
	fmt.Println()
	green.Println("  Bootstrap complete!")
	fmt.Println()
	cyan.Println("  Root Passport")
	cyan.Println("  -------------")
	fmt.Printf("  ID:     %s\n", result.Passport.ID)
	fmt.Printf("  Name:   %s\n", displayName)
	fmt.Printf("  Scopes: *\n")
	fmt.Printf("  Token:  %s (expires %s)\n", tokenPath, expiresAt.Format("Jan 02, 2006"))
	fmt.Println()

	yellow.Println("  Ready to go:")
	fmt.Println("    glint-gateway serve     # start the gateway")
	fmt.Println("    glint-admin backends    # inspect backend health")
	fmt.Println()

	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("glint-gateway configuration setup")
	fmt.Println("=================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Probing and circuit breaking
	fmt.Println("\n--- Resilience Configuration ---")
	probeInterval := prompt(reader, "Health probe interval", "60s")
	failureThreshold := prompt(reader, "Circuit breaker failure threshold", "5")
	resetTimeout := prompt(reader, "Circuit breaker reset timeout", "30s")

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# glint-gateway configuration\n")
	cfg.WriteString("# Generated by glint-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("breaker:\n")
	cfg.WriteString(fmt.Sprintf("  failure_threshold: %s\n", failureThreshold))
	cfg.WriteString(fmt.Sprintf("  reset_timeout: \"%s\"\n", resetTimeout))
	cfg.WriteString("\n")

	cfg.WriteString("probe:\n")
	cfg.WriteString(fmt.Sprintf("  interval: \"%s\"\n", probeInterval))
	cfg.WriteString("\n")

	cfg.WriteString("search:\n")
	cfg.WriteString("  top_k: 10\n")
	cfg.WriteString("\n")

	cfg.WriteString("# backends:\n")
	cfg.WriteString("#   - id: \"github\"\n")
	cfg.WriteString("#     name: \"GitHub\"\n")
	cfg.WriteString("#     url: \"http://localhost:9001\"\n")
	cfg.WriteString("#     tools:\n")
	cfg.WriteString("#       - name: \"search_code\"\n")
	cfg.WriteString("#         description: \"Search code across repositories\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  glint-gateway serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}
