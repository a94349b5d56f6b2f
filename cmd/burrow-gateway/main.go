// ABOUTME: Entry point for the burrow gateway server
// ABOUTME: One agent, every channel: web chat, Telegram, CI job reports

package main

import (
	"bufio"
	"context"
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
	"github.com/joho/godotenv"

	"github.com/burrowhq/burrow/internal/agent"
	"github.com/burrowhq/burrow/internal/auth"
	"github.com/burrowhq/burrow/internal/background"
	"github.com/burrowhq/burrow/internal/channel"
	"github.com/burrowhq/burrow/internal/config"
	"github.com/burrowhq/burrow/internal/dedupe"
	"github.com/burrowhq/burrow/internal/dispatch"
	"github.com/burrowhq/burrow/internal/jobs"
	"github.com/burrowhq/burrow/internal/llm"
	"github.com/burrowhq/burrow/internal/notify"
	"github.com/burrowhq/burrow/internal/store"
	"github.com/burrowhq/burrow/internal/trigger"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _
| |__  _   _ _ __ _ __ _____      __
| '_ \| | | | '__| '__/ _ \ \ /\ / /
| |_) | |_| | |  | | | (_) \ V  V /
|_.__/ \__,_|_|  |_|  \___/ \_/\_/
`

// getConfigPath returns the path to the gateway config file.
// Priority: BURROW_CONFIG env var > XDG_CONFIG_HOME/burrow/gateway.yaml > ~/.config/burrow/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("BURROW_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "burrow", "gateway.yaml")
}

// getDataPath returns the path to the burrow data directory.
// Priority: XDG_DATA_HOME/burrow > ~/.local/share/burrow
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "burrow")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: burrow-gateway <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve            Start the gateway server")
		fmt.Println("  init             Create a new config file interactively")
		fmt.Println("  hash-password    Generate a password hash for the config")
		fmt.Println("  health           Check gateway health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Secrets referenced as ${VAR} in the config can live in a local .env
	_ = godotenv.Load()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "hash-password":
		err = runHashPassword()
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

	cyan := color.New(color.FgCyan)
	cyan.Print(banner)
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	slog.SetDefault(logger)

	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:     %s\n", cfg.Server.HTTPAddr)
	green.Print("    ▶ ")
	fmt.Printf("Database: %s\n", cfg.Database.Path)
	green.Print("    ▶ ")
	fmt.Printf("Agent:    %s\n", cfg.Agent.BaseURL)
	fmt.Println()

	logger.Info("starting burrow-gateway",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
	)

	st, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	tokens := channel.NewTokenCell(cfg.Telegram.BotToken)
	telegram := channel.NewTelegram(channel.TelegramConfig{
		Tokens: tokens,
		Logger: logger,
	})

	gateway := agent.NewHTTPGateway(agent.HTTPConfig{
		BaseURL: cfg.Agent.BaseURL,
		APIKey:  cfg.Agent.APIKey,
		Model:   cfg.Agent.Model,
		Timeout: cfg.Agent.Timeout,
		Logger:  logger,
	})

	completions := llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  cfg.LLM.APIKey,
		APIBase: cfg.LLM.APIBase,
		Model:   cfg.Agent.TitleModel,
	})

	dispatcher := jobs.NewGitHubDispatcher(jobs.GitHubConfig{
		Repo:     cfg.GitHub.Repo,
		Workflow: cfg.GitHub.Workflow,
		Token:    cfg.GitHub.Token,
		Logger:   logger,
	})

	rules := make([]trigger.Rule, 0, len(cfg.Triggers))
	for _, t := range cfg.Triggers {
		rules = append(rules, trigger.Rule{
			Name:       t.Name,
			PathPrefix: t.PathPrefix,
			ForwardURL: t.ForwardURL,
		})
	}

	seen := dedupe.New(30*time.Minute, 100_000)
	defer seen.Close()
	runner := background.NewRunner(logger)

	srv := dispatch.NewServer(dispatch.Deps{
		Config:     cfg,
		Store:      st,
		Gateway:    gateway,
		Telegram:   telegram,
		Sessions:   auth.NewSessions([]byte(cfg.Auth.SessionSecret), 0),
		Triggers:   trigger.NewRegistry(rules, logger),
		Jobs:       jobs.NewService(st, dispatcher, logger),
		Summarizer: notify.NewSummarizer(completions, cfg.Agent.TitleModel, logger),
		Notifier:   notify.NewNotifier(telegram, st, gateway, logger),
		Titler:     completions,
		Seen:       seen,
		Runner:     runner,
		Logger:     logger,
	})

	return srv.ListenAndServe(ctx)
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

	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

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

	buf.WriteString(r.Message)

	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

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
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/ping", cfg.Server.HTTPAddr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("X-API-Key", cfg.Auth.APIKey)

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

// runHashPassword reads a password from stdin and prints its bcrypt hash,
// ready to paste into auth.password_hash
func runHashPassword() error {
	fmt.Print("Password: ")
	reader := bufio.NewReader(os.Stdin)
	password, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	password = strings.TrimSpace(password)
	if password == "" {
		return fmt.Errorf("password cannot be empty")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	fmt.Println(hash)
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("burrow-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	fmt.Println("\n--- Agent Runtime ---")
	agentURL := prompt(reader, "Agent runtime base URL", "http://localhost:9090")
	agentModel := prompt(reader, "Agent model", "main")
	titleModel := prompt(reader, "Title/summary model", "small")

	fmt.Println("\n--- Auth ---")
	username := prompt(reader, "Web chat username", "admin")
	fmt.Println("Run 'burrow-gateway hash-password' to generate the password hash.")

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# burrow-gateway configuration\n")
	cfg.WriteString("# Generated by burrow-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: \"%s\"\n", httpAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString("  api_key: \"${BURROW_API_KEY}\"\n")
	cfg.WriteString("  session_secret: \"${BURROW_SESSION_SECRET}\"\n")
	cfg.WriteString(fmt.Sprintf("  username: \"%s\"\n", username))
	cfg.WriteString("  password_hash: \"${BURROW_PASSWORD_HASH}\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("agent:\n")
	cfg.WriteString(fmt.Sprintf("  base_url: \"%s\"\n", agentURL))
	cfg.WriteString("  api_key: \"${AGENT_API_KEY}\"\n")
	cfg.WriteString(fmt.Sprintf("  model: \"%s\"\n", agentModel))
	cfg.WriteString(fmt.Sprintf("  title_model: \"%s\"\n", titleModel))
	cfg.WriteString("  timeout: \"5m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("llm:\n")
	cfg.WriteString("  api_base: \"https://api.openai.com/v1\"\n")
	cfg.WriteString("  api_key: \"${OPENAI_API_KEY}\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("telegram:\n")
	cfg.WriteString("  bot_token: \"${TELEGRAM_BOT_TOKEN}\"\n")
	cfg.WriteString("  webhook_secret: \"${TELEGRAM_WEBHOOK_SECRET}\"\n")
	cfg.WriteString("  chat_id: \"\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("github:\n")
	cfg.WriteString("  webhook_secret: \"${GITHUB_WEBHOOK_SECRET}\"\n")
	cfg.WriteString("  repo: \"\"\n")
	cfg.WriteString("  token: \"${GITHUB_TOKEN}\"\n")
	cfg.WriteString("  workflow: \"job.yml\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))

	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  burrow-gateway serve\n")

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
