// ABOUTME: Entry point for the chatrelay server
// ABOUTME: Subcommands serve the relay, write a starter config, and probe a running server

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/chatrelay/internal/config"
	"github.com/2389/chatrelay/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
       _           _            _
   ___| |__   __ _| |_ _ __ ___| | __ _ _   _
  / __| '_ \ / _' | __| '__/ _ \ |/ _' | | | |
 | (__| | | | (_| | |_| | |  __/ | (_| | |_| |
  \___|_| |_|\__,_|\__|_|  \___|_|\__,_|\__, |
                                        |___/
`

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: chatrelay <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve      Start the relay server")
		fmt.Println("  init       Create a new config file interactively")
		fmt.Println("  health     Check server health")
		fmt.Println("  sessions   List in-flight streaming sessions")
		os.Exit(1)
	}

	// A .env next to the binary may carry the upstream API key.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "Warning: reading .env: %v\n", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit()
	case "health":
		err = runProbe(ctx, "/health")
	case "sessions":
		err = runProbe(ctx, "/health/ready")
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file, falling back to defaults when it does
// not exist.
func loadConfig() (*config.Config, string, error) {
	path := config.DefaultPath()
	cfg, err := config.Load(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		cfg = config.Default()
		path = "(defaults)"
	case err != nil:
		return nil, path, fmt.Errorf("loading config: %w", err)
	}

	if cfg.Upstream.APIKey == "" {
		cfg.Upstream.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	return cfg, path, nil
}

func runServe(ctx context.Context) error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, configPath, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging, os.Stdout)

	green := color.New(color.FgGreen)
	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-10s %s\n", label+":", value)
	}
	line("Config", configPath)
	line("HTTP", cfg.Server.HTTPAddr)
	line("Upstream", cfg.Upstream.BaseURL+" ("+cfg.Upstream.Model+")")
	line("Storage", cfg.Storage.Driver+" "+cfg.Storage.Path)
	if cfg.Metrics.Enabled {
		line("Metrics", cfg.Metrics.Path)
	}
	fmt.Println()

	logger.Info("starting chatrelay",
		"config", configPath,
		"http_addr", cfg.Server.HTTPAddr,
		"upstream", cfg.Upstream.BaseURL,
		"model", cfg.Upstream.Model,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runProbe GETs path on the configured server and prints the body.
func runProbe(ctx context.Context, path string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	fmt.Println(strings.TrimSpace(string(body)))
	return nil
}

func runInit() error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("chatrelay configuration setup")
	fmt.Println("=============================")
	fmt.Println()

	outputFile := prompt(reader, "Config file path", config.DefaultPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !yes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	def := config.Default()

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", def.Server.HTTPAddr)

	fmt.Println("\n--- Storage Configuration ---")
	driver := prompt(reader, "Storage driver (file/sqlite)", def.Storage.Driver)
	storagePath := def.Storage.Path
	if driver == "sqlite" {
		storagePath = filepath.Join(def.Storage.Path, "chatrelay.db")
	}
	storagePath = prompt(reader, "Storage path", storagePath)

	fmt.Println("\n--- Upstream Configuration ---")
	baseURL := prompt(reader, "OpenAI-compatible base URL", def.Upstream.BaseURL)
	model := prompt(reader, "Model", def.Upstream.Model)

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", def.Logging.Level)
	logFormat := prompt(reader, "Log format (text/json)", def.Logging.Format)

	var cfg strings.Builder
	cfg.WriteString("# chatrelay configuration\n")
	cfg.WriteString("# Generated by chatrelay init\n\n")

	cfg.WriteString("server:\n")
	fmt.Fprintf(&cfg, "  http_addr: %q\n\n", httpAddr)

	cfg.WriteString("storage:\n")
	fmt.Fprintf(&cfg, "  driver: %q\n", driver)
	fmt.Fprintf(&cfg, "  path: %q\n\n", storagePath)

	cfg.WriteString("upstream:\n")
	fmt.Fprintf(&cfg, "  base_url: %q\n", baseURL)
	fmt.Fprintf(&cfg, "  model: %q\n", model)
	cfg.WriteString("  api_key: \"${OPENAI_API_KEY}\"\n")
	fmt.Fprintf(&cfg, "  history_window: %d\n", def.Upstream.HistoryWindow)
	fmt.Fprintf(&cfg, "  timeout: %q\n\n", def.Upstream.Timeout.String())

	cfg.WriteString("summarize:\n")
	fmt.Fprintf(&cfg, "  words_per_chunk: %d\n", def.Summarize.WordsPerChunk)
	fmt.Fprintf(&cfg, "  ytdlp_path: %q\n\n", def.Summarize.YTDLPPath)

	cfg.WriteString("ratelimit:\n")
	fmt.Fprintf(&cfg, "  requests_per_second: %g\n", def.RateLimit.RequestsPerSecond)
	fmt.Fprintf(&cfg, "  burst: %d\n\n", def.RateLimit.Burst)

	cfg.WriteString("logging:\n")
	fmt.Fprintf(&cfg, "  level: %q\n", logLevel)
	fmt.Fprintf(&cfg, "  format: %q\n\n", logFormat)

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: true\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0644); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Println("\nTo start the server:")
	fmt.Println("  chatrelay serve")
	return nil
}

func yes(s string) bool {
	s = strings.ToLower(s)
	return s == "yes" || s == "y"
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
