package main

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/zombor/receipt-tracker/internal/receipt"
	"github.com/zombor/receipt-tracker/internal/scanning"
)

//go:embed VERSION.txt
var versionFile string

var version = strings.TrimSpace(versionFile)

func main() {
	// Check for version flag before parsing other flags
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-version" || arg == "-v" {
			fmt.Println(version)
			os.Exit(0)
		}
	}

	fs := ff.NewFlagSet("receipt-tracker")
	var (
		port            = fs.IntLong("port", 8080, "HTTP server port")
		dbPath          = fs.StringLong("db", "receipt-tracker.db", "Database file path")
		storagePath     = fs.StringLong("storage", "./receipts", "Storage directory path")
		ocrEngine       = fs.StringLong("ocr-engine", "tesseract", "OCR engine: 'tesseract', 'gemini' or 'ollama'")
		ocrLang         = fs.StringLong("ocr-lang", scanning.DefaultLanguage, "Tesseract language(s), comma separated")
		maxWidth        = fs.IntLong("max-width", scanning.DefaultMaxWidth, "Maximum image width before OCR")
		geminiKey       = fs.StringLong("gemini-key", "", "Google Gemini API key (or set GEMINI_API_KEY env var)")
		geminiModel     = fs.StringLong("gemini-model", scanning.DefaultGeminiModel, "Google Gemini model name")
		ollamaURL       = fs.StringLong("ollama-url", scanning.DefaultOllamaURL, "Ollama API base URL")
		ollamaModel     = fs.StringLong("ollama-model", scanning.DefaultOllamaModel, "Ollama vision model name (e.g., llava, qwen2-vl)")
		authUser        = fs.StringLong("auth-user", "", "Basic auth username (optional)")
		authPass        = fs.StringLong("auth-pass", "", "Basic auth password (optional)")
		cleanupInterval = fs.DurationLong("cleanup-interval", time.Hour, "How often to remove orphaned files (0 disables)")
		orphanAge       = fs.DurationLong("orphan-age", receipt.DefaultOrphanAge, "Minimum age of an unreferenced file before removal")
		uploadRate      = fs.Float64Long("upload-rate", 2, "Allowed OCR uploads per second (0 disables the limit)")
		uploadBurst     = fs.IntLong("upload-burst", 5, "Upload burst size")
		cacheTTL        = fs.DurationLong("cache-ttl", receipt.DefaultAnalyticsCacheTTL, "Analytics cache lifetime (0 disables caching)")
		showVersion     = fs.BoolLong("version", "Show version information")
	)

	if err := ff.Parse(fs, os.Args[1:],
		ff.WithEnvVarPrefix("RECEIPT_TRACKER"),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Initializing database...")
	db, err := receipt.NewBoltDB(*dbPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	engine, err := newEngine(ctx, *ocrEngine, engineConfig{
		languages:   splitList(*ocrLang),
		geminiKey:   *geminiKey,
		geminiModel: *geminiModel,
		ollamaURL:   *ollamaURL,
		ollamaModel: *ollamaModel,
	})
	if err != nil {
		slog.Error("Failed to initialize OCR engine", "engine", *ocrEngine, "error", err)
		os.Exit(1)
	}
	scanner := scanning.NewPipeline(scanning.NewPreprocessor(*maxWidth), engine)
	defer scanner.Close()

	slog.Info("Initializing storage...")
	store, err := receipt.NewLocalStorage(*storagePath)
	if err != nil {
		slog.Error("Failed to initialize storage", "error", err)
		os.Exit(1)
	}

	receiptService := receipt.NewService(db, scanner, store)
	receiptService.SetAnalyticsCacheTTL(*cacheTTL)

	if *cleanupInterval > 0 {
		janitor := receipt.NewJanitor(db, store, *orphanAge)
		go janitor.Run(ctx, *cleanupInterval)
		slog.Info("Orphaned file cleanup enabled", "interval", *cleanupInterval, "min_age", *orphanAge)
	}

	server := receipt.NewServer(receiptService, receipt.BasicAuth{
		Username: *authUser,
		Password: *authPass,
	})
	server.SetUploadLimit(*uploadRate, *uploadBurst)

	addr := fmt.Sprintf(":%d", *port)
	go func() {
		if err := server.Start(addr); err != nil {
			slog.Error("Server error", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("Server started", "address", fmt.Sprintf("http://localhost%s", addr), "version", version, "ocr_engine", *ocrEngine)
	if *authUser != "" || *authPass != "" {
		slog.Info("Basic auth enabled", "user", *authUser)
	}

	<-ctx.Done()
	slog.Info("Shutting down...")
}

type engineConfig struct {
	languages   []string
	geminiKey   string
	geminiModel string
	ollamaURL   string
	ollamaModel string
}

func newEngine(ctx context.Context, name string, cfg engineConfig) (scanning.Engine, error) {
	switch name {
	case "tesseract":
		slog.Info("Initializing Tesseract engine...", "languages", cfg.languages)
		return scanning.NewTesseract(cfg.languages...), nil
	case "gemini":
		apiKey := cfg.geminiKey
		if apiKey == "" {
			apiKey = os.Getenv("GEMINI_API_KEY")
		}
		slog.Info("Initializing Gemini engine...", "model", cfg.geminiModel)
		return scanning.NewGemini(ctx, apiKey, cfg.geminiModel)
	case "ollama":
		slog.Info("Initializing Ollama engine...", "url", cfg.ollamaURL, "model", cfg.ollamaModel)
		return scanning.NewOllama(cfg.ollamaURL, cfg.ollamaModel), nil
	}
	return nil, fmt.Errorf("invalid OCR engine %q, expected tesseract, gemini or ollama", name)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
