package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fconline-rag/boardcrawler/internal/board"
	"github.com/fconline-rag/boardcrawler/internal/clock/system"
	"github.com/fconline-rag/boardcrawler/internal/config"
	"github.com/fconline-rag/boardcrawler/internal/logging"
	"github.com/fconline-rag/boardcrawler/internal/metrics"
	chromedpnav "github.com/fconline-rag/boardcrawler/internal/navigator/chromedp"
	collynav "github.com/fconline-rag/boardcrawler/internal/navigator/colly"
	"github.com/fconline-rag/boardcrawler/internal/sites"
)

// newCrawlCmd creates the 'crawl' subcommand, which runs one crawl session
// against a single board.
func newCrawlCmd() *cobra.Command {
	var (
		boardFlag   string
		interactive bool
	)

	cmd := &cobra.Command{
		Use:   "crawl",
		Short: "Run one crawl session against a board",
		Long: `Walks the configured board from its newest post backwards until the time
window is exhausted, the listing runs out, or the session is interrupted.
Each post is appended to the day's JSONL artifact as it is collected.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCrawl(cmd.Context(), boardFlag, interactive)
		},
	}

	cmd.Flags().StringVar(&boardFlag, "board", "", "board to crawl (overrides config)")
	cmd.Flags().BoolVar(&interactive, "interactive", false, "run the browser with a visible window")
	return cmd
}

func runCrawl(ctx context.Context, boardFlag string, interactive bool) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	if boardFlag != "" {
		cfg.Crawler.Board = boardFlag
	}
	if interactive {
		cfg.Navigator.Headless = false
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	profile, err := sites.Lookup(cfg.Crawler.Board)
	if err != nil {
		return err
	}

	clk := system.New()
	sessionID := uuid.NewString()

	if err := os.MkdirAll(cfg.Crawler.StateDir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	runDir := filepath.Join(
		cfg.Crawler.OutputDir,
		profile.Name,
		clk.Now().In(cfg.Location()).Format("06-01-02"),
	)
	if err := os.MkdirAll(runDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}

	visited, err := board.LoadVisitedStore(filepath.Join(cfg.Crawler.StateDir, profile.Name+".json"), logger)
	if err != nil {
		return fmt.Errorf("load visited store: %w", err)
	}
	sink, err := board.OpenJSONLSink(filepath.Join(runDir, profile.OutputFile), logger)
	if err != nil {
		return fmt.Errorf("open sink: %w", err)
	}
	defer func() {
		if cerr := sink.Close(); cerr != nil {
			logger.Warn("Failed to close sink", zap.Error(cerr))
		}
	}()

	nav, err := buildNavigator(cfg, profile, logger)
	if err != nil {
		return fmt.Errorf("init navigator: %w", err)
	}
	defer func() {
		if cerr := nav.Close(context.Background()); cerr != nil {
			logger.Warn("Failed to close navigator", zap.Error(cerr))
		}
	}()

	if cfg.Metrics.Enabled {
		stopMetrics := serveMetrics(cfg.Metrics.Addr, logger)
		defer stopMetrics()
	}

	sleeper := board.NewTimerSleeper()
	controller := board.NewController(
		profile.Name,
		sessionID,
		nav,
		visited,
		sink,
		board.NewCutoffPolicy(cfg.CutoffWindow(), clk, cfg.Location()),
		board.NewBackoffScheduler(cfg.BackoffTiers(), nil),
		board.NewRecoveryProtocol(nav, sleeper, cfg.RecoveryWait(), logger),
		sleeper,
		clk,
		logger,
	)

	outcome, err := controller.Run(ctx)
	switch outcome {
	case board.OutcomeCutoff, board.OutcomeExhausted:
		return nil
	case board.OutcomeInterrupted:
		logger.Warn("Session interrupted; state is durable and the next run resumes")
		return nil
	default:
		return fmt.Errorf("session ended with outcome %s: %w", outcome, err)
	}
}

func buildNavigator(cfg config.Config, profile sites.Profile, logger *zap.Logger) (board.Navigator, error) {
	switch cfg.Navigator.Mode {
	case "http":
		return collynav.New(collynav.Config{
			Profile:   profile,
			UserAgent: cfg.Navigator.UserAgent,
			Timeout:   cfg.NavTimeout(),
			HostQPS:   cfg.Navigator.HostQPS,
		}, logger), nil
	default:
		return chromedpnav.New(chromedpnav.Config{
			Profile:    profile,
			Headless:   cfg.Navigator.Headless,
			UserAgent:  cfg.Navigator.UserAgent,
			NavTimeout: cfg.NavTimeout(),
			HostQPS:    cfg.Navigator.HostQPS,
		}, logger)
	}
}

// serveMetrics exposes the Prometheus and health endpoints for the duration
// of the session and returns a shutdown func.
func serveMetrics(addr string, logger *zap.Logger) func() {
	router := chi.NewRouter()
	router.Handle("/metrics", metrics.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	server := &http.Server{Addr: addr, Handler: router}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("Metrics server stopped", zap.Error(err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Warn("Metrics server shutdown failed", zap.Error(err))
		}
	}
}
