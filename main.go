// Inkwell is the automated drafting pipeline behind the blog.
//
// It watches a configured set of RSS/Atom feeds, asks Claude to draft posts
// from the best candidates (or from an operator-supplied topic), decorates
// each draft with a cover image, and publishes into the content store.
// Runs are triggered over Telegram, the admin HTTP surface, or a schedule.
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/jmoiron/sqlx"
	"github.com/oklog/run"
	"github.com/robfig/cron/v3"
	"github.com/sethvargo/go-envconfig"
	"github.com/sethvargo/go-retry"
	_ "golang.org/x/crypto/x509roots/fallback"
	_ "modernc.org/sqlite"

	"inkwell/internal/admin"
	"inkwell/internal/compose"
	"inkwell/internal/feeds"
	"inkwell/internal/gateway"
	"inkwell/internal/inkwell"
	"inkwell/internal/logger"
	"inkwell/internal/migrations"
	"inkwell/internal/photos"
	"inkwell/internal/pipeline"
	"inkwell/internal/publish"
	"inkwell/internal/selector"
	inksqlite "inkwell/internal/sqlite"
)

type config struct {
	Database    string `env:"DATABASE, required"`
	SourcesFile string `env:"SOURCES_FILE, default=sources.yaml"`
	Port        int    `env:"PORT, default=4444"`

	// Which format to use for logging: either text or json
	LoggerFormat string `env:"LOGGER_FORMAT, default=text"`

	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY, required"`
	ClaudeModel     string `env:"CLAUDE_MODEL, default=claude-haiku-4-5"`

	// Optional; without it drafts just go out without a cover.
	UnsplashAccessKey string `env:"UNSPLASH_ACCESS_KEY"`

	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN, required"`
	AdminToken     string `env:"ADMIN_TOKEN, required"`
	CookieHashKey  string `env:"COOKIE_HASH_KEY"`
	CookieBlockKey string `env:"COOKIE_BLOCK_KEY"`
	CorsHeader     string `env:"CORS_HEADER, default=*"`

	RunTimeout          time.Duration `env:"RUN_TIMEOUT, default=10m"`
	FeedTimeout         time.Duration `env:"FEED_TIMEOUT, default=15s"`
	RecencyWindow       time.Duration `env:"RECENCY_WINDOW, default=72h"`
	SimilarityThreshold float64       `env:"SIMILARITY_THRESHOLD, default=0.8"`
	MinWords            int           `env:"MIN_WORDS, default=300"`
	MinBodyLen          int           `env:"MIN_BODY_LEN, default=500"`
	DefaultCount        int           `env:"DEFAULT_COUNT, default=3"`

	// Cron expression for scheduled auto runs; empty disables the schedule.
	CronSchedule string `env:"CRON_SCHEDULE"`
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Parse the config
	var cfg config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		log.Fatalf("error parsing config: %s", err)
	}

	slog.SetDefault(logger.New(os.Stderr, cfg.LoggerFormat))

	if err := runApp(ctx, cfg); err != nil {
		slog.Error("error running", "error", err)
		os.Exit(1)
	}
}

func runApp(ctx context.Context, cfg config) error {
	slog.Info("running", "port", cfg.Port, "sources", cfg.SourcesFile)

	// Connect to the sqlite db
	dbx, err := sqlx.Open("sqlite", fmt.Sprintf("%s?_txlock=immediate&_journal_mode=WAL&_busy_timeout=5000", cfg.Database))
	if err != nil {
		return fmt.Errorf("error opening database: %s", err)
	}
	defer dbx.Close()

	// Migrate, always
	if err := migrations.Run(dbx); err != nil {
		return fmt.Errorf("error migrating: %s", err)
	}

	sources, err := feeds.LoadSources(cfg.SourcesFile)
	if err != nil {
		return fmt.Errorf("error loading feed sources: %w", err)
	}

	// One outbound client shared by everything that fetches pages and feeds.
	fetchClient := &http.Client{Timeout: 20 * time.Second}

	repo := inksqlite.New(dbx)
	claudeClient := anthropic.NewClient(option.WithAPIKey(cfg.AnthropicAPIKey))

	driver := pipeline.NewDriver(
		feeds.NewFetcher(sources, fetchClient, cfg.FeedTimeout),
		selector.New(cfg.RecencyWindow, cfg.SimilarityThreshold),
		sources,
		compose.NewGenerator(claudeClient, anthropic.Model(cfg.ClaudeModel), cfg.MinWords, fetchClient),
		photos.NewSearcher(cfg.UnsplashAccessKey, fetchClient),
		publish.New(repo, cfg.MinBodyLen),
		repo,
		cfg.RunTimeout,
	)

	// Retry until the bot platform is reachable
	var bot *tgbotapi.BotAPI
	if err := retry.Fibonacci(ctx, 1*time.Second, func(ctx context.Context) error {
		b, err := tgbotapi.NewBotAPI(cfg.TelegramToken)
		if err != nil {
			return retry.RetryableError(err)
		}
		bot = b

		return nil
	}); err != nil {
		return fmt.Errorf("error connecting to telegram: %s", err)
	}

	gw := gateway.New(bot, driver, cfg.DefaultCount)
	if err := gw.RegisterCommands(); err != nil {
		return err
	}

	adminSrv := admin.NewServer(admin.ServerConfig{
		Port:           cfg.Port,
		AdminToken:     cfg.AdminToken,
		CookieHashKey:  []byte(cfg.CookieHashKey),
		CookieBlockKey: []byte(cfg.CookieBlockKey),
		CorsHeader:     cfg.CorsHeader,
		DefaultCount:   cfg.DefaultCount,
		RunTimeout:     cfg.RunTimeout,
	}, driver, repo)

	var g run.Group
	g.Add(func() error {
		<-ctx.Done()
		return ctx.Err()
	}, func(error) {})
	g.Add(func() error {
		if err := adminSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("error listening: %s", err)
		}
		return nil
	}, func(error) {
		downCtx, downCancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer downCancel()
		if err := adminSrv.Shutdown(downCtx); err != nil {
			slog.Error("error shutting down admin server", "error", err)
		}
	})

	gwCtx, gwCancel := context.WithCancel(ctx)
	g.Add(func() error {
		return gw.Run(gwCtx)
	}, func(error) {
		gwCancel()
	})

	if cfg.CronSchedule != "" {
		c := cron.New()
		if _, err := c.AddFunc(cfg.CronSchedule, func() {
			res := driver.Run(ctx, pipeline.Request{
				RequestedBy: "scheduler",
				Mode:        inkwell.ModeAuto,
				Count:       cfg.DefaultCount,
			})
			slog.Info("scheduled run finished", "status", res.Status, "summary", res.Summary())
		}); err != nil {
			return fmt.Errorf("error with cron schedule %q: %s", cfg.CronSchedule, err)
		}

		cronStop := make(chan struct{})
		g.Add(func() error {
			c.Start()
			<-cronStop
			return nil
		}, func(error) {
			close(cronStop)
			<-c.Stop().Done()
		})
	}

	if err := g.Run(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("error running: %s", err)
	}

	return nil
}
