// Package main 是殘值监控程序的入口：加载估值表，轮询批量行情，跌破估值下限时通知。
// NETNET_ONCE=1 时只拉取一次并打印；否则启动仪表盘、前台轮询与后台通知器，直到收到 SIGINT/SIGTERM。
package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netnetWatch/internal/api"
	"netnetWatch/internal/app"
	"netnetWatch/internal/background"
	"netnetWatch/internal/bus"
	"netnetWatch/internal/config"
	"netnetWatch/internal/dashboard"
	"netnetWatch/internal/dataset"
	"netnetWatch/internal/filter"
	"netnetWatch/internal/mail"
	"netnetWatch/internal/merge"
	"netnetWatch/internal/model"
	"netnetWatch/internal/notify"
	"netnetWatch/internal/poller"
	"netnetWatch/internal/store"
	"netnetWatch/internal/trace"
)

const (
	shutdownTimeout   = 5 * time.Second
	readHeaderTimeout = 10 * time.Second
)

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	ctx := trace.WithTraceID(context.Background(), trace.NewTraceID())

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	catalog, err := dataset.LoadFile(ctx, cfg.Dataset)
	if err != nil {
		log.Fatalf("dataset: %v", err)
	}
	if cfg.QuotesAPIURL == "" {
		trace.Warn(ctx, "main: 未设置 QUOTES_API_URL，每次拉取都会报配置错误")
	}

	if cfg.Once {
		runCtx, cancel := context.WithTimeout(ctx, cfg.RequestTimeout*time.Duration(cfg.MaxRetries+2))
		defer cancel()
		if err := runOnce(runCtx, cfg, catalog); err != nil {
			os.Exit(1)
		}
		return
	}

	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := serve(sigCtx, cfg, catalog); err != nil {
		log.Fatalf("serve: %v", err)
	}
}

func newQuoteClient(cfg *config.Config, baseURL string) *api.Client {
	c := api.NewClient(baseURL, cfg.RequestTimeout)
	c.MaxRetries = cfg.MaxRetries
	return c
}

// runOnce 拉取一次，合并后按市场与距殘值排序打印。
func runOnce(ctx context.Context, cfg *config.Config, catalog *dataset.Catalog) error {
	ctx = trace.WithTraceID(ctx, trace.NewTraceID())
	trace.Log(ctx, "main: start symbols=%d", catalog.Len())
	quotes, err := newQuoteClient(cfg, cfg.QuotesAPIURL).GetQuotes(ctx, catalog.CSV())
	if err != nil {
		trace.Log(ctx, "main: GetQuotes err=%v", err)
		log.Printf("GetQuotes: %v", err)
		return err
	}
	merged, rep := merge.Merge(catalog.Tracked(), quotes)
	rep.Log(ctx)
	for _, m := range []model.Market{model.MarketUS, model.MarketHK} {
		for _, s := range filter.View(merged, m, store.SortAsc) {
			fmt.Fprintf(os.Stdout, "%s %s %s 现价=%s 殘值=%s 距离=%.2f%% %s\n",
				s.Market, s.Symbol, s.DisplayName(),
				notify.FormatCurrency(s.ActivePrice, s.Market),
				notify.FormatCurrency(s.ValuationLow, s.Market),
				s.Distance(), s.Status())
		}
	}
	trace.Log(ctx, "main: end, 共 %d 只", len(merged))
	return nil
}

func serve(ctx context.Context, cfg *config.Config, catalog *dataset.Catalog) error {
	kv, err := store.OpenFile(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("open state %s: %w", cfg.StatePath, err)
	}
	st := store.New(kv)
	b := bus.New()
	hub := dashboard.NewHub(0)
	mailer := mail.NewNotifier(buildMailConfig(&cfg.SMTP))

	vis := poller.NewVisibility()
	engine := poller.New(newQuoteClient(cfg, cfg.QuotesAPIURL), vis, poller.Config{
		Interval:      cfg.PollInterval,
		Timeout:       cfg.RequestTimeout,
		PulseDuration: cfg.PulseDuration,
	})
	engine.Subscribe(hub.PublishSnapshot)

	prompter := notify.NewPrompter(notify.AskAny(mailer, hub))
	tracker := notify.NewTracker(st, notify.Multi{notify.LogNotifier{}, hub, mailer}, prompter)
	fg := app.New(catalog, engine, vis, tracker, b, cfg.QuotesAPIURL)
	fg.OnBackground = hub.PublishBackground

	worker := background.New(b, st, notify.Multi{notify.LogNotifier{}, mailer},
		func(apiURL string) background.Fetcher { return newQuoteClient(cfg, apiURL) },
		background.Config{Interval: cfg.BackgroundInterval, Timeout: cfg.RequestTimeout})

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           dashboard.NewRouter(fg, st, hub),
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errc := make(chan error, 3)
	go func() { errc <- worker.Run(ctx) }()
	go func() { errc <- fg.Run(ctx) }()
	go func() {
		trace.Log(ctx, "main: 仪表盘监听 %s", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
			return
		}
		errc <- nil
	}()

	var runErr error
	select {
	case <-ctx.Done():
		trace.Log(ctx, "main: 收到退出信号")
	case runErr = <-errc:
	}
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		trace.Log(ctx, "main: shutdown err=%v", err)
	}
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return runErr
}

func buildMailConfig(smtpCfg *config.SMTP) *mail.SMTPConfig {
	if smtpCfg == nil {
		smtpCfg = &config.SMTP{}
	}
	return &mail.SMTPConfig{
		Server:   smtpCfg.Server,
		Port:     smtpCfg.Port,
		User:     smtpCfg.User,
		Password: smtpCfg.Password,
		From:     smtpCfg.From,
		To:       smtpCfg.To,
	}
}
