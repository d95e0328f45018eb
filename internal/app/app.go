package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"github.com/amirbiron/Tfilin/internal/calendar"
	"github.com/amirbiron/Tfilin/internal/config"
	"github.com/amirbiron/Tfilin/internal/scheduler"
	"github.com/amirbiron/Tfilin/internal/store"
	"github.com/amirbiron/Tfilin/internal/telegram"
)

type App struct {
	cfg     config.Config
	log     *zap.Logger
	bot     *tgbotapi.BotAPI
	httpSrv *http.Server
	repo    store.Repo
	sched   *scheduler.Scheduler
	router  *telegram.Router
}

func New(cfg config.Config, log *zap.Logger) (*App, error) {
	// One HTTP client for every Bot API call. The hard cap bounds a hung
	// call but must clear the 30s long-poll window; the per-dispatch
	// deadline is the scheduler's send context, enforced in the gateway.
	client := &http.Client{Timeout: 60 * time.Second}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, tgbotapi.APIEndpoint, client)
	if err != nil {
		return nil, err
	}
	bot.Debug = false

	return &App{cfg: cfg, log: log, bot: bot}, nil
}

func (a *App) Run(ctx context.Context) error {
	a.log.Info("starting tfilin bot", zap.String("http", a.cfg.HTTPAddr))

	// Open SQLite and run migrations.
	repo, err := store.OpenSQLite(ctx, a.cfg.DBPath)
	if err != nil {
		a.log.Error("open sqlite failed", zap.Error(err))
		return err
	}
	a.repo = repo
	a.log.Info("sqlite ready")

	// Calendar rule engine over the Hebcal API.
	locales, err := calendar.LoadLocales()
	if err != nil {
		return err
	}
	rules := calendar.NewEngine(
		calendar.NewClient(a.cfg.CalendarBaseURL, a.cfg.CalendarTimeout),
		locales,
		a.cfg.DefaultLocale,
		a.log,
	)

	gateway := telegram.NewGateway(a.bot, a.log)
	a.sched = scheduler.New(repo, rules, gateway, a.cfg, a.log, nil)

	hour, minute := a.cfg.DefaultClock()
	a.router = telegram.NewRouter(a.bot, a.log, repo, a.sched, telegram.Defaults{
		TZ:         a.cfg.DefaultTZ,
		Locale:     a.cfg.DefaultLocale,
		FireHour:   hour,
		FireMinute: minute,
		SnoozePref: time.Hour,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		if a.sched.Healthy() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	})
	a.httpSrv = &http.Server{
		Addr:         a.cfg.HTTPAddr,
		Handler:      mux,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	go func() {
		if err := a.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server error", zap.Error(err))
		}
	}()

	if err := a.sched.Start(); err != nil {
		return err
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updCh := a.bot.GetUpdatesChan(u)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			a.log.Info("shutdown signal received")

			a.sched.Stop()

			// Create a short-lived shutdown context and cancel it immediately after use.
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := a.httpSrv.Shutdown(shCtx)
			cancel()

			if err != nil {
				a.log.Warn("http server shutdown error", zap.Error(err))
			}
			if a.repo != nil {
				_ = a.repo.Close()
			}
			return nil

		case upd := <-updCh:
			a.router.HandleUpdate(ctx, upd)
		}
	}
}
