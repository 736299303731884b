package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	_ "github.com/jackc/pgx/v5/stdlib" // pgx driver
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"babmutna-bot/api/internal/backend"
	"babmutna-bot/api/internal/config"
	"babmutna-bot/api/internal/httpserver"
	"babmutna-bot/api/internal/location"
	"babmutna-bot/api/internal/logger"
	"babmutna-bot/api/internal/navigation"
	"babmutna-bot/api/internal/places"
	"babmutna-bot/api/internal/store"
	"babmutna-bot/api/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, err := logger.New(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatal("bot stopped", zap.Error(err))
	}
	log.Info("bot stopped")
}

func run(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	checks := map[string]httpserver.Check{}

	// --- Postgres (optional selection journal) ---
	var repo *store.SelectionRepo
	if dsn := resolveDSN(cfg.DatabaseURL); dsn != "" {
		db, err := sql.Open("pgx", dsn)
		if err != nil {
			return fmt.Errorf("sql.Open: %w", err)
		}
		defer db.Close()
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(1 * time.Hour)

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("db.Ping: %w", err)
		}
		log.Info("db connected", zap.String("dsn", safeDSNSummary(dsn)))

		repo = store.NewSelectionRepo(db)
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
		checks["db"] = db.PingContext
	} else {
		log.Info("DATABASE_URL not set, selection journal disabled")
	}

	// --- Collaborators ---
	api := backend.New(cfg.APIBaseURL, cfg.APITimeout)
	var placeSearch navigation.PlaceSearcher
	if cfg.KakaoRESTAPIKey != "" {
		placeSearch = places.NewKakao(cfg.KakaoRESTAPIKey, cfg.PlacesRadiusM)
	} else {
		log.Warn("KAKAO_REST_API_KEY not set, restaurant search disabled")
	}
	var recorder navigation.SelectionRecorder
	if repo != nil {
		recorder = repo
	}

	geoOpts := location.DefaultOptions()
	geoOpts.Timeout = cfg.GeoTimeout

	factory := func(sessionID string, geo location.Geolocator, r navigation.Renderer) *navigation.Controller {
		return navigation.New(navigation.Deps{
			Location:    location.NewProvider(geo, geoOpts, log),
			Weather:     api,
			Recommend:   api,
			Recipes:     api,
			Places:      placeSearch,
			Recorder:    recorder,
			Renderer:    r,
			Log:         log,
			SessionID:   sessionID,
			DeniedGrace: cfg.DeniedGrace,
			SettleDelay: cfg.RouletteSettle,
		})
	}

	// --- Telegram bot ---
	bot, err := tgbotapi.NewBotAPI(cfg.TelegramBotToken)
	if err != nil {
		return fmt.Errorf("telegram: %w", err)
	}
	bot.Debug = false
	log.Info("authorized", zap.String("bot", bot.Self.UserName))

	limiter := rate.NewLimiter(rate.Limit(cfg.SendRatePerSec), cfg.SendRatePerSec)
	r := telegram.NewRouter(bot, factory, limiter, log)
	if repo != nil {
		r.Stats = repo
	}
	defer r.Shutdown()

	srv := httpserver.New(net.JoinHostPort("0.0.0.0", cfg.Port), checks, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error {
		r.Sessions.RunReaper(gctx, time.Minute, cfg.SessionIdle)
		return nil
	})
	if repo != nil {
		g.Go(func() error {
			purgeJournal(gctx, repo, cfg.JournalRetention, log)
			return nil
		})
	}

	// --- Choose mode: Webhook vs Polling ---
	if webhookURL := strings.TrimSpace(cfg.WebhookURL); webhookURL != "" {
		if err := startWebhookMode(gctx, g, bot, srv, r, webhookURL, log); err != nil {
			return err
		}
	} else {
		g.Go(func() error {
			startPollingMode(gctx, bot, r, log)
			return nil
		})
	}
	return g.Wait()
}

// ---------------- Modes -----------------

func startWebhookMode(ctx context.Context, g *errgroup.Group, bot *tgbotapi.BotAPI, srv *httpserver.Server, r *telegram.Router, baseURL string, log *zap.Logger) error {
	path := "/webhook/" + shortHash(bot.Token)
	public := strings.TrimRight(baseURL, "/") + path

	wh, err := tgbotapi.NewWebhook(public)
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	wh.DropPendingUpdates = true
	if _, err := bot.Request(wh); err != nil {
		return fmt.Errorf("set webhook: %w", err)
	}

	updates := make(chan tgbotapi.Update, bot.Buffer)
	srv.Handle(path, http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		upd, err := bot.HandleUpdate(req)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		select {
		case updates <- *upd:
		case <-req.Context().Done():
		}
	}))

	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case upd := <-updates:
				r.HandleUpdate(ctx, upd)
			}
		}
	})
	log.Info("webhook mode", zap.String("path", path))
	return nil
}

func startPollingMode(ctx context.Context, bot *tgbotapi.BotAPI, r *telegram.Router, log *zap.Logger) {
	if _, err := bot.Request(tgbotapi.DeleteWebhookConfig{}); err != nil {
		log.Warn("delete webhook failed", zap.Error(err))
	}
	log.Info("polling mode")
	runPolling(ctx, bot, func(upd tgbotapi.Update) {
		r.HandleUpdate(ctx, upd)
	}, log)
}

// ---------------- Polling loop -----------------

var reRetryAfter = regexp.MustCompile(`(?i)retry after\s+(\d+)`)

// retryDelayFromError returns the delay Telegram asked for, or 0.
func retryDelayFromError(err error) time.Duration {
	if err == nil {
		return 0
	}
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) && tgErr.RetryAfter > 0 {
		return time.Duration(tgErr.RetryAfter) * time.Second
	}
	s := strings.ToLower(err.Error())
	if strings.Contains(s, "too many requests") {
		if m := reRetryAfter.FindStringSubmatch(s); len(m) == 2 {
			if n, _ := strconv.Atoi(m[1]); n > 0 {
				return time.Duration(n) * time.Second
			}
		}
		return 3 * time.Second
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return 2 * time.Second
	}
	return 0
}

func newPollingBackOff() *backoff.ExponentialBackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 1 * time.Second
	bo.MaxInterval = 15 * time.Second
	bo.MaxElapsedTime = 0
	bo.Reset()
	return bo
}

func runPolling(ctx context.Context, bot *tgbotapi.BotAPI, handle func(tgbotapi.Update), log *zap.Logger) {
	offset := 0
	bo := newPollingBackOff()

	for {
		select {
		case <-ctx.Done():
			log.Info("polling: context cancelled")
			return
		default:
		}

		u := tgbotapi.NewUpdate(offset)
		u.Timeout = 30 // long polling timeout (sec)

		updates, err := bot.GetUpdates(u)
		if err != nil {
			d := bo.NextBackOff()
			if ra := retryDelayFromError(err); ra > d {
				d = ra
			}
			log.Warn("polling error", zap.Error(err), zap.Duration("retry_in", d))
			if !sleepCtx(ctx, d) {
				return
			}
			continue
		}
		bo.Reset()

		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
			}
			handle(upd)
		}

		if len(updates) == 0 && !sleepCtx(ctx, 200*time.Millisecond) {
			return
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func purgeJournal(ctx context.Context, repo *store.SelectionRepo, retention time.Duration, log *zap.Logger) {
	if retention <= 0 {
		return
	}
	t := time.NewTicker(24 * time.Hour)
	defer t.Stop()
	for {
		n, err := repo.PurgeOlderThan(ctx, retention)
		if err != nil && ctx.Err() == nil {
			log.Warn("journal purge failed", zap.Error(err))
		} else if n > 0 {
			log.Info("journal purged", zap.Int64("rows", n))
		}
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		}
	}
}

// ---------------- Helpers -----------------

// resolveDSN prefers DATABASE_URL and falls back to POSTGRES_* vars when
// POSTGRES_DB is set. An empty result disables the journal.
func resolveDSN(databaseURL string) string {
	if v := strings.TrimSpace(databaseURL); v != "" {
		return v
	}
	db := strings.TrimSpace(os.Getenv("POSTGRES_DB"))
	if db == "" {
		return ""
	}
	user := getenvDefault("POSTGRES_USER", "babmutna")
	pass := os.Getenv("POSTGRES_PASSWORD")
	host := getenvDefault("PGHOST", "db")
	port := getenvDefault("PGPORT", "5432")

	u := &url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(user, pass),
		Host:     net.JoinHostPort(host, port),
		Path:     "/" + db,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func getenvDefault(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

// shortHash is FNV-1a, hex encoded; it only hides the token in the webhook path.
func shortHash(s string) string {
	h := uint64(1469598103934665603)
	const prime = 1099511628211
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= prime
	}
	const hexdigits = "0123456789abcdef"
	out := make([]byte, 16)
	for i := 15; i >= 0; i-- {
		out[i] = hexdigits[h&0xF]
		h >>= 4
	}
	return string(out)
}

func safeDSNSummary(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "dsn: parse error"
	}
	user := u.User.Username()
	host := u.Host
	port := ""
	if h, p, err := net.SplitHostPort(u.Host); err == nil {
		host, port = h, p
	}
	db := strings.TrimPrefix(u.Path, "/")
	if port == "" {
		return fmt.Sprintf("host=%s db=%s user=%s", host, db, user)
	}
	return fmt.Sprintf("host=%s port=%s db=%s user=%s", host, port, db, user)
}
