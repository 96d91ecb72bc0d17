package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"telegram-referral-bot/internal/application"
	"telegram-referral-bot/internal/config"
	tele "telegram-referral-bot/internal/infra/adapters/telegram"
	"telegram-referral-bot/internal/infra/backup"
	"telegram-referral-bot/internal/infra/db/jsonfile"
	httpapi "telegram-referral-bot/internal/infra/http"
	"telegram-referral-bot/internal/infra/i18n"
	"telegram-referral-bot/internal/infra/jsonstore"
	"telegram-referral-bot/internal/infra/logging"
	"telegram-referral-bot/internal/infra/metrics"
	"telegram-referral-bot/internal/infra/ratelimit"
	red "telegram-referral-bot/internal/infra/redis"
	"telegram-referral-bot/internal/infra/sched"
	"telegram-referral-bot/internal/infra/worker"
	"telegram-referral-bot/internal/usecase"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		l := zerolog.New(os.Stderr)
		l.Fatal().Err(err).Msg("config")
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if err := run(cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("exited with error")
	}
	logger.Info().Msg("shutdown complete")
}

func run(cfg *config.Config, logger *zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	repos, err := jsonfile.Open(cfg.Storage.DataDir, logger, jsonstore.WithWriteTimeout(cfg.Storage.WriteTimeout))
	if err != nil {
		return err
	}
	defer func() {
		if err := repos.Close(); err != nil {
			logger.Error().Err(err).Msg("close store")
		}
	}()

	checks := map[string]httpapi.Check{"storage": repos.Store.Ping}

	var limiter tele.RateLimiter
	if cfg.Redis.URL != "" {
		client, err := red.NewClient(ctx, &cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		limiter = red.NewRateLimiter(client, cfg.RateLimit.PerMinute, time.Minute)
		checks["redis"] = client.Ping
		logger.Info().Msg("rate limiting via redis")
	}

	translator, err := i18n.NewTranslator(i18n.LocalesFS, i18n.DefaultLang)
	if err != nil {
		return err
	}

	api, err := tgbotapi.NewBotAPI(cfg.Bot.Token)
	if err != nil {
		return err
	}
	if cfg.Bot.Username == "" {
		cfg.Bot.Username = api.Self.UserName
	}
	logger.Info().Str("bot", cfg.Bot.Username).Str("mode", cfg.Bot.Mode).Msg("authorized on telegram")

	policy := usecase.ReferralPolicy{
		BotUsername:   cfg.Bot.Username,
		DefaultTarget: cfg.Referral.Target,
		DefaultReward: cfg.Referral.RewardType,
		PendingTTL:    cfg.Referral.PendingTTL,
		AllowedChats:  cfg.Referral.AllowedChatIDs,
		CodeLength:    cfg.Referral.CodeLength,
	}
	userUC := usecase.NewUserUseCase(repos.Users, repos.Tx, logger)
	channelUC := usecase.NewChannelUseCase(repos.Channels, repos.Tx, policy, logger)
	referralUC := usecase.NewReferralUseCase(repos.Users, repos.Codes, repos.Tx, policy, logger)
	attributionUC := usecase.NewAttributionUseCase(repos.Users, repos.Codes, repos.Pending, repos.Channels, repos.Tx, policy, logger)
	rewardUC := usecase.NewRewardUseCase(repos.Users, repos.Channels, repos.Tx, policy, logger)

	facade := application.NewBotFacade(
		userUC, channelUC, referralUC, attributionUC, rewardUC,
		tele.NewChatInspector(api),
		translator,
		application.NotifyOptions{OnReferral: cfg.Notify.OnReferral, OnReward: cfg.Notify.OnReward},
		cfg.Referral.Target,
		logger,
	)

	var backups *backup.Backuper
	if cfg.Backup.Enabled {
		if backups, err = backup.New(repos.Store, cfg.Backup.Dir, cfg.Backup.Keep, logger); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if limiter == nil {
		local := ratelimit.New(cfg.RateLimit.PerMinute, cfg.RateLimit.Burst)
		limiter = local
		g.Go(func() error { return local.Run(gctx) })
	}

	pool := worker.NewPool("updates", cfg.Bot.Workers, cfg.Bot.Workers*16, logger)
	bot, err := tele.NewRealTelegramBotAdapter(api, &cfg.Bot, facade, limiter, pool, translator, logger)
	if err != nil {
		return err
	}
	pool.Start(gctx)
	defer pool.Stop()

	if err := bot.RegisterCommands(gctx); err != nil {
		logger.Warn().Err(err).Msg("set bot commands failed")
	}

	var webhook http.Handler
	if cfg.Bot.Mode == config.ModeWebhook {
		if err := bot.SetWebhook(gctx, strings.TrimRight(cfg.Bot.WebhookURL, "/")+"/webhook/"+cfg.Bot.WebhookSecret); err != nil {
			return err
		}
		webhook = bot.WebhookHandler()
	} else {
		g.Go(func() error { return bot.StartPolling(gctx) })
	}

	srv := httpapi.NewServer(cfg.HTTP, cfg.Bot.WebhookSecret, webhook, checks, logger)
	g.Go(srv.Start)
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	sweeper := sched.NewPendingSweeper(cfg.Referral.CleanupInterval, attributionUC, logger)
	g.Go(func() error { return sweeper.Run(gctx) })

	if backups != nil {
		bw := sched.NewBackupWorker(cfg.Backup.Interval, backups, logger)
		g.Go(func() error { return bw.Run(gctx) })
	}

	logger.Info().Msg("bot started")
	return g.Wait()
}
