package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/ternbot/tern/src"
	"github.com/ternbot/tern/src/cache"
	"github.com/ternbot/tern/src/dispatch"
	"github.com/ternbot/tern/src/gateway"
	"github.com/ternbot/tern/src/structs"
	"github.com/ternbot/tern/src/utils"
	"github.com/ternbot/tern/src/webhook"
)

var signals = []os.Signal{
	os.Interrupt,
	syscall.SIGINT,
	syscall.SIGTERM,
}

func main() {
	err := godotenv.Load()
	if err != nil {
		panic("failed to load config file")
	}
	cfg := utils.LoadConfiguration()
	logger := slog.New(src.NewCustomHandler(os.Stdout, src.CustomHandlerOpts{}))

	ctx, stop := signal.NotifyContext(context.Background(), signals...)
	defer stop()

	bot := src.NewBot(src.BotArguments{
		BotToken: cfg.BotToken,
		BotIntents: []int{
			gateway.GuildsIntent,
			gateway.GuildMessagesIntent,
			gateway.MessageContentIntent,
		},
		Logger: logger,
	})

	bot.On(structs.EventNameMessageCreate, func(ctx context.Context, evt *structs.RawEvent, c *cache.Cache) error {
		logger.Info("message received", "event", evt)
		return nil
	})
	bot.On(dispatch.EventNameAll, func(ctx context.Context, evt *structs.RawEvent, c *cache.Cache) error {
		logger.Debug("event dispatched", "event", evt)
		return nil
	})

	if err := bot.Open(ctx); err != nil {
		logger.Error("failed to open gateway", "error", err)
		stop()
		return
	}
	defer bot.Close()

	if cfg.WebhookAddress != "" && cfg.PublicKey != "" {
		server := webhook.NewServer(cfg.PublicKey, nil)
		go server.StartServer(ctx, cfg.WebhookAddress)
	}

	select {
	case <-ctx.Done():
	case <-bot.Done():
	}
}
