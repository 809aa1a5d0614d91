package utils

import (
	"fmt"
	"log/slog"
	"os"
)

type AppConfig struct {
	BotToken       string
	ApplicationID  string
	PublicKey      string
	WebhookAddress string
	AppEnv         string
}

func LoadConfiguration() AppConfig {
	cfg := AppConfig{}
	requiredEnv := map[string]*string{
		"DC_BOT_TOKEN":      &cfg.BotToken,
		"DC_APPLICATION_ID": &cfg.ApplicationID,
		"APP_ENV":           &cfg.AppEnv,
	}
	for k, v := range requiredEnv {
		if val, ok := os.LookupEnv(k); !ok {
			slog.Error(fmt.Sprintf("Provide: %s", k))
			os.Exit(1)
		} else {
			*v = val
		}
	}
	// Only needed when the webhook interaction server is enabled.
	cfg.PublicKey = os.Getenv("DC_PUBLIC_KEY")
	cfg.WebhookAddress = os.Getenv("DC_WEBHOOK_ADDRESS")
	return cfg
}
