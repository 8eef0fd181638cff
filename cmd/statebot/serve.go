package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/keepmind9/statebot/internal/bot"
	"github.com/keepmind9/statebot/internal/core"
	"github.com/keepmind9/statebot/internal/logger"
	"github.com/keepmind9/statebot/internal/plugins"
	"github.com/keepmind9/statebot/internal/storage"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	configFile string

	serveCmd = &cobra.Command{
		Use:   "serve",
		Short: "Start statebot main process",
		Long:  "Start statebot main process, connect the configured bots and dispatch their messages to the bundled plugins",
		RunE: func(cmd *cobra.Command, args []string) error {
			if ok, _ := cmd.Flags().GetBool("validate"); ok {
				return runValidate(cmd.OutOrStdout(), configFile, false)
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, configFile)
		},
	}
)

// runServe loads the configuration and runs the engine until ctx is done
func runServe(ctx context.Context, path string) error {
	config, err := core.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logConfig := logger.Config{
		Level:        config.Logging.Level,
		Format:       config.Logging.Format,
		File:         config.Logging.File,
		MaxSize:      config.Logging.MaxSize,
		MaxBackups:   config.Logging.MaxBackups,
		MaxAge:       config.Logging.MaxAge,
		Compress:     config.Logging.Compress,
		EnableStdout: config.Logging.EnableStdout == nil || *config.Logging.EnableStdout,
	}
	if err := logger.InitLogger(logConfig); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"config_file": path,
		"log_level":   config.Logging.Level,
		"log_file":    config.Logging.File,
		"storage":     config.Storage.Backend,
	}).Info("logger-initialized")

	store, err := storage.Open(config.Storage)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}

	engine := core.NewEngine(config, store)
	if err := plugins.RegisterAll(engine); err != nil {
		_ = store.Close()
		return err
	}
	if err := registerBots(engine, config); err != nil {
		_ = store.Close()
		return err
	}

	fmt.Fprintf(os.Stderr, "statebot engine starting with %s, press Ctrl+C to stop\n", path)
	return engine.Run(ctx)
}

// registerBots creates an adapter for every enabled bot
func registerBots(engine *core.Engine, config *core.Config) error {
	ids := make([]string, 0, len(config.Bots))
	for id := range config.Bots {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		botConfig := config.Bots[id]
		if !botConfig.Enabled {
			logger.WithField("bot", id).Info("bot-disabled-skipping")
			continue
		}
		adapter, err := newBotAdapter(botConfig)
		if err != nil {
			return fmt.Errorf("bot %s: %w", id, err)
		}
		engine.RegisterBot(id, adapter)
		logger.WithFields(logrus.Fields{
			"bot":  id,
			"type": botConfig.Type,
		}).Info("bot-adapter-registered")
	}
	return nil
}

// newBotAdapter builds the adapter for a bot type
func newBotAdapter(c core.BotConfig) (bot.BotAdapter, error) {
	switch c.Type {
	case "telegram":
		return bot.NewTelegramBot(c.Token), nil
	case "discord":
		return bot.NewDiscordBot(c.Token, c.ChannelID), nil
	case "feishu":
		return bot.NewFeishuBot(c.AppID, c.AppSecret).WithEventSecurity(c.EncryptKey, c.VerificationToken), nil
	case "dingtalk":
		return bot.NewDingTalkBot(c.AppID, c.AppSecret), nil
	default:
		return nil, fmt.Errorf("unsupported bot type %q", c.Type)
	}
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", "config.yaml", "Configuration file path")
	serveCmd.Flags().Bool("validate", false, "Validate configuration and exit")
}
