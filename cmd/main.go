package main

import (
	"context"
	"os"
	"os/signal"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"chat-rag/internal/config"
	"chat-rag/internal/helper"
)

const configFilePath = "./configs/config.yaml"

var (
	cfgPath  string
	logLevel string
	cfg      *config.Config
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Fatal().Err(err).Msg("Command failed")
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "ragchat",
		Short:         "Ask questions about a fixed set of web pages",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return setup()
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), "")
		},
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", configFilePath, "path to the YAML config file")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level, overrides the config (debug, info, warn, error)")

	root.AddCommand(newChatCmd(), newIndexCmd(), newAskCmd())
	return root
}

func setup() error {
	// .env is optional
	_ = godotenv.Load()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	var err error
	cfg, err = config.LoadConfig(cfgPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	zerolog.SetGlobalLevel(level)

	sessionID, err := helper.GenerateUUID()
	if err != nil {
		return err
	}
	log.Logger = log.With().Str("session", sessionID).Logger()

	log.Debug().Interface("config", cfg.Redacted()).Str("path", cfgPath).Msg("Loaded config")
	return nil
}
