package main

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/voltalisd/internal/app"
	"github.com/dokzlo13/voltalisd/internal/config"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "config.yaml", "Path to configuration file")
	flag.StringVar(&configPath, "c", "config.yaml", "Path to configuration file (shorthand)")
	logLevel := flag.String("log-level", "", "Override the configured log level")
	checkConfig := flag.Bool("check-config", false, "Validate the configuration and exit")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	if *logLevel != "" {
		cfg.Log.Level = *logLevel
	}
	setupLogging(cfg.Log.Level, cfg.Log.JSON, cfg.Log.Colors)

	if *checkConfig {
		log.Info().Str("config", configPath).Msg("Configuration is valid")
		return
	}

	log.Info().
		Str("config", configPath).
		Str("base_url", cfg.Voltalis.BaseURL).
		Bool("mqtt", cfg.MQTT.Enabled).
		Bool("control", cfg.Control.IsEnabled()).
		Msg("Starting voltalisd")

	application, err := app.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create application")
	}

	ctx := app.SignalContext()

	if err := application.Start(ctx); err != nil {
		application.Stop()
		log.Fatal().Err(err).Msg("Failed to start application")
	}

	application.Wait()

	if err := application.Stop(); err != nil {
		log.Error().Err(err).Msg("Error during shutdown")
	}
}

func setupLogging(level string, useJSON bool, colors bool) {
	zerolog.TimeFieldFormat = time.RFC3339

	if useJSON {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "2006-01-02T15:04:05.000Z07:00",
			NoColor:    !colors,
		})
	}

	parsed, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil || parsed == zerolog.NoLevel {
		log.Warn().Str("level", level).Msg("Unknown log level, using info")
		parsed = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(parsed)
}
