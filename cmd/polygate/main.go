package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"polygate/config"
)

var (
	envFile    string
	configFile string
	logLevel   string

	rootCmd = &cobra.Command{
		Use:           "polygate",
		Short:         "Graph and HTTP gateway in front of the product and user backends.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("polygate failed")
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initEnv)

	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "The env file to read.")
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "YAML configuration file.")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log", "", "Log level, overriding the configuration.")

	rootCmd.AddCommand(serveCmd, backendsCmd)
}

func initEnv() {
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	if err := godotenv.Load(envFile); err != nil {
		log.Debug().Err(err).Str("file", envFile).Msg("no env file loaded")
	}
}

// loadConfig reads the configuration and applies the log level to the global logger.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	zerolog.SetGlobalLevel(cfg.Level())
	return cfg, nil
}
