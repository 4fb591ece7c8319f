package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/ashureev/assistant-bridge/internal/agent"
	"github.com/ashureev/assistant-bridge/internal/assistant"
	"github.com/ashureev/assistant-bridge/internal/config"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// deps holds the collaborators commands build from configuration.
type deps struct {
	newRemote func(cfg *config.Config, logger *slog.Logger) assistant.Remote
}

func defaultDeps() deps {
	return deps{
		newRemote: func(cfg *config.Config, logger *slog.Logger) assistant.Remote {
			return agent.NewOpenAIService(agent.OpenAIConfig{
				APIKey:  cfg.OpenAI.APIKey,
				BaseURL: cfg.OpenAI.BaseURL,
			}, logger)
		},
	}
}

// app is shared by every command of one invocation.
type app struct {
	deps   deps
	v      *viper.Viper
	logger *slog.Logger
}

// flagKeys maps persistent flags to configuration keys.
var flagKeys = map[string]string{
	"db":            "DB_PATH",
	"tools-dir":     "TOOLS_DIR",
	"resources-dir": "RESOURCES_DIR",
	"definition":    "ASSISTANT_DEFINITION_PATH",
	"record":        "ASSISTANT_RECORD_PATH",
}

func newRootCmd(d deps) *cobra.Command {
	a := &app{deps: d, v: viper.New()}
	a.v.AutomaticEnv()

	var envFile string
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "bridgectl",
		Short:         "Administer the assistant bridge",
		Long:          "bridgectl synchronizes the remote assistant with the local tools, resources and definition, reports fingerprints and manages stored chat-to-thread mappings.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return err
			}
			level := slog.LevelWarn
			if verbose {
				level = slog.LevelDebug
			}
			a.logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
			return nil
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&envFile, "env-file", ".env", "dotenv file to load before reading the environment")
	flags.BoolVarP(&verbose, "verbose", "v", false, "log progress to stderr")
	flags.String("db", "", "chat mapping database (DB_PATH)")
	flags.String("tools-dir", "", "tool schema directory (TOOLS_DIR)")
	flags.String("resources-dir", "", "resources directory (RESOURCES_DIR)")
	flags.String("definition", "", "assistant definition file or directory (ASSISTANT_DEFINITION_PATH)")
	flags.String("record", "", "sync record path (ASSISTANT_RECORD_PATH)")
	for name, key := range flagKeys {
		_ = a.v.BindPFlag(key, flags.Lookup(name))
	}

	rootCmd.AddCommand(
		newSyncCmd(a),
		newStatusCmd(a),
		newFingerprintCmd(),
		newMappingsCmd(a),
	)

	return rootCmd
}

// lookup resolves a configuration key from flags first, then the environment.
func (a *app) lookup(key string) (string, bool) {
	if a.v.IsSet(key) {
		if value := a.v.GetString(key); value != "" {
			return value, true
		}
	}
	return os.LookupEnv(key)
}

// offlineConfig reads configuration without requiring remote credentials.
func (a *app) offlineConfig() *config.Config {
	return config.Parse(a.lookup)
}

// onlineConfig reads and validates configuration for commands that contact
// the remote service. The CLI never serves /api, so the custom API key is optional.
func (a *app) onlineConfig() (*config.Config, error) {
	return config.LoadFrom(func(key string) (string, bool) {
		if value, ok := a.lookup(key); ok {
			return value, true
		}
		if strings.EqualFold(key, "ALLOW_NO_API_KEY") {
			return "true", true
		}
		return "", false
	})
}

func (a *app) paths(cfg *config.Config) assistant.Paths {
	return assistant.Paths{
		ToolsDir:       cfg.Assistant.ToolsDir,
		ResourcesDir:   cfg.Assistant.ResourcesDir,
		DefinitionPath: cfg.Assistant.DefinitionPath,
		RecordPath:     cfg.Assistant.RecordPath,
	}
}
