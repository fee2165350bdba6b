package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"coursebot/internal/config"
	"coursebot/internal/logging"
)

// cli carries state shared by subcommands once the root has loaded config.
type cli struct {
	configFile string
	envFile    string
	logLevel   string
	model      string

	cfg  config.Config
	meta config.Metadata
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	rootCmd := &cobra.Command{
		Use:   "coursebot",
		Short: "Course assistant that relays streamed answers into Discord threads",
		Long: fmt.Sprintf(`%s

Prompts submitted with the /prompt slash command (or over HTTP) are queued,
answered by a local Ollama model under the course policy, and streamed into a
thread per request.

%s
  coursebot serve                   # Discord gateway (+ HTTP API when enabled)
  coursebot deploy-commands         # Register the slash command in the guild
  coursebot ask "what is a heap?"   # Run one prompt against the terminal
  coursebot config print            # Show the effective configuration`,
			bold("coursebot"),
			bold("EXAMPLES:")),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return c.load(cmd)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&c.configFile, "config", "c", "", "YAML config file (default: ./coursebot.yaml or ~/.coursebot/coursebot.yaml)")
	flags.StringVar(&c.envFile, "env-file", ".env", "dotenv file to read (a missing ./.env is ignored); empty disables")
	flags.StringVar(&c.logLevel, "log-level", "", "override observability.logging.level")
	flags.StringVarP(&c.model, "model", "m", "", "override ollama.model")

	rootCmd.AddCommand(newServeCommand(c))
	rootCmd.AddCommand(newDeployCommand(c))
	rootCmd.AddCommand(newAskCommand(c))
	rootCmd.AddCommand(newConfigCommand(c))
	return rootCmd
}

func (c *cli) load(cmd *cobra.Command) error {
	var opts []config.Option
	if cmd.Flags().Changed("env-file") {
		opts = append(opts, config.WithDotEnvFile(c.envFile))
	}
	if c.configFile != "" {
		opts = append(opts, config.WithConfigFile(c.configFile))
	}
	overrides := map[string]any{}
	if cmd.Flags().Changed("log-level") {
		overrides["observability.logging.level"] = c.logLevel
	}
	if cmd.Flags().Changed("model") {
		overrides["ollama.model"] = c.model
	}
	if len(overrides) > 0 {
		opts = append(opts, config.WithOverrides(overrides))
	}

	cfg, meta, err := config.Load(opts...)
	if err != nil {
		return err
	}
	c.cfg, c.meta = cfg, meta

	logging.Configure(logging.Config{
		Level:  cfg.Observability.Logging.Level,
		Format: cfg.Observability.Logging.Format,
		Output: cmd.ErrOrStderr(),
	})
	return nil
}

func newConfigCommand(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "print",
		Short: "Print the effective configuration with secrets masked",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			if c.meta.ConfigFile != "" {
				fmt.Fprintln(out, gray("# config file: "+c.meta.ConfigFile))
			}
			if c.meta.DotEnvFile != "" {
				fmt.Fprintln(out, gray("# env file: "+c.meta.DotEnvFile))
			}
			return config.Dump(out, c.cfg)
		},
	})
	return cmd
}
