// Package app is the pqrdesk command line: it loads configuration, wires the
// services and exposes them as subcommands.
package app

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"pqrdesk/internal/config"
	"pqrdesk/internal/format"
	"pqrdesk/internal/httpx"
	"pqrdesk/internal/logging"
)

// version is set at build time via -ldflags.
var version = "dev"

func Main() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli carries state shared by subcommands. rt is built on first use.
type cli struct {
	configPath string
	dbPath     string
	logLevel   string
	asJSON     bool
	markdown   bool

	cfg    config.Config
	rt     *runtime
	logger *slog.Logger
}

func NewRootCmd() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "pqrdesk",
		Short: "Classify, search and answer citizen PQRS cases",
		Long: "pqrdesk triages petitions, complaints, claims and suggestions: it classifies\n" +
			"them, finds similar past cases, drafts replies and tracks each case to closure.",
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
		SilenceUsage:      true,
		PersistentPreRunE: c.setup,
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if c.rt != nil {
				return c.rt.Close()
			}
			return nil
		},
	}
	root.Version = version

	f := root.PersistentFlags()
	f.StringVar(&c.configPath, "config", "", "Path to config YAML (default: $CONFIG_PATH or config.yaml)")
	f.StringVar(&c.dbPath, "db", "", "SQLite database path (overrides db_path)")
	f.StringVar(&c.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides log_level)")
	f.BoolVar(&c.asJSON, "json", false, "Print JSON instead of tables")
	f.BoolVar(&c.markdown, "markdown", false, "Render tables as Markdown")

	root.AddCommand(
		c.serveCmd(),
		c.classifyCmd(),
		c.caseCmd(),
		c.similarCmd(),
		c.suggestCmd(),
		c.statsCmd(),
		c.digestCmd(),
	)
	return root
}

func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	if c.configPath != "" {
		os.Setenv("CONFIG_PATH", c.configPath)
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if c.dbPath != "" {
		cfg.DBPath = c.dbPath
	}
	if c.logLevel != "" {
		cfg.LogLevel = c.logLevel
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logging.Init(level, cfg.LogFormat, cmd.ErrOrStderr())
	c.logger = logging.New("app")

	applied := httpx.ConfigureExternalHTTPClient(cfg.ExternalHTTPTimeoutSeconds)
	c.logger.Debug("config loaded",
		"db", cfg.DBPath,
		"timezone", cfg.Timezone,
		"classifier_timeout", cfg.ClassifierTimeout(),
		"external_http_timeout", applied,
	)
	c.cfg = cfg
	return nil
}

func (c *cli) runtime() (*runtime, error) {
	if c.rt != nil {
		return c.rt, nil
	}
	rt, err := build(c.cfg, c.logger)
	if err != nil {
		return nil, err
	}
	c.rt = rt
	return rt, nil
}

func (c *cli) mode() format.Mode {
	if c.markdown {
		return format.Markdown
	}
	return format.ASCII
}

// print writes v as indented JSON when --json is set, else the rendered table.
func (c *cli) print(w io.Writer, v any, table func(format.Mode) string) error {
	if c.asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	_, err := fmt.Fprintln(w, table(c.mode()))
	return err
}
