package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/zsprackett/coursedesk/internal/api"
	"github.com/zsprackett/coursedesk/internal/applog"
	"github.com/zsprackett/coursedesk/internal/auth"
	"github.com/zsprackett/coursedesk/internal/config"
	"github.com/zsprackett/coursedesk/internal/db"
)

// app carries what every subcommand needs once the root command has
// loaded the config and opened the log.
type app struct {
	configPath string
	dbPath     string
	cfg        config.Config
	logger     *slog.Logger
	logging    *applog.Logging
}

func (a *app) init() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load config: %v\n", err)
		cfg = config.Defaults()
	}
	a.cfg = cfg
	if a.dbPath == "" {
		a.dbPath = config.DBPath()
	}

	logging, err := applog.Init(applog.Options{
		Dir:    cfg.LogDir,
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not init log file: %v\n", err)
		a.logger = slog.Default()
		return nil
	}
	a.logging = logging
	a.logger = logging.Logger
	return nil
}

func (a *app) close() {
	a.logging.Close()
	a.logging = nil
}

// token prefers the system keyring over the config file.
func (a *app) token() string {
	return auth.LoadToken(a.cfg.Token)
}

func (a *app) newClient() (*api.Client, error) {
	return api.NewClient(api.Config{
		BaseURL:           a.cfg.APIBaseURL,
		Token:             a.token(),
		Timeout:           a.cfg.RequestTimeoutDuration(),
		Logger:            a.logger,
		RequestsPerSecond: a.cfg.RequestsPerSecond,
	})
}

func (a *app) openDB() (*db.DB, error) {
	if err := os.MkdirAll(filepath.Dir(a.dbPath), 0700); err != nil {
		return nil, err
	}
	store, err := db.Open(a.dbPath)
	if err != nil {
		return nil, err
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func (a *app) rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "coursedesk",
		Short:         "Follow refund, payment and video processing on the course platform",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", config.DefaultPath(), "path to config file")
	root.AddCommand(
		a.loginCmd(),
		a.logoutCmd(),
		a.watchCmd(),
		a.refundCmd(),
		a.ticketsCmd(),
		a.uploadCmd(),
		a.historyCmd(),
	)
	return root
}

func main() {
	a := &app{}
	err := a.rootCmd().ExecuteContext(context.Background())
	// os.Exit skips deferred calls
	a.close()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
