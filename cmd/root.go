// Package cmd wires the command line interface. Commands build their
// collaborators through appEnv and stay thin themselves.
package cmd

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"traintrack/internal/artifacts"
	"traintrack/internal/catalog"
	"traintrack/internal/config"
	"traintrack/internal/identity"
	"traintrack/internal/ledger"
	"traintrack/internal/logging"
	"traintrack/internal/remote"
	"traintrack/internal/report"
	"traintrack/internal/store"
)

var rootCmd = &cobra.Command{
	Use:           "traintrack",
	Short:         "Training progress tracker",
	Long:          "Traintrack records training task progress locally and mirrors completion artifacts to a shared repository.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "Path to config file (overrides TRAINTRACK_CONFIG env var)")
	rootCmd.PersistentFlags().String("db", "", "Path to SQLite database file (overrides the configured path)")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(completeCmd)
	rootCmd.AddCommand(progressCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(milestonesCmd)
	rootCmd.AddCommand(versionCmd)
}

// appEnv holds the wired collaborators for one command invocation.
type appEnv struct {
	cfg        *config.Config
	store      *store.Store
	organizer  *artifacts.Organizer
	catalog    catalog.Catalog
	directory  identity.Directory
	ledger     *ledger.Ledger
	aggregator *report.Aggregator
	syncer     *remote.Syncer
	worker     *remote.Worker
	log        *slog.Logger
	logCloser  io.Closer
}

// openEnv loads configuration and builds the full dependency graph. The
// sync worker is started only when the remote is enabled; the
// aggregator then enqueues into it after each module completion.
func openEnv(cmd *cobra.Command) (*appEnv, error) {
	cfgPath, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logging.SetVerbose(verbose)
	log, logCloser, err := logging.Setup(cfg.DataDir)
	if err != nil {
		// Degraded to stderr-only logging; not fatal.
		log.Warn("file logging unavailable", "error", err)
	}

	dbPath := cfg.Database
	if p, _ := cmd.Flags().GetString("db"); p != "" {
		dbPath = p
	}
	if err := store.EnsureDir(dbPath); err != nil {
		return nil, err
	}
	st, err := store.Open(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if err := os.MkdirAll(cfg.ModulesDir, 0o755); err != nil {
		st.Close()
		return nil, fmt.Errorf("create modules dir: %w", err)
	}
	cat, err := catalog.NewDirCatalog(cfg.ModulesDir)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("open module catalog: %w", err)
	}
	dir, err := identity.NewFileDirectory(cfg.UsersFile)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("load user directory: %w", err)
	}
	org := artifacts.NewOrganizer(cfg.DataDir)

	env := &appEnv{
		cfg:       cfg,
		store:     st,
		organizer: org,
		catalog:   cat,
		directory: dir,
		log:       log,
		logCloser: logCloser,
	}

	env.syncer = newSyncer(cfg, st, org, dir, log)
	aggOpts := []report.Option{}
	if cfg.Remote.Enabled {
		env.worker = remote.NewWorker(env.syncer, log)
		aggOpts = append(aggOpts, report.WithSyncTrigger(env.worker))
	}
	env.aggregator = report.New(st.TaskRepo(), cat, dir, org, log, aggOpts...)
	env.ledger = ledger.New(st.TaskRepo(), cat, org, dir, log,
		ledger.WithObserver(env.aggregator),
		ledger.WithMilestones(st.MilestoneRepo()),
	)
	return env, nil
}

func newSyncer(cfg *config.Config, st *store.Store, org *artifacts.Organizer, dir identity.Directory, log *slog.Logger) *remote.Syncer {
	var opts []remote.ClientOption
	if cfg.Remote.APIBase != "" {
		opts = append(opts, remote.WithAPIBase(cfg.Remote.APIBase))
	}
	client := remote.NewClient(cfg.Remote.Owner, cfg.Remote.Repository, opts...)
	return remote.NewSyncer(
		remote.SyncConfig{
			Enabled: cfg.Remote.Enabled,
			Owner:   cfg.Remote.Owner,
			Repo:    cfg.Remote.Repository,
			Branch:  cfg.Remote.Branch,
		},
		client,
		remote.EnvProvider{Var: cfg.Remote.TokenEnv},
		st.TaskRepo(), st.SyncRepo(), org, dir, log,
	)
}

// close drains the sync worker before releasing the store, so queued
// passes still see a live database.
func (e *appEnv) close() {
	if e.worker != nil {
		e.worker.Close()
	}
	if e.store != nil {
		e.store.Close()
	}
	if e.logCloser != nil {
		e.logCloser.Close()
	}
}
