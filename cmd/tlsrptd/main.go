package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/busybox42/tlsrptd/internal/api"
	"github.com/busybox42/tlsrptd/internal/config"
	"github.com/busybox42/tlsrptd/internal/idgen"
	"github.com/busybox42/tlsrptd/internal/lookup"
	"github.com/busybox42/tlsrptd/internal/report"
	"github.com/busybox42/tlsrptd/internal/storage"
)

var (
	configPath string
	spoolDir   string
	version    = "dev"
	commit     = "unknown"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "tlsrptd",
		Short: "tlsrptd - deferred TLS reporting daemon",
		Long: `tlsrptd accumulates per-domain transport-security outcomes from a
mail transfer service, aggregates them into RFC 8460 reports when the
aggregation window closes, and delivers them over HTTP or mail.`,
		Version: fmt.Sprintf("%s (commit: %s)", version, commit),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file")
	rootCmd.PersistentFlags().StringVar(&spoolDir, "spool", "spool", "mail pickup directory for report messages")

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the reporting pipeline",
	Long:  "Run the periodic report generation loop, the expiry sweeper and the admin API",
	RunE:  runServer,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run one expiry sweep and exit",
	RunE:  runSweep,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("tlsrptd %s\n", cmd.Root().Version)
	},
}

func openBackend(cfg *config.Config) (storage.Backend, error) {
	switch cfg.Storage.Driver {
	case "memory":
		return storage.NewMemoryBackend(), nil
	default:
		return storage.OpenSQLite(storage.SQLiteConfig{
			Path:     cfg.Storage.Path,
			MaxConns: cfg.Storage.MaxConns,
			Workers:  cfg.Storage.Workers,
		})
	}
}

func buildLookup(cfg *config.Config) (lookup.Store, error) {
	return lookup.Factory(lookup.Config{
		Type:        cfg.Lookup.Type,
		Host:        cfg.Lookup.Host,
		Port:        cfg.Lookup.Port,
		Username:    cfg.Lookup.Username,
		Password:    cfg.Lookup.Password,
		Database:    cfg.Lookup.Database,
		Path:        cfg.Lookup.Path,
		Driver:      cfg.Lookup.Driver,
		DSN:         cfg.Lookup.DSN,
		GetQuery:    cfg.Lookup.GetQuery,
		SetQuery:    cfg.Lookup.SetQuery,
		ExistsQuery: cfg.Lookup.ExistsQuery,
		DeleteQuery: cfg.Lookup.DeleteQuery,
		Entries:     cfg.Lookup.Entries,
		BaseDN:      cfg.Lookup.BaseDN,
		BindDN:      cfg.Lookup.BindDN,
		Filter:      cfg.Lookup.Filter,
		Attribute:   cfg.Lookup.Attribute,
		TLSEnabled:  cfg.Lookup.TLSEnabled,
	})
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}
	logger := slog.Default()

	backend, err := openBackend(cfg)
	if err != nil {
		return err
	}
	defer backend.Close()

	store, err := buildLookup(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	blocked := lookup.NewBlockedIPs(store)
	if err := blocked.Reload(lookup.Rate{
		Requests: cfg.Security.Fail2Ban.Requests,
		Period:   cfg.Security.Fail2Ban.PeriodDuration(),
	}, cfg.Security.BlockedNetworks); err != nil {
		return err
	}

	submitter, err := report.NewSpoolSubmitter(spoolDir)
	if err != nil {
		return err
	}

	reporter := report.NewReporter(report.Config{
		OrgName:     cfg.Report.OrgName,
		ContactInfo: cfg.Report.ContactInfo,
		FromName:    cfg.Report.FromName,
		FromAddress: cfg.Report.FromAddress,
		Submitter:   cfg.Report.Submitter,
		MaxSize:     cfg.Report.MaxSize,
		Interval:    cfg.ReportInterval(),
	}, backend, idgen.NewSnowflake(cfg.Server.NodeID), submitter)

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(api.Config{
			Listen:       cfg.API.Listen,
			Username:     cfg.API.Username,
			PasswordHash: cfg.API.PasswordHash,
			SessionTTL:   cfg.APISessionTTL(),
			AuthRate: lookup.Rate{
				Requests: cfg.API.AuthRate.Requests,
				Period:   cfg.API.AuthRate.PeriodDuration(),
			},
		}, reporter, store, blocked)
		if err := apiServer.Start(); err != nil {
			return err
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Periodic trigger: the pipeline itself never self-schedules.
	ticker := time.NewTicker(cfg.ReportRunEvery())
	defer ticker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("tlsrptd started",
		"storage", cfg.Storage.Driver,
		"lookup", cfg.Lookup.Type,
		"run_every", cfg.Report.RunEvery,
	)

	for {
		select {
		case <-ticker.C:
			if err := reporter.ProcessDue(ctx, time.Now()); err != nil {
				logger.Error("report run failed", "error", err)
			}
			if err := store.PurgeExpired(ctx); err != nil {
				logger.Error("expiry sweep failed", "error", err)
			}
		case sig := <-sigCh:
			logger.Info("shutting down", "signal", sig.String())
			if apiServer != nil {
				shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
				if err := apiServer.Stop(shutdownCtx); err != nil {
					logger.Warn("api shutdown failed", "error", err)
				}
				shutdownCancel()
			}
			return nil
		}
	}
}

func runSweep(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return err
	}

	store, err := buildLookup(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := store.PurgeExpired(ctx); err != nil {
		return fmt.Errorf("expiry sweep failed: %w", err)
	}
	fmt.Println("sweep complete")
	return nil
}
