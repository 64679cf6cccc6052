package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/verdantqa/greenlight/internal/alert"
	"github.com/verdantqa/greenlight/internal/api"
	"github.com/verdantqa/greenlight/internal/billing"
	"github.com/verdantqa/greenlight/internal/cihook"
	"github.com/verdantqa/greenlight/internal/config"
	"github.com/verdantqa/greenlight/internal/cycle"
	"github.com/verdantqa/greenlight/internal/db"
	"github.com/verdantqa/greenlight/internal/hub"
	"github.com/verdantqa/greenlight/internal/store"
	"gorm.io/gorm"
)

func newServeCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Greenlight API server",
		Long:  "Launches the HTTP API, the WebSocket hub, configured chat alerters and the usage rollup scheduler.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "greenlight.yaml", "path to Greenlight config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, configPath string, port int) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if port == 0 {
		port = cfg.Server.Port
	}

	gormDB, err := connectFromConfig(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s:%d/%s\n", cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}

	h := hub.New()
	defer h.Close()

	alerters, hook, err := buildAlerters(cfg)
	if err != nil {
		return err
	}
	for _, a := range alerters {
		fmt.Fprintf(out, "Alerter enabled: %s\n", a.Name())
		defer a.Close()
	}

	dispatcher := alert.NewDispatcher(h, api.IntegrationChannel(gormDB), alerters...)
	st := store.New(gormDB)
	bridge := cycle.NewBridge(st, dispatcher)

	scheduler, err := billing.StartScheduler(gormDB, cfg.Billing.RollupCron)
	if err != nil {
		return err
	}
	defer scheduler.Stop()
	fmt.Fprintf(out, "Usage rollup scheduled: %s\n", cfg.Billing.RollupCron)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(out, "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	return api.Start(ctx, api.Opts{
		DB:       gormDB,
		Store:    st,
		Bridge:   bridge,
		Hub:      h,
		Hook:     hook,
		Secret:   cfg.Auth.Secret,
		TokenTTL: cfg.Auth.TokenTTL,
		Port:     port,
		Out:      out,
	})
}

func connectFromConfig(cfg *config.Config) (*gorm.DB, error) {
	return db.Connect(cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Database)
}

// buildAlerters constructs the chat adapters and the CI hook from config.
// A platform with no token is skipped.
func buildAlerters(cfg *config.Config) ([]alert.Alerter, *cihook.Hook, error) {
	var alerters []alert.Alerter

	if cfg.Alerts.SlackToken != "" {
		s, err := alert.NewSlack(alert.SlackOpts{
			Token:   cfg.Alerts.SlackToken,
			Channel: cfg.Alerts.SlackChannel,
		})
		if err != nil {
			return nil, nil, err
		}
		alerters = append(alerters, s)
	}
	if cfg.Alerts.DiscordToken != "" {
		d, err := alert.NewDiscord(alert.DiscordOpts{
			Token:   cfg.Alerts.DiscordToken,
			Channel: cfg.Alerts.DiscordChannel,
		})
		if err != nil {
			return nil, nil, err
		}
		alerters = append(alerters, d)
	}

	var hook *cihook.Hook
	if cfg.GitHub.Token != "" {
		h, err := cihook.New(cihook.Opts{
			Token: cfg.GitHub.Token,
			Owner: cfg.GitHub.Owner,
			Repo:  cfg.GitHub.Repo,
		})
		if err != nil {
			return nil, nil, err
		}
		hook = h
		alerters = append(alerters, h)
	}
	return alerters, hook, nil
}
