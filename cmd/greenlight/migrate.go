package main

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/verdantqa/greenlight/internal/config"
	"github.com/verdantqa/greenlight/internal/db"
	"gorm.io/gorm"
)

func newMigrateCmd() *cobra.Command {
	var (
		configPath string
		drop       bool
		yes        bool
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		Long: `Migrates all Greenlight tables to the current schema.

With --drop, drops every table first and recreates it from scratch.
Dropping deletes all data and asks for confirmation unless --yes is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrate(cmd, configPath, drop, yes)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "greenlight.yaml", "path to Greenlight config file")
	cmd.Flags().BoolVar(&drop, "drop", false, "drop all tables before migrating")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip confirmation prompt")
	return cmd
}

func runMigrate(cmd *cobra.Command, configPath string, drop, skipConfirm bool) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	gormDB, err := connectFromConfig(cfg)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s:%d/%s\n", cfg.DB.Host, cfg.DB.Port, cfg.DB.Database)

	if drop {
		if !skipConfirm && !confirmDrop(cmd, cfg.DB.Database) {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
		return resetSchema(out, gormDB)
	}

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))
	return nil
}

func resetSchema(out io.Writer, gormDB *gorm.DB) error {
	if err := db.Reset(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Dropped and re-created %d tables\n", len(db.AllModels()))
	return nil
}

func confirmDrop(cmd *cobra.Command, dbName string) bool {
	out := cmd.OutOrStdout()
	in := cmd.InOrStdin()

	fmt.Fprintf(out, "WARNING: This will permanently delete all data in database %q.\n", dbName)
	fmt.Fprintln(out, "This action cannot be undone.")
	fmt.Fprintln(out)
	fmt.Fprint(out, "Type \"yes\" to confirm: ")

	scanner := bufio.NewScanner(in)
	if scanner.Scan() {
		return strings.TrimSpace(scanner.Text()) == "yes"
	}
	return false
}
