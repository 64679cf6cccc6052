package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/verdantqa/greenlight/internal/auth"
	"github.com/verdantqa/greenlight/internal/config"
	"github.com/verdantqa/greenlight/internal/models"
	"golang.org/x/term"
	"gorm.io/gorm"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "API token management commands",
	}

	cmd.AddCommand(newTokenIssueCmd())
	cmd.AddCommand(newTokenListCmd())
	cmd.AddCommand(newTokenRevokeCmd())
	return cmd
}

func newTokenIssueCmd() *cobra.Command {
	var (
		configPath   string
		orgRef       string
		label        string
		ttl          time.Duration
		promptSecret bool
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for an organization",
		Long: `Mints a signed bearer token scoped to one organization and records it
so it can be listed and revoked later. The token itself is printed once
and never stored.

With --prompt-secret, the signing secret is read from the terminal
instead of the config file, so it never has to live on disk.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			secret := cfg.Auth.Secret
			if promptSecret {
				secret, err = readSecret(cmd)
				if err != nil {
					return err
				}
			}
			if ttl == 0 {
				ttl = cfg.Auth.TokenTTL
			}
			gormDB, err := connectFromConfig(cfg)
			if err != nil {
				return err
			}
			token, rec, err := tokenIssue(gormDB, secret, orgRef, label, ttl)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Issued token %s for organization %s (expires %s)\n",
				rec.ID, rec.OrgID, rec.ExpiresAt.Format(time.RFC3339))
			fmt.Fprintln(out, token)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "greenlight.yaml", "path to Greenlight config file")
	cmd.Flags().StringVar(&orgRef, "org", "", "organization id or slug")
	cmd.Flags().StringVar(&label, "label", "", "human-readable token label")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "token lifetime (defaults to auth.token_ttl)")
	cmd.Flags().BoolVar(&promptSecret, "prompt-secret", false, "read the signing secret from the terminal")
	cmd.MarkFlagRequired("org")
	return cmd
}

func newTokenListCmd() *cobra.Command {
	var (
		configPath string
		orgRef     string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issued tokens for an organization",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gormDB, err := connectFromConfig(cfg)
			if err != nil {
				return err
			}
			return tokenList(cmd.OutOrStdout(), gormDB, orgRef)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "greenlight.yaml", "path to Greenlight config file")
	cmd.Flags().StringVar(&orgRef, "org", "", "organization id or slug")
	cmd.MarkFlagRequired("org")
	return cmd
}

func newTokenRevokeCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "revoke <token-id>",
		Short: "Revoke an issued token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			gormDB, err := connectFromConfig(cfg)
			if err != nil {
				return err
			}
			if err := tokenRevoke(gormDB, args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Revoked token %s\n", args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "greenlight.yaml", "path to Greenlight config file")
	return cmd
}

func tokenIssue(gormDB *gorm.DB, secret, orgRef, label string, ttl time.Duration) (string, *models.APIToken, error) {
	if secret == "" {
		return "", nil, fmt.Errorf("token: signing secret is required")
	}
	org, err := findOrg(gormDB, orgRef)
	if err != nil {
		return "", nil, err
	}

	rec := models.APIToken{
		ID:        uuid.NewString(),
		OrgID:     org.ID,
		Label:     label,
		CreatedAt: time.Now().UTC(),
		ExpiresAt: time.Now().UTC().Add(ttl),
	}
	token, err := auth.Mint(secret, org.ID, "", rec.ID, ttl)
	if err != nil {
		return "", nil, err
	}
	if err := gormDB.Create(&rec).Error; err != nil {
		return "", nil, fmt.Errorf("token: record: %w", err)
	}
	return token, &rec, nil
}

func tokenList(out io.Writer, gormDB *gorm.DB, orgRef string) error {
	org, err := findOrg(gormDB, orgRef)
	if err != nil {
		return err
	}
	var toks []models.APIToken
	if err := gormDB.Where("org_id = ?", org.ID).Order("created_at").Find(&toks).Error; err != nil {
		return fmt.Errorf("token: list: %w", err)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tLABEL\tEXPIRES\tSTATUS")
	for _, tk := range toks {
		status := "active"
		switch {
		case tk.RevokedAt != nil:
			status = "revoked"
		case time.Now().After(tk.ExpiresAt):
			status = "expired"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", tk.ID, tk.Label, tk.ExpiresAt.Format("2006-01-02"), status)
	}
	return w.Flush()
}

func tokenRevoke(gormDB *gorm.DB, id string) error {
	now := time.Now().UTC()
	res := gormDB.Model(&models.APIToken{}).
		Where("id = ? AND revoked_at IS NULL", id).
		Update("revoked_at", now)
	if res.Error != nil {
		return fmt.Errorf("token: revoke %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("token: %s not found or already revoked", id)
	}
	return nil
}

// findOrg resolves an id or slug to an organization.
func findOrg(gormDB *gorm.DB, ref string) (*models.Organization, error) {
	if strings.TrimSpace(ref) == "" {
		return nil, fmt.Errorf("org: reference is required")
	}
	var org models.Organization
	if err := gormDB.Where("id = ? OR slug = ?", ref, ref).First(&org).Error; err != nil {
		return nil, fmt.Errorf("org: %q not found", ref)
	}
	return &org, nil
}

// readSecret prompts for the signing secret without echoing it.
func readSecret(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return "", fmt.Errorf("token: --prompt-secret needs an interactive terminal")
	}
	fmt.Fprint(cmd.OutOrStdout(), "Signing secret: ")
	raw, err := term.ReadPassword(fd)
	fmt.Fprintln(cmd.OutOrStdout())
	if err != nil {
		return "", fmt.Errorf("token: read secret: %w", err)
	}
	return strings.TrimSpace(string(raw)), nil
}
