package cmd

import (
	"fmt"
	"time"

	"github.com/brianly1003/pressd/internal/server/http/middleware"
	"github.com/spf13/cobra"
)

var (
	tokenSubject string
	tokenRole    string
	tokenTTL     time.Duration
)

// tokenCmd groups bearer token utilities.
var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Bearer token utilities",
}

// tokenIssueCmd prints a signed token for the configured auth secret.
var tokenIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue a bearer token",
	Long: `Issue a bearer token signed with auth.secret.

Operators may submit jobs; viewers may only query.

Examples:
  pressd token issue --subject mis --role operator
  pressd token issue --subject wall-display --role viewer --ttl 720h`,
	RunE: runTokenIssue,
}

func init() {
	tokenCmd.AddCommand(tokenIssueCmd)

	tokenIssueCmd.Flags().StringVar(&tokenSubject, "subject", "", "token subject (client name)")
	tokenIssueCmd.Flags().StringVar(&tokenRole, "role", middleware.RoleViewer, "operator or viewer")
	tokenIssueCmd.Flags().DurationVar(&tokenTTL, "ttl", 0, "token lifetime (default: auth.token_ttl_hours)")
	_ = tokenIssueCmd.MarkFlagRequired("subject")
}

func runTokenIssue(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Auth.Secret == "" {
		return fmt.Errorf("auth.secret is not set")
	}
	if tokenRole != middleware.RoleOperator && tokenRole != middleware.RoleViewer {
		return fmt.Errorf("role must be %q or %q", middleware.RoleOperator, middleware.RoleViewer)
	}

	ttl := tokenTTL
	if ttl <= 0 {
		ttl = time.Duration(cfg.Auth.TokenTTLHours) * time.Hour
	}

	token, err := middleware.NewJWTAuth(cfg.Auth.Secret, cfg.Auth.Issuer).Issue(tokenSubject, tokenRole, ttl)
	if err != nil {
		return fmt.Errorf("failed to issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}
