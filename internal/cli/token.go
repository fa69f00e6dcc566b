package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	jwttoken "politikcred/internal/jwt_token"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a bearer token for POST /v1/pipeline/runs",
	Long: `Token signs a trigger credential with the configured trigger secret.
Hand it to the scheduler that starts pipeline runs.

Example:
  politikcred token --subject nightly-cron --ttl 720h`,
	Args: cobra.NoArgs,
	RunE: runToken,
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "scheduler", "caller recorded as the run trigger")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}

func runToken(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	token, err := jwttoken.NewJWTService(cfg.Server.TriggerSecret, cfg.Server.TriggerIssuer).
		GenerateTriggerToken(tokenSubject, tokenTTL)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
	return err
}
