package cli

import (
	"fmt"
	"os"
	"os/signal"
	"os/user"
	"syscall"

	"github.com/spf13/cobra"

	"politikcred/internal/domain"
	"politikcred/internal/pipeline/models"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute one pipeline run and print its summary",
	Long: `Run ingests new actions from every configured source, matches them
against promises, stores verifications and rescores affected politicians.

An interrupt stops the run before its next politician batch; batches already
started still commit. The exit status is non-zero only when the run failed
or could not start.

Example:
  politikcred run --config politikcred.yaml`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	summary, err := a.Pipeline.Run(ctx, models.Trigger{Origin: "cli", Subject: invoker()})
	if err != nil {
		return err
	}
	if err := printJSON(cmd.OutOrStdout(), summary); err != nil {
		return err
	}
	if summary.Status == domain.RunFailed {
		return fmt.Errorf("run %s failed", summary.RunID)
	}
	return nil
}

func invoker() string {
	if u, err := user.Current(); err == nil {
		return u.Username
	}
	return "unknown"
}
