package cli

import (
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run crystallize and curate passes on a schedule",
		Long: "Run the background passes at schedule.crystallize_every and schedule.curate_every until " +
			"interrupted. Several daemons may share one database; the lock table keeps their passes apart.",
		Run: runDaemon,
	}
	RootCmd.AddCommand(cmd)
}

func runDaemon(cmd *cobra.Command, args []string) {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := openService()
	defer svc.Close()

	runner := svc.Scheduler()
	if len(runner.Tasks()) == 0 {
		exitErr("daemon", errors.New("both passes are disabled in [schedule]"))
	}
	runner.Run(ctx)

	printJSON(runner.Stats())
}
