package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/rcliao/pattern-persistence/internal/recall"
)

var errContextRequired = errors.New("--context is required")

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Assemble a context bundle",
		Long: "Return the latest crystals, relevant anchors and the unconsolidated tail of a context. " +
			"Layers that cannot be read are reported as unavailable instead of failing the call.",
		Run: runRecall,
	}
	cmd.Flags().StringP("context", "c", "", "Context (required)")
	cmd.Flags().StringP("mode", "m", "full", "Mode: full or brief")
	cmd.MarkFlagRequired("context")

	RootCmd.AddCommand(cmd)
}

func runRecall(cmd *cobra.Command, args []string) {
	contextName, _ := cmd.Flags().GetString("context")
	modeStr, _ := cmd.Flags().GetString("mode")

	mode, err := recall.ParseMode(modeStr)
	if err != nil {
		exitErr("recall", err)
	}

	svc := openService()
	defer svc.Close()

	b := svc.Recall(cmd.Context(), recall.Request{
		Context: contextName,
		Mode:    mode,
		Query:   readQuery(args),
	})
	printJSON(b)
}

func readQuery(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return readContent(args)
}
