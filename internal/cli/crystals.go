package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/pattern-persistence/internal/curate"
	"github.com/rcliao/pattern-persistence/internal/model"
)

func init() {
	crystalsCmd := &cobra.Command{
		Use:   "crystals",
		Short: "List a context's crystals, most recent first",
		Run:   runCrystals,
	}
	crystalsCmd.Flags().StringP("context", "c", "", "Context (required)")
	crystalsCmd.Flags().IntP("limit", "l", 10, "Max results")
	crystalsCmd.Flags().Bool("all", false, "Include archived crystals")
	crystalsCmd.MarkFlagRequired("context")

	crystallizeCmd := &cobra.Command{
		Use:   "crystallize",
		Short: "Run a crystallization pass",
		Long: "Compress unconsolidated turns into a crystal when the turn threshold or staleness " +
			"trigger fires. Without --context every context is checked.",
		Run: runCrystallize,
	}
	crystallizeCmd.Flags().StringP("context", "c", "", "Context (default: all)")
	crystallizeCmd.Flags().Bool("force", false, "Crystallize any non-empty tail")
	crystallizeCmd.Flags().Bool("check", false, "Only report eligibility")

	curateCmd := &cobra.Command{
		Use:   "curate",
		Short: "Run a fact graph curation pass",
		Long:  "Delete self-referential, vague and duplicate facts. The earliest copy of a duplicate is kept.",
		Run:   runCurate,
	}
	curateCmd.Flags().Bool("dry-run", false, "Report what would be deleted")
	curateCmd.Flags().Int("max-edges", 0, "Stop after scanning N facts (0 = all)")

	RootCmd.AddCommand(crystalsCmd, crystallizeCmd, curateCmd)
}

func runCrystals(cmd *cobra.Command, args []string) {
	contextName, _ := cmd.Flags().GetString("context")
	limit, _ := cmd.Flags().GetInt("limit")
	all, _ := cmd.Flags().GetBool("all")

	svc := openService()
	defer svc.Close()

	crystals, err := svc.GetCrystals(cmd.Context(), contextName, limit, all)
	if err != nil {
		exitErr("crystals", err)
	}
	if crystals == nil {
		crystals = []model.Crystal{}
	}
	printJSON(crystals)
}

func runCrystallize(cmd *cobra.Command, args []string) {
	contextName, _ := cmd.Flags().GetString("context")
	force, _ := cmd.Flags().GetBool("force")
	check, _ := cmd.Flags().GetBool("check")

	svc := openService()
	defer svc.Close()

	if check {
		if contextName == "" {
			exitErr("crystallize", errContextRequired)
		}
		e, err := svc.CheckEligibility(cmd.Context(), contextName)
		if err != nil {
			exitErr("crystallize", err)
		}
		printJSON(e)
		return
	}

	results, err := svc.RunCrystallization(cmd.Context(), contextName, force)
	if err != nil {
		exitErr("crystallize", err)
	}
	printJSON(results)
}

func runCurate(cmd *cobra.Command, args []string) {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	maxEdges, _ := cmd.Flags().GetInt("max-edges")

	svc := openService()
	defer svc.Close()

	rep, err := svc.RunCuration(cmd.Context(), curate.Options{DryRun: dryRun, MaxEdges: maxEdges})
	if err != nil {
		exitErr("curate", err)
	}
	printJSON(rep)
}
