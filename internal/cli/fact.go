package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rcliao/pattern-persistence/internal/model"
	"github.com/rcliao/pattern-persistence/internal/store"
)

func init() {
	factCmd := &cobra.Command{
		Use:   "fact",
		Short: "Manage the fact graph",
	}

	addCmd := &cobra.Command{
		Use:   "add <subject> <predicate> <object>",
		Short: "Insert a fact",
		Args:  cobra.ExactArgs(3),
		Run:   runFactAdd,
	}
	addCmd.Flags().String("valid-at", "", "Time the fact holds from (RFC3339)")
	addCmd.Flags().StringP("provenance", "p", "", "Where the fact came from")

	queryCmd := &cobra.Command{
		Use:   "query",
		Short: "Query facts by pattern (empty fields match anything)",
		Run:   runFactQuery,
	}
	queryCmd.Flags().StringP("subject", "s", "", "Subject")
	queryCmd.Flags().StringP("predicate", "p", "", "Predicate")
	queryCmd.Flags().StringP("object", "o", "", "Object")
	queryCmd.Flags().IntP("limit", "l", 100, "Max results")

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Delete a fact",
		Args:  cobra.ExactArgs(1),
		Run:   runFactRm,
	}

	resolveCmd := &cobra.Command{
		Use:   "resolve",
		Short: "Rewrite aliased entity names to their canonical form",
		Long: "Rewrite facts whose subject or object is an alias, using curation.aliases from config " +
			"plus any --alias pairs. Duplicates this creates are removed by the next curate pass.",
		Run: runFactResolve,
	}
	resolveCmd.Flags().StringToString("alias", nil, "alias=canonical pairs")
	resolveCmd.Flags().Bool("dry-run", false, "Report rewrites without applying them")

	factCmd.AddCommand(addCmd, queryCmd, rmCmd, resolveCmd)
	RootCmd.AddCommand(factCmd)
}

func runFactAdd(cmd *cobra.Command, args []string) {
	validAtStr, _ := cmd.Flags().GetString("valid-at")
	provenance, _ := cmd.Flags().GetString("provenance")

	p := store.InsertEdgeParams{
		Subject:    args[0],
		Predicate:  args[1],
		Object:     args[2],
		Provenance: provenance,
	}
	if validAtStr != "" {
		t, err := time.Parse(time.RFC3339, validAtStr)
		if err != nil {
			exitErr("fact add", fmt.Errorf("invalid --valid-at: %w", err))
		}
		p.ValidAt = &t
	}

	svc := openService()
	defer svc.Close()

	e, err := svc.InsertFact(cmd.Context(), p)
	if err != nil {
		exitErr("fact add", err)
	}
	printJSON(e)
}

func runFactQuery(cmd *cobra.Command, args []string) {
	subject, _ := cmd.Flags().GetString("subject")
	predicate, _ := cmd.Flags().GetString("predicate")
	object, _ := cmd.Flags().GetString("object")
	limit, _ := cmd.Flags().GetInt("limit")

	svc := openService()
	defer svc.Close()

	edges, err := svc.QueryFacts(cmd.Context(), store.EdgePattern{
		Subject:   subject,
		Predicate: predicate,
		Object:    object,
		Limit:     limit,
	})
	if err != nil {
		exitErr("fact query", err)
	}
	if edges == nil {
		edges = []model.Edge{}
	}
	printJSON(edges)
}

func runFactRm(cmd *cobra.Command, args []string) {
	svc := openService()
	defer svc.Close()

	deleted, err := svc.DeleteFact(cmd.Context(), args[0])
	if err != nil {
		exitErr("fact rm", err)
	}
	fmt.Printf(`{"ok":true,"id":%q,"deleted":%t}`+"\n", args[0], deleted)
}

func runFactResolve(cmd *cobra.Command, args []string) {
	aliases, _ := cmd.Flags().GetStringToString("alias")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	svc := openService()
	defer svc.Close()

	rep, err := svc.ResolveEntities(cmd.Context(), aliases, dryRun)
	if err != nil {
		exitErr("fact resolve", err)
	}
	printJSON(rep)
}
