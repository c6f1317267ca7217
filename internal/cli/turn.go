package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/pattern-persistence/internal/model"
)

func init() {
	turnCmd := &cobra.Command{
		Use:   "turn",
		Short: "Append to and read the turn log",
	}

	appendCmd := &cobra.Command{
		Use:   "append [text]",
		Short: "Append a turn",
		Long:  "Append a turn to a context's log. Text can be a positional arg or piped via stdin.",
		Run:   runTurnAppend,
	}
	appendCmd.Flags().StringP("context", "c", "", "Context (required)")
	appendCmd.Flags().StringP("role", "r", "originator", "Role: originator (user) or responder (assistant)")
	appendCmd.MarkFlagRequired("context")

	tailCmd := &cobra.Command{
		Use:   "tail",
		Short: "Show turns not yet covered by a crystal",
		Run:   runTurnTail,
	}
	tailCmd.Flags().StringP("context", "c", "", "Context (required)")
	tailCmd.Flags().IntP("limit", "l", 0, "Only the most recent N turns (0 = all)")
	tailCmd.MarkFlagRequired("context")

	turnCmd.AddCommand(appendCmd, tailCmd)
	RootCmd.AddCommand(turnCmd)
}

func runTurnAppend(cmd *cobra.Command, args []string) {
	contextName, _ := cmd.Flags().GetString("context")
	roleStr, _ := cmd.Flags().GetString("role")

	role, err := model.ParseRole(roleStr)
	if err != nil {
		exitErr("turn append", err)
	}
	text := strings.TrimSpace(readContent(args))
	if text == "" {
		exitErr("turn append", fmt.Errorf("text is required (positional arg or stdin)"))
	}

	svc := openService()
	defer svc.Close()

	turn, err := svc.AppendTurn(cmd.Context(), contextName, role, text)
	if err != nil {
		exitErr("turn append", err)
	}
	printJSON(turn)
}

func runTurnTail(cmd *cobra.Command, args []string) {
	contextName, _ := cmd.Flags().GetString("context")
	limit, _ := cmd.Flags().GetInt("limit")

	svc := openService()
	defer svc.Close()

	turns, err := svc.GetTailTurns(cmd.Context(), contextName, limit)
	if err != nil {
		exitErr("turn tail", err)
	}
	if turns == nil {
		turns = []model.Turn{}
	}
	printJSON(turns)
}
