package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/pattern-persistence/internal/model"
)

func init() {
	anchorCmd := &cobra.Command{
		Use:   "anchor",
		Short: "Manage identity anchors",
	}

	addCmd := &cobra.Command{
		Use:   "add [text]",
		Short: "Promote text to a durable anchor",
		Long:  "Store an anchor. Adding the same text twice keeps the original and reports created=false.",
		Run:   runAnchorAdd,
	}

	searchCmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search anchors",
		Long:  "Rank anchors by embedding similarity when an embedder is configured, otherwise by substring match.",
		Run:   runAnchorSearch,
	}
	searchCmd.Flags().IntP("limit", "k", 5, "Max results")

	anchorCmd.AddCommand(addCmd, searchCmd)
	RootCmd.AddCommand(anchorCmd)
}

func runAnchorAdd(cmd *cobra.Command, args []string) {
	text := strings.TrimSpace(readContent(args))
	if text == "" {
		exitErr("anchor add", fmt.Errorf("text is required (positional arg or stdin)"))
	}

	svc := openService()
	defer svc.Close()

	a, created, err := svc.AddAnchor(cmd.Context(), text)
	if err != nil {
		exitErr("anchor add", err)
	}
	printJSON(struct {
		model.Anchor
		Created bool `json:"created"`
	}{a, created})
}

func runAnchorSearch(cmd *cobra.Command, args []string) {
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	svc := openService()
	defer svc.Close()

	anchors, err := svc.SearchAnchors(cmd.Context(), query, limit)
	if err != nil {
		exitErr("anchor search", err)
	}
	if anchors == nil {
		anchors = []model.Anchor{}
	}
	printJSON(anchors)
}
