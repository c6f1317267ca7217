package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/rcliao/pattern-persistence/internal/config"
	"github.com/rcliao/pattern-persistence/internal/coord"
	"github.com/rcliao/pattern-persistence/internal/store"
)

func init() {
	locksCmd := &cobra.Command{
		Use:   "locks",
		Short: "List advisory locks and whether they have expired",
		Run:   runLocks,
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show database statistics",
		Run:   runStats,
	}

	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export turns, anchors, facts and crystals",
		Long:  "Export everything as JSON or YAML. Filter turns and crystals by context with -c.",
		Run:   runExport,
	}
	exportCmd.Flags().StringP("context", "c", "", "Filter by context")
	exportCmd.Flags().StringP("format", "f", "json", "Output format: json or yaml")

	importCmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import an export (file or stdin)",
		Long:  "Import the output of export. Records already present are skipped, so importing twice is harmless.",
		Args:  cobra.MaximumNArgs(1),
		Run:   runImport,
	}
	importCmd.Flags().StringP("format", "f", "", "Input format: json or yaml (default: from file extension, else json)")

	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Show or initialize configuration",
	}
	configShowCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration",
		Run:   runConfigShow,
	}
	configInitCmd := &cobra.Command{
		Use:   "init",
		Short: "Write config.toml with defaults",
		Run:   runConfigInit,
	}
	configCmd.AddCommand(configShowCmd, configInitCmd)

	RootCmd.AddCommand(locksCmd, statsCmd, exportCmd, importCmd, configCmd)
}

func runLocks(cmd *cobra.Command, args []string) {
	svc := openService()
	defer svc.Close()

	locks, err := svc.Locks(cmd.Context())
	if err != nil {
		exitErr("locks", err)
	}
	if locks == nil {
		locks = []coord.LockStatus{}
	}
	printJSON(locks)
}

func runStats(cmd *cobra.Command, args []string) {
	svc := openService()
	defer svc.Close()

	stats, err := svc.Stats(cmd.Context())
	if err != nil {
		exitErr("stats", err)
	}
	printJSON(stats)
}

func runExport(cmd *cobra.Command, args []string) {
	contextName, _ := cmd.Flags().GetString("context")
	format, _ := cmd.Flags().GetString("format")

	svc := openService()
	defer svc.Close()

	snap, err := svc.Export(cmd.Context(), contextName)
	if err != nil {
		exitErr("export", err)
	}

	switch strings.ToLower(format) {
	case "json":
		printJSON(snap)
	case "yaml", "yml":
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(snap); err != nil {
			exitErr("export", err)
		}
		enc.Close()
	default:
		exitErr("export", fmt.Errorf("unknown format %q (valid: json, yaml)", format))
	}
}

func runImport(cmd *cobra.Command, args []string) {
	format, _ := cmd.Flags().GetString("format")

	var (
		data []byte
		err  error
	)
	if len(args) == 1 {
		data, err = os.ReadFile(args[0])
		if format == "" && (strings.HasSuffix(args[0], ".yaml") || strings.HasSuffix(args[0], ".yml")) {
			format = "yaml"
		}
	} else {
		data, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		exitErr("read input", err)
	}

	snap, err := decodeSnapshot(data, format)
	if err != nil {
		exitErr("parse input", err)
	}

	svc := openService()
	defer svc.Close()

	res, err := svc.Import(cmd.Context(), snap)
	if err != nil {
		exitErr("import", err)
	}
	printJSON(res)
}

func decodeSnapshot(data []byte, format string) (*store.Snapshot, error) {
	var snap store.Snapshot
	switch strings.ToLower(format) {
	case "", "json":
		if err := json.Unmarshal(data, &snap); err != nil {
			return nil, err
		}
	case "yaml", "yml":
		if err := yaml.Unmarshal(data, &snap); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown format %q (valid: json, yaml)", format)
	}
	return &snap, nil
}

func runConfigShow(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	cfg.Storage.DBPath = getDBPath(cfg)
	printJSON(cfg)
}

func runConfigInit(cmd *cobra.Command, args []string) {
	dir := getConfigDir()
	path := config.Path(dir)
	if _, err := os.Stat(path); err == nil {
		exitErr("config init", fmt.Errorf("%s already exists", path))
	}
	if err := config.Save(dir, config.NewDefaultConfig()); err != nil {
		exitErr("config init", err)
	}
	fmt.Printf(`{"ok":true,"path":%q}`+"\n", path)
}
