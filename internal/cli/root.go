// Package cli implements the pps CLI commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/pattern-persistence/internal/config"
	"github.com/rcliao/pattern-persistence/internal/logger"
	"github.com/rcliao/pattern-persistence/internal/service"
)

var (
	dbPath    string
	configDir string
	debug     bool
)

// RootCmd is the top-level command.
var RootCmd = &cobra.Command{
	Use:   "pps",
	Short: "Shared, layered memory for agent processes",
	Long: "pps keeps one continuous memory for several agent processes: raw turns, identity anchors, " +
		"a fact graph and periodic crystals. SQLite-backed, safe to run from many processes at once.",
}

func init() {
	RootCmd.PersistentFlags().StringVarP(&dbPath, "db", "d", "", "Database path (default: $PPS_DB, storage.db_path or ~/.pps/pps.db)")
	RootCmd.PersistentFlags().StringVar(&configDir, "config", "", "Directory holding config.toml (default: $PPS_HOME or ~/.pps)")
	RootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging on stderr")
}

func getConfigDir() string {
	if configDir != "" {
		return configDir
	}
	return config.DataDir()
}

func getDBPath(cfg *config.Config) string {
	if dbPath != "" {
		return dbPath
	}
	if env := os.Getenv("PPS_DB"); env != "" {
		return env
	}
	if cfg != nil && cfg.Storage.DBPath != "" {
		return cfg.Storage.DBPath
	}
	return config.DefaultDBPath()
}

func loadConfig() *config.Config {
	cfg, err := config.Load(getConfigDir())
	if err != nil {
		exitErr("load config", err)
	}
	return cfg
}

func openService() *service.Service {
	cfg := loadConfig()
	svc, err := service.Open(service.Options{
		Config: cfg,
		DBPath: getDBPath(cfg),
		Logger: logger.NewLogger(debug),
	})
	if err != nil {
		exitErr("open store", err)
	}
	return svc
}

// readContent returns the positional args joined, or stdin when it is piped.
func readContent(args []string) string {
	if len(args) > 0 {
		return strings.Join(args, " ")
	}
	stat, _ := os.Stdin.Stat()
	if (stat.Mode() & os.ModeCharDevice) == 0 {
		b, err := io.ReadAll(os.Stdin)
		if err != nil {
			exitErr("read stdin", err)
		}
		return string(b)
	}
	return ""
}

func printJSON(v interface{}) {
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
}

func exitErr(msg string, err error) {
	fmt.Fprintf(os.Stderr, "error: %s: %v\n", msg, err)
	os.Exit(1)
}
