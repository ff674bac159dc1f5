// Command pgcrud serves nestjsx-crud style REST endpoints over PostgreSQL,
// MySQL, SQLite and ClickHouse tables.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/edgeflare/pgcrud/pkg/config"
	"github.com/edgeflare/pgcrud/pkg/util"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

var (
	cfgFile  string
	logLevel string
	cfg      *config.Config
	logger   = zap.NewNop()
)

var rootCmd = &cobra.Command{
	Use:   "pgcrud",
	Short: "pgcrud serves CRUD endpoints over SQL tables",
	Long: `pgcrud exposes database tables as REST endpoints that understand the
nestjsx-crud query string: fields, filter, or, s, join, sort, limit, offset,
page and cache.`,
	SilenceUsage: true,
	Run: func(cmd *cobra.Command, args []string) {
		versionFlag, _ := cmd.Flags().GetBool("version")
		if versionFlag {
			fmt.Println(version)
			return
		}
		cmd.Help()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", util.GetEnvOrDefault("PGCRUD_CONFIG", ""), "config file (default is $HOME/.config/pgcrud.yaml)")
	rootCmd.PersistentFlags().StringVarP(&logLevel, "log-level", "L", "info", "log at this level (debug, info, warn, error, none)")
	rootCmd.Flags().BoolP("version", "v", false, "Print the version number")

	rootCmd.AddCommand(serveCmd, explainCmd, schemaCmd, queryCmd)
}

func initConfig() {
	var err error
	if logger, err = newLogger(logLevel); err != nil {
		fmt.Fprintln(os.Stderr, "Error creating logger:", err)
		os.Exit(1)
	}

	cfg, err = config.Load(cfgFile)
	if err != nil {
		logger.Fatal("loading config", zap.Error(err))
	}
	if cfg.File != "" {
		logger.Debug("using config file", zap.String("file", cfg.File))
	}
}

// newLogger builds a development logger for debug, nothing for none and a
// production logger at the given level otherwise.
func newLogger(level string) (*zap.Logger, error) {
	switch strings.ToLower(level) {
	case "none", "":
		return zap.NewNop(), nil
	case "debug":
		return zap.NewDevelopment()
	}

	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, err
	}
	zc := zap.NewProductionConfig()
	zc.Level = lvl
	return zc.Build()
}
