package main

import (
	"os"

	"github.com/alvmarrod/peer-weaver/internal/config"
	"github.com/alvmarrod/peer-weaver/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	configFile string
	verbose    bool
	v          = config.NewViper()
)

var rootCmd = &cobra.Command{
	Use:   "peerweaver",
	Short: "Map the live P2P topology of a goloop network",
	Long: `Crawls node admin endpoints starting from one or more seeds, correlates
node identities with the IPs they are seen on and classifies them against
the registered validator roster.

Example:
  peerweaver crawl --seed 10.0.0.1:9000 --platform icon --max-depth 3`,
	Version:       version.Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging(v)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"Config file (json, yaml or toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false,
		"Enable debug logging")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("db", "", "SQLite database for storing runs")

	mustBind(v, "log_level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBind(v, "db_path", rootCmd.PersistentFlags().Lookup("db"))

	rootCmd.AddCommand(crawlCmd, runsCmd, showCmd)
}

// setupLogging configures logrus from flags and config
func setupLogging(v *viper.Viper) {
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	logrus.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(v.GetString("log_level"))
	if err != nil {
		level = logrus.InfoLevel
	}
	if verbose {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		logrus.Fatalf("%v", err)
	}
}
