package main

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/doodlesbykumbi/profile-provisioner/pkg/config"
)

var rootCmd = &cobra.Command{
	Use:   "provisionctl",
	Short: "Provision signed profiles for first-time logins",
	Long: `provisionctl runs the login hook server and offers the operations it is
built from (provisioning one login, signing and verifying profiles, managing
keys, configuration and the metadata database) as standalone commands.`,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func main() {
	Execute()
}

// newLogger returns a logger at the configured level. Unknown levels fall
// back to info.
func newLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}
