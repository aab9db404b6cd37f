package cmd

import (
	"fmt"
	"os"

	"github.com/pyrohost/prometheus/cmd/db"
	"github.com/pyrohost/prometheus/cmd/serve"
	"github.com/pyrohost/prometheus/cmd/util"
	"github.com/pyrohost/prometheus/lib/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	Version = "0.3.0"
)

var (

	// RootCmd represents the base command when called without any subcommands
	RootCmd = &cobra.Command{
		Use:   "prometheus",
		Short: "data layer of the Pyro community bot",
		Long: fmt.Sprintf(`prometheus (v%s)

Runs the persistent state of the Pyro community bot: one document store per
module (lorax, modrinth, stats, testing, recording), the background tasks
working on them and an admin endpoint exposing their metrics.`, Version),
		SilenceUsage:      true,
		PersistentPreRunE: setup,
	}
	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of prometheus",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("prometheus v%s\n", Version)
		},
	}
)

func init() {
	cobra.OnInitialize(util.InitConfig)

	// Add Commands
	RootCmd.AddCommand(serve.ServeCmd)
	RootCmd.AddCommand(db.DBCommands)
	RootCmd.AddCommand(versionCmd)

	// Add Flags
	util.SetupStoreFlags(RootCmd)
}

// setup binds the flags of the executed command and configures logging
func setup(cmd *cobra.Command, _ []string) error {
	if err := util.BindCommandFlags(cmd); err != nil {
		return err
	}
	return common.InitLoggers(viper.GetString("log-level"))
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the RootCmd.
func Execute() {
	if err := RootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
