package db

import (
	"github.com/pyrohost/prometheus/cmd/util"
	"github.com/pyrohost/prometheus/lib/databases"
	"github.com/spf13/cobra"
)

var (
	// DBCommands represents the store maintenance command group
	DBCommands = &cobra.Command{
		Use:   "db",
		Short: "Inspect, verify and convert store files",
		Long:  `Offline tools working on the store files in the data directory. dump and verify only read; convert rewrites a file and refuses to run while another process holds the store's lock.`,
	}
)

func init() {
	DBCommands.AddCommand(dumpCmd)
	DBCommands.AddCommand(verifyCmd)
	DBCommands.AddCommand(convertCmd)
	DBCommands.AddCommand(perfTestCmd)
}

// openDatabases opens the stores without touching unreadable files
func openDatabases() (*databases.Databases, error) {
	config := util.GetConfig()
	opts, err := util.GetStoreOptions(config)
	if err != nil {
		return nil, err
	}
	opts.BackupCorrupt = false
	return databases.Open(config.DataDir, opts)
}

// domainArgs validates domain arguments, no arguments selects every domain
func domainArgs(args []string) ([]string, error) {
	if len(args) == 0 {
		return databases.Domains(), nil
	}
	for _, domain := range args {
		if _, err := databases.NewDocument(domain); err != nil {
			return nil, err
		}
	}
	return args, nil
}
