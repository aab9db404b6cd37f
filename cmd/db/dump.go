package db

import (
	"fmt"

	"github.com/pyrohost/prometheus/cmd/util"
	"github.com/pyrohost/prometheus/lib/codec"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var dumpCmd = &cobra.Command{
	Use:   "dump <domain>",
	Short: "Print the document of a store",
	Long:  `Print the current document of a store (lorax, modrinth, stats, testing, recording) in a readable format.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runDump,
}

func init() {
	key := "format"
	dumpCmd.Flags().String(key, "json", util.WrapString("Output format (json, yaml)"))
}

// dumpCodec returns the codec used to print documents. json is indented.
func dumpCodec(format string) (codec.ICodec, error) {
	switch format {
	case "json":
		return codec.NewHuJSONCodec(), nil
	case "yaml":
		return codec.NewYAMLCodec(), nil
	}
	return nil, fmt.Errorf("invalid format %s (expected json or yaml)", format)
}

func runDump(cmd *cobra.Command, args []string) error {
	out, err := dumpCodec(viper.GetString("format"))
	if err != nil {
		return err
	}

	dbs, err := openDatabases()
	if err != nil {
		return err
	}
	defer dbs.Close()

	doc, err := dbs.Dump(args[0])
	if err != nil {
		return err
	}

	b, err := out.Encode(doc)
	if err != nil {
		return fmt.Errorf("failed to encode %s as %s: %w", args[0], out.Name(), err)
	}
	_, err = cmd.OutOrStdout().Write(b)
	return err
}
