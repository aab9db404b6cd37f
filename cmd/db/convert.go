package db

import (
	"errors"
	"fmt"
	"os"

	"github.com/gofrs/flock"
	"github.com/pyrohost/prometheus/cmd/util"
	"github.com/pyrohost/prometheus/lib/codec"
	"github.com/pyrohost/prometheus/lib/databases"
	"github.com/pyrohost/prometheus/lib/docstore"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var convertCmd = &cobra.Command{
	Use:   "convert <domain>",
	Short: "Re-encode a store file with another codec",
	Long:  `Decode the store file of a domain with the configured codec and write it back encoded with --to. Unless --output is given the file is replaced in place and the original kept as <file>.bak. Start the bot with --codec set to the new codec afterwards.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runConvert,
}

// ErrLocked is returned when another process holds the store's lock
var ErrLocked = errors.New("store is locked by another process")

func init() {
	key := "to"
	convertCmd.Flags().String(key, "", util.WrapString("Codec to convert to (json, gob, yaml, toml, hujson, zstd+<codec>)"))
	_ = convertCmd.MarkFlagRequired(key)

	key = "output"
	convertCmd.Flags().String(key, "", util.WrapString("Write the converted document here instead of replacing the file"))
}

func runConvert(cmd *cobra.Command, args []string) error {
	config := util.GetConfig()
	from, err := util.GetCodec(config)
	if err != nil {
		return err
	}
	to, err := codec.FromName(viper.GetString("to"))
	if err != nil {
		return err
	}

	path := databases.Path(config.DataDir, args[0])
	n, err := ConvertFile(args[0], path, viper.GetString("output"), from, to)
	if err != nil {
		return err
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "converted %s from %s to %s (%d bytes)\n", args[0], from.Name(), to.Name(), n)
	return nil
}

// ConvertFile re-encodes the document of domain stored at path. An empty
// output replaces path and keeps the original as path.bak. It returns the
// size of the new file.
func ConvertFile(domain, path, output string, from, to codec.ICodec) (int, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return 0, fmt.Errorf("failed to lock %s: %w", path, err)
	}
	if !locked {
		return 0, fmt.Errorf("%w: %s", ErrLocked, lock.Path())
	}
	defer lock.Unlock()

	src, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	doc, err := databases.NewDocument(domain)
	if err != nil {
		return 0, err
	}
	if err := from.Decode(src, doc); err != nil {
		return 0, fmt.Errorf("failed to decode %s as %s: %w", path, from.Name(), err)
	}
	out, err := to.Encode(doc)
	if err != nil {
		return 0, fmt.Errorf("failed to encode as %s: %w", to.Name(), err)
	}

	// make sure the result can be read back before touching anything
	check, _ := databases.NewDocument(domain)
	if err := to.Decode(out, check); err != nil {
		return 0, fmt.Errorf("converted document does not decode as %s: %w", to.Name(), err)
	}

	fsys := docstore.OSFileSystem{}
	if output == "" {
		if err := fsys.WriteFile(path+".bak", src, 0o644); err != nil {
			return 0, err
		}
		output = path
	}
	if err := fsys.WriteFile(output, out, 0o644); err != nil {
		return 0, err
	}
	return len(out), nil
}
