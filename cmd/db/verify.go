package db

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"

	"github.com/fatih/color"
	"github.com/pyrohost/prometheus/cmd/util"
	"github.com/pyrohost/prometheus/lib/codec"
	"github.com/pyrohost/prometheus/lib/databases"
	"github.com/pyrohost/prometheus/lib/modules/stats"
	"github.com/spf13/cobra"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [domain...]",
	Short: "Check that store files decode",
	Long:  `Decode the store files of the given domains (all by default) with the configured codec and report OK, CORRUPT or MISSING for each. Exits with an error if a file is corrupt.`,
	RunE:  runVerify,
}

// ErrCorrupt is returned by verify when at least one file does not decode
var ErrCorrupt = errors.New("corrupt store files found")

// Status is the result of verifying one file
type Status int

const (
	StatusOK Status = iota
	StatusMissing
	StatusCorrupt
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusMissing:
		return "MISSING"
	case StatusCorrupt:
		return "CORRUPT"
	}
	return "UNKNOWN"
}

// Result describes the state of one store file
type Result struct {
	Domain string
	Path   string
	Status Status
	Size   int
	Err    error
}

// VerifyFile decodes the file of domain in dir with c
func VerifyFile(dir, domain string, c codec.ICodec) Result {
	r := Result{Domain: domain, Path: databases.Path(dir, domain)}

	b, err := os.ReadFile(r.Path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		r.Status = StatusMissing
		return r
	case err != nil:
		r.Status, r.Err = StatusCorrupt, err
		return r
	case len(b) == 0:
		// stores treat an empty file like a missing one
		r.Status = StatusMissing
		return r
	}
	r.Size = len(b)

	doc, err := databases.NewDocument(domain)
	if err != nil {
		r.Status, r.Err = StatusCorrupt, err
		return r
	}
	if err := c.Decode(b, doc); err != nil {
		r.Status, r.Err = StatusCorrupt, err
	}
	return r
}

func runVerify(cmd *cobra.Command, args []string) error {
	domains, err := domainArgs(args)
	if err != nil {
		return err
	}
	config := util.GetConfig()
	c, err := util.GetCodec(config)
	if err != nil {
		return err
	}

	corrupt := 0
	for _, domain := range domains {
		r := VerifyFile(config.DataDir, domain, c)
		printVerifyResult(cmd.OutOrStdout(), r)
		if r.Status == StatusCorrupt {
			corrupt++
		}
	}

	if corrupt > 0 {
		return fmt.Errorf("%w: %d of %d (codec %s)", ErrCorrupt, corrupt, len(domains), c.Name())
	}
	return nil
}

func printVerifyResult(w io.Writer, r Result) {
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)

	_, _ = fmt.Fprintf(w, "%-12s", r.Domain)
	switch r.Status {
	case StatusOK:
		_, _ = green.Fprintf(w, "%-8s", r.Status)
		_, _ = fmt.Fprintf(w, " %s\n", stats.Bytes.FormatValue(float64(r.Size)))
	case StatusMissing:
		_, _ = yellow.Fprintf(w, "%-8s", r.Status)
		_, _ = fmt.Fprintf(w, " %s\n", r.Path)
	default:
		_, _ = red.Fprintf(w, "%-8s", r.Status)
		_, _ = fmt.Fprintf(w, " %v\n", r.Err)
	}
}
