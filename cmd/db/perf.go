package db

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/pyrohost/prometheus/cmd/util"
	"github.com/pyrohost/prometheus/lib/common"
	"github.com/pyrohost/prometheus/lib/docstore"
	statutil "github.com/pyrohost/prometheus/lib/util"
	gometrics "github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Benchmark a document store on the local disk",
		Long:    `Run read and write benchmarks against a temporary store using the configured codec and write settings. The store lives in a temporary directory that is removed afterwards.`,
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfNumThreads = 10
	perfItems      = 100
	perfValueSize  = 64
	perfRounds     = 3
	perfSkip       = make([]string, 0)
)

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. write,read-parallel)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of goroutines for the parallel benchmarks"))
	key = "items"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How many entries the benchmark document holds"))
	key = "value-size"
	perfTestCmd.Flags().Int(key, 64, util.WrapString("Size of each entry in bytes"))
	key = "rounds"
	perfTestCmd.Flags().Int(key, 3, util.WrapString("How often every benchmark is repeated"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	perfNumThreads = max(viper.GetInt("threads"), 1)
	perfItems = max(viper.GetInt("items"), 1)
	perfValueSize = max(viper.GetInt("value-size"), 0)
	perfRounds = max(viper.GetInt("rounds"), 1)
	perfSkip = strings.Split(viper.GetString("skip"), ",")
	return nil
}

// perfDocument is the document written by the benchmarks
type perfDocument struct {
	Counter uint64
	Items   map[string]string
}

func (d *perfDocument) Init() {
	if d.Items == nil {
		d.Items = make(map[string]string)
	}
}

func (d *perfDocument) Clone() *perfDocument {
	c := &perfDocument{Counter: d.Counter, Items: make(map[string]string, len(d.Items))}
	for k, v := range d.Items {
		c.Items[k] = v
	}
	return c
}

// perfResult summarises the rounds of one benchmark
type perfResult struct {
	NsPerOp []float64
	Latency gometrics.Timer
}

func runPerf(cmd *cobra.Command, _ []string) error {
	config := util.GetConfig()
	opts, err := util.GetStoreOptions(config)
	if err != nil {
		return err
	}

	dir, err := os.MkdirTemp("", "prometheus-perf-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	store, err := docstore.Open[perfDocument](filepath.Join(dir, "perf.db"), opts)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Println("Performance testing tool for prometheus document stores")
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Threads: %d, Items: %d, Value size: %dB, Rounds: %d\n", perfNumThreads, perfItems, perfValueSize, perfRounds)
	fmt.Println()

	// fill the document
	value := strings.Repeat("x", perfValueSize)
	if err := docstore.Update(store, func(d *perfDocument) error {
		for i := 0; i < perfItems; i++ {
			d.Items[itemKey(i)] = value
		}
		return nil
	}); err != nil {
		return err
	}

	fmt.Println("starting tests...")
	benchmarks := []struct {
		name string
		fn   func(b *testing.B, timer gometrics.Timer)
	}{
		{"write", func(b *testing.B, timer gometrics.Timer) {
			for i := 0; i < b.N; i++ {
				timer.Time(func() { perfWrite(store, i, value) })
			}
		}},
		{"write-parallel", func(b *testing.B, timer gometrics.Timer) {
			b.SetParallelism(perfNumThreads)
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					timer.Time(func() { perfWrite(store, i, value) })
					i++
				}
			})
		}},
		{"read", func(b *testing.B, timer gometrics.Timer) {
			for i := 0; i < b.N; i++ {
				timer.Time(func() { perfRead(store, i) })
			}
		}},
		{"read-parallel", func(b *testing.B, timer gometrics.Timer) {
			b.SetParallelism(perfNumThreads)
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					timer.Time(func() { perfRead(store, i) })
					i++
				}
			})
		}},
		{"snapshot", func(b *testing.B, timer gometrics.Timer) {
			for i := 0; i < b.N; i++ {
				timer.Time(func() {
					if _, err := store.Snapshot(); err != nil {
						b.Error(err)
					}
				})
			}
		}},
	}

	results := make(map[string]*perfResult)
	var order []string
	for _, bench := range benchmarks {
		if shouldSkip(bench.name) {
			printResult(bench.name, nil)
			continue
		}
		res := &perfResult{Latency: gometrics.NewTimer()}
		for round := 0; round < perfRounds; round++ {
			r := testing.Benchmark(func(b *testing.B) {
				b.ResetTimer()
				bench.fn(b, res.Latency)
			})
			res.NsPerOp = append(res.NsPerOp, float64(r.NsPerOp()))
		}
		res.Latency.Stop()
		results[bench.name] = res
		order = append(order, bench.name)
		printResult(bench.name, res)
	}

	info := store.Info()
	fmt.Println()
	fmt.Printf("document: %d bytes, %d writes, %d failures, %d timeouts\n", info.DocumentBytes, info.Writes, info.Failures, info.Timeouts)

	if csvPath := viper.GetString("csv"); csvPath != "" {
		if err := writeResultsToCSV(csvPath, order, results, config); err != nil {
			return err
		}
		fmt.Printf("results written to %s\n", csvPath)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func itemKey(i int) string {
	return "item-" + strconv.Itoa(i%perfItems)
}

func perfWrite(store *docstore.Store[perfDocument], i int, value string) {
	_, err := docstore.Write(store, func(d *perfDocument) (uint64, error) {
		d.Counter++
		d.Items[itemKey(i)] = value
		return d.Counter, nil
	})
	if err != nil {
		fmt.Printf("(write) - error: %v\n", err)
	}
}

func perfRead(store *docstore.Store[perfDocument], i int) {
	docstore.Read(store, func(d *perfDocument) int {
		return len(d.Items[itemKey(i)])
	})
}

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, res *perfResult) {
	if res == nil {
		fmt.Printf("%-16sskipped\n", test)
		return
	}

	s := statutil.NewStats(res.NsPerOp)
	nsPerOp := math.Max(s.Mean, 1) // prevent division by zero
	opsPerSec := 1.0 / (nsPerOp / 1e9)
	p := res.Latency.Percentiles([]float64{0.5, 0.99})

	fmt.Printf("%-16s%.0fns/op (%s/op ±%.0f%%)\t%.0f ops/sec\tp50 %s p99 %s\n",
		test, nsPerOp, time.Duration(nsPerOp), 100*s.StdDeviation/nsPerOp, opsPerSec,
		time.Duration(p[0]), time.Duration(p[1]))
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, order []string, results map[string]*perfResult, config *common.Config) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "StdDevNs", "OpsPerSec", "P50Ns", "P99Ns", "MaxNs",
		"Codec", "WriteTimeout", "Retries", "Threads", "Items", "ValueSize", "Rounds",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, test := range order {
		res := results[test]
		s := statutil.NewStats(res.NsPerOp)
		nsPerOp := math.Max(s.Mean, 1)
		p := res.Latency.Percentiles([]float64{0.5, 0.99})

		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			fmt.Sprintf("%.0f", s.StdDeviation),
			fmt.Sprintf("%.0f", 1.0/(nsPerOp/1e9)),
			fmt.Sprintf("%.0f", p[0]),
			fmt.Sprintf("%.0f", p[1]),
			strconv.FormatInt(res.Latency.Max(), 10),
			config.Codec,
			config.WriteTimeout.String(),
			strconv.Itoa(config.WriteRetries),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfItems),
			strconv.Itoa(perfValueSize),
			strconv.Itoa(perfRounds),
		}
		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}
	return nil
}
