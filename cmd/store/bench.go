package store

import (
	"encoding/csv"
	"fmt"
	"log"
	"math"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ValentinKolb/kvds/cmd/util"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/ValentinKolb/kvds/rpc/common"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	benchCmd = &cobra.Command{
		Use:     "bench",
		Short:   "Performance testing tool for kvds stores",
		Long:    "Runs put, get, delete, list and mixed workloads against the store given by --app and --store. The keys written are removed afterwards.",
		RunE:    runBench,
		PreRunE: processBenchConfig,
	}
	benchKeyPrefix        = "__bench"
	benchLargeValueSizeKB = 100
	benchNumThreads       = 10
	benchKeySpread        = 100
	benchSkip             = make([]string, 0)
)

func init() {
	key := "skip"
	benchCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. put,get)"))
	key = "threads"
	benchCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	benchCmd.Flags().Int(key, 100, util.WrapString("How large the value for the put-large test should be (in KB)"))
	key = "keys"
	benchCmd.Flags().Int(key, 100, util.WrapString("How many different keys to use for the tests"))
	key = "csv"
	benchCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
}

func processBenchConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	benchLargeValueSizeKB = viper.GetInt("large-value-size")
	benchKeySpread = max(viper.GetInt("keys"), 1)
	benchNumThreads = viper.GetInt("threads")
	benchSkip = strings.Split(viper.GetString("skip"), ",")

	return nil
}

// benchCase is one workload. prepare runs before the timer starts.
type benchCase struct {
	name    string
	prepare bool
	op      func(s kvstore.IKvStore, key string, i int) kvstore.Status
}

func benchCases() []benchCase {
	small := []byte("test")
	large := make([]byte, benchLargeValueSizeKB*1024)
	return []benchCase{
		{name: "put", op: func(s kvstore.IKvStore, key string, _ int) kvstore.Status {
			return s.Put(key, small)
		}},
		{name: "put-large", op: func(s kvstore.IKvStore, key string, _ int) kvstore.Status {
			return s.Put(key, large)
		}},
		{name: "get", prepare: true, op: func(s kvstore.IKvStore, key string, _ int) kvstore.Status {
			_, status := s.Get(key)
			return status
		}},
		{name: "delete", prepare: true, op: func(s kvstore.IKvStore, key string, _ int) kvstore.Status {
			return s.Delete(key)
		}},
		{name: "list", prepare: true, op: func(s kvstore.IKvStore, _ string, _ int) kvstore.Status {
			_, status := s.GetEntries(benchKeyPrefix + "-list")
			return status
		}},
		{name: "mixed", prepare: true, op: func(s kvstore.IKvStore, key string, i int) kvstore.Status {
			switch i % 3 {
			case 0:
				return s.Put(key, small)
			case 1:
				_, status := s.Get(key)
				if status == kvstore.KeyNotFound {
					return kvstore.Success
				}
				return status
			default:
				return s.Delete(key)
			}
		}},
	}
}

func runBench(_ *cobra.Command, _ []string) error {
	fmt.Println("Performance testing tool for kvds stores")

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(util.GetClientConfig().String())
	fmt.Printf("Threads: %d\n", benchNumThreads)
	fmt.Println()

	fmt.Println("starting tests...")

	return withStore(func(s kvstore.IKvStore) error {
		// Create results map
		results := make(map[string]testing.BenchmarkResult)

		for _, c := range benchCases() {
			c := c
			result := testing.Benchmark(func(b *testing.B) {
				if shouldSkip(c.name) {
					return
				}

				// prepare keys
				keys := benchKeys(c.name)
				if c.prepare {
					entries := make([]kvstore.Entry, 0, len(keys))
					for _, k := range keys {
						entries = append(entries, kvstore.Entry{Key: k, Value: []byte("test")})
					}
					if status := s.PutBatch(entries); !status.IsSuccess() {
						log.Printf("(%s) - error preparing keys: %s\n", c.name, status)
					}
				}

				// cleanup
				b.Cleanup(func() {
					if status := s.DeleteBatch(keys); !status.IsSuccess() {
						log.Printf("(%s) - error deleting keys: %s\n", c.name, status)
					}
				})

				b.SetParallelism(benchNumThreads)

				b.ResetTimer()

				b.RunParallel(func(pb *testing.PB) {
					counter := 0
					for pb.Next() {
						if status := c.op(s, keys[counter%len(keys)], counter); !status.IsSuccess() {
							log.Printf("(%s) - error: %s\n", c.name, status)
						}
						counter++
					}
				})
			})

			results[c.name] = result
			printResult(c.name, result)
		}

		// Write results to csv is specified
		if csvPath := viper.GetString("csv"); csvPath != "" {
			fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
			if err := writeResultsToCSV(csvPath, results, util.GetClientConfig()); err != nil {
				return fmt.Errorf("failed to export results to CSV: %v", err)
			}
			fmt.Println("Export complete")
		}
		return nil
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

func shouldSkip(test string) bool {
	for _, skip := range benchSkip {
		if test == skip {
			return true
		}
	}
	return false
}

// benchKeys creates the test keys of a workload
func benchKeys(prefix string) []string {
	keys := make([]string, benchKeySpread)
	for i := range keys {
		keys[i] = fmt.Sprintf("%s-%s-%d", benchKeyPrefix, prefix, i)
	}
	return keys
}

// opsPerSec returns the duration per operation and the throughput, zero for skipped tests
func opsPerSec(result testing.BenchmarkResult) (float64, float64) {
	if result.NsPerOp() == 0 {
		return 0, 0
	}
	nsPerOp := math.Max(float64(result.NsPerOp()), 1)
	return nsPerOp, 1.0 / (nsPerOp / 1e9)
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	nsPerOp, ops := opsPerSec(result)
	if nsPerOp == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}
	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), ops)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.ClientConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	// Write header
	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Endpoints", "TimeoutSec", "RetryCount", "ConnectionsPerEndpoint",
		"App", "Store", "Serializer", "Transport",
		"Threads", "LargeValueSizeKB", "Keys Count",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	// Write test results
	for test, result := range results {
		nsPerOp, ops := opsPerSec(result)
		row := []string{
			test,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", ops),
			strconv.FormatBool(nsPerOp == 0),
			strings.Join(config.Transport.Endpoints, ";"),
			strconv.Itoa(config.TimeoutSecond),
			strconv.Itoa(config.Transport.RetryCount),
			strconv.Itoa(config.Transport.ConnectionsPerEndpoint),
			viper.GetString("app"),
			viper.GetString("store"),
			viper.GetString("serializer"),
			viper.GetString("transport"),
			strconv.Itoa(benchNumThreads),
			strconv.Itoa(benchLargeValueSizeKB),
			strconv.Itoa(benchKeySpread),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test, err)
		}
	}

	return nil
}
