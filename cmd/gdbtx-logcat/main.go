// Command gdbtx-logcat scans the Postgres-backed write-ahead transaction
// log and prints one line per record: the decoded status for headers and
// trailers, or a note that the record could not be classified by status
// alone (an opaque mutation payload, or a corrupt record).
//
// It is meant for post-crash reconciliation, mirroring the teacher's
// registry CLI (registry/cmd/registry) in shape — a small, flag-driven
// tool wrapping one package's operations — but built on cobra/viper like
// the teacher's main CLI (cli/root.go) rather than hand-rolled os.Args
// parsing, since this repo's ambient stack already standardizes on that.
//
// A transaction whose header (PREFLUSH_SYSTEM or PRECOMMIT) was written
// but whose matching trailer never was — because the process crashed
// between writing the header and the trailer — shows up as OPEN in the
// final summary and needs manual reconciliation against the backend.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/evalgo/gdbtx/txlog"
	"github.com/evalgo/gdbtx/txlog/pgstore"
	"github.com/evalgo/gdbtx/version"
)

var v = viper.New()

var rootCmd = &cobra.Command{
	Use:   "gdbtx-logcat",
	Short: "scan and decode the commit engine's write-ahead transaction log",
	Long: `gdbtx-logcat connects to the Postgres-backed transaction log,
decodes every record it can classify by status byte, and prints one
summary line per record plus a final list of transactions whose header
was never followed by a terminal trailer.`,
	RunE: runScan,
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.String("postgres-url", "", "Postgres connection string for the transaction log table")
	flags.String("table", "", "transaction log table name (default gdbtx_transaction_log)")
	flags.Int64("after-id", 0, "only print records with id greater than this")
	flags.Int("limit", 1000, "maximum number of records to scan")
	flags.Bool("version", false, "print build and dependency information and exit")

	bind := func(key, flag string) {
		if err := v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("gdbtx-logcat: bind flag %q: %v", flag, err))
		}
	}
	bind("postgres_url", "postgres-url")
	bind("table", "table")
	bind("after_id", "after-id")
	bind("limit", "limit")
	bind("version", "version")

	v.SetEnvPrefix("gdbtx_logcat")
	v.AutomaticEnv()
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runScan(cmd *cobra.Command, args []string) error {
	if v.GetBool("version") {
		printVersion()
		return nil
	}

	connString := v.GetString("postgres_url")
	if connString == "" {
		return fmt.Errorf("gdbtx-logcat: --postgres-url is required")
	}

	ctx := context.Background()
	logStore, err := pgstore.Open(ctx, connString, v.GetString("table"))
	if err != nil {
		return fmt.Errorf("gdbtx-logcat: %w", err)
	}
	defer logStore.Close()

	records, err := logStore.Scan(ctx, v.GetInt64("after_id"), v.GetInt("limit"))
	if err != nil {
		return fmt.Errorf("gdbtx-logcat: %w", err)
	}

	open := map[int64]int64{}
	for _, rec := range records {
		describeRecord(rec, open)
	}
	if len(open) == 0 {
		return nil
	}
	fmt.Println("---")
	for txID, headerRecordID := range open {
		fmt.Printf("tx %d: OPEN — header at record %d, no terminal trailer seen\n", txID, headerRecordID)
	}
	return nil
}

// describeRecord prints one decoded line for rec and updates open, the
// set of transaction ids whose header has no matching trailer yet.
func describeRecord(rec pgstore.LogRecord, open map[int64]int64) {
	header, _, err := txlog.DecodeHeader(rec.Record)
	if err != nil {
		fmt.Printf("record %d: %d bytes, undecodable as a header (opaque payload or corrupt)\n", rec.ID, len(rec.Record))
		return
	}

	switch header.Status {
	case txlog.PreflushSystem, txlog.Precommit:
		open[header.TxID] = rec.ID
		fmt.Printf("record %d: tx %d %s at %d\n", rec.ID, header.TxID, header.Status, header.CommitTimestamp)
	case txlog.SuccessSystem, txlog.FailureSystem, txlog.Success:
		delete(open, header.TxID)
		fmt.Printf("record %d: tx %d %s at %d\n", rec.ID, header.TxID, header.Status, header.CommitTimestamp)
	case txlog.Failure:
		delete(open, header.TxID)
		trailer, _, terr := txlog.DecodeTrailer(rec.Record)
		if terr != nil || trailer.Failure == nil {
			fmt.Printf("record %d: tx %d FAILURE at %d (failure detail undecodable)\n", rec.ID, header.TxID, header.CommitTimestamp)
			return
		}
		fmt.Printf("record %d: tx %d FAILURE at %d, storage_success=%t trigger_success=%t failing_indexes=%v\n",
			rec.ID, header.TxID, header.CommitTimestamp,
			trailer.Failure.StorageSuccess, trailer.Failure.TriggerSuccess, trailer.Failure.FailingIndexNames)
	default:
		fmt.Printf("record %d: %d bytes, unrecognized status byte %d (opaque payload or corrupt)\n", rec.ID, len(rec.Record), byte(header.Status))
	}
}

func printVersion() {
	info := version.GetBuildInfo()
	fmt.Printf("gdbtx-logcat %s (go %s)\n", info.MainVersion, info.GoVersion)
	for _, dep := range info.Dependencies {
		if dep.Replace != "" {
			fmt.Printf("  %s %s => %s\n", dep.Path, dep.Version, dep.Replace)
		} else {
			fmt.Printf("  %s %s\n", dep.Path, dep.Version)
		}
	}
}
