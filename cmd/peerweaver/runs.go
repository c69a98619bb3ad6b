package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alvmarrod/peer-weaver/internal/memory"
	"github.com/alvmarrod/peer-weaver/internal/storage"
	"github.com/alvmarrod/peer-weaver/internal/topology"
	"github.com/spf13/cobra"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List crawl runs stored in the database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		runs, err := store.ListRuns()
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "RUN\tSTARTED\tPLATFORM\tIDENTITIES\tELAPSED\tSEEDS")
		for _, r := range runs {
			fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\n",
				r.RunID, r.StartedAt.Format(time.RFC3339), r.Platform, r.IdentityCount,
				time.Duration(r.ElapsedMs)*time.Millisecond, strings.Join(r.Seeds, " "))
		}
		return w.Flush()
	},
}

var showCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Print the topology of a stored run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, err := strconv.ParseInt(args[0], 10, 64)
		if err != nil {
			return fmt.Errorf("invalid run id %q: %w", args[0], err)
		}

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		result, err := loadRun(store, runID)
		if err != nil {
			return err
		}
		output, _ := cmd.Flags().GetString("output")
		return writeResult(output, result)
	},
}

func init() {
	showCmd.Flags().StringP("output", "o", "", "Write the JSON result to this file instead of stdout")
}

func openStore() (*storage.Storage, error) {
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}
	dbPath := v.GetString("db_path")
	if dbPath == "" {
		return nil, fmt.Errorf("no database given (use --db)")
	}
	return storage.NewStorage(dbPath)
}

// loadRun rehydrates a stored run and synthesizes its topology again
func loadRun(store *storage.Storage, runID int64) (topology.Result, error) {
	run, err := store.GetRun(runID)
	if err != nil {
		return topology.Result{}, err
	}
	if run == nil {
		return topology.Result{}, fmt.Errorf("run %d not found", runID)
	}

	book := memory.NewBook()
	book.SetNames(run.Roster)
	if err := book.LoadFromStorage(store, runID); err != nil {
		return topology.Result{}, err
	}

	return topology.Synthesize(topology.Input{
		Identities:    book.Identities(),
		DiscoveredIPs: run.DiscoveredIPs,
		Roster:        run.Roster,
		ErrorCount:    run.ErrorCount,
		TimeoutCount:  run.TimeoutCount,
		Elapsed:       time.Duration(run.ElapsedMs) * time.Millisecond,
		Visited:       run.VisitedNodes,
	}), nil
}
