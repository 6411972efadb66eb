package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	historyLimit     int
	historyOlderThan time.Duration
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [OWNER/REPO]",
		Short: "Show recorded acquisitions",
		Long: `Show the acquisition journal, newest first. Requires journal.db_path to be
set in the config file.`,
		Example: `  repofetch history
  repofetch history acme/widgets --limit 5
  repofetch history prune --older-than 720h`,
		Args: cobra.MaximumNArgs(1),
		RunE: historyRun,
	}

	cmd.Flags().IntVar(&historyLimit, "limit", 20, "maximum number of entries to show")

	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete journal entries older than a duration",
		Args:  cobra.NoArgs,
		RunE:  historyPruneRun,
	}
	prune.Flags().DurationVar(&historyOlderThan, "older-than", 30*24*time.Hour, "delete entries that started before now minus this duration")
	cmd.AddCommand(prune)

	return cmd
}

func historyRun(cmd *cobra.Command, args []string) error {
	if globalJournal == nil {
		return fmt.Errorf("journal disabled: set journal.db_path in the config file")
	}

	var owner, repo string
	if len(args) == 1 {
		var err error
		owner, repo, err = parseRepoArg(args[0])
		if err != nil {
			return err
		}
	}

	entries, err := globalJournal.List(cmd.Context(), owner, repo, historyLimit)
	if err != nil {
		return fmt.Errorf("listing history: %w", err)
	}

	if len(entries) == 0 {
		fmt.Println("No acquisitions recorded.")
		return nil
	}

	fmt.Println("Acquisition History")
	fmt.Println("===================")
	fmt.Println("")
	fmt.Printf("%-20s %-28s %-24s %-8s %-9s %-10s %s\n", "Started", "Repository", "Ref", "Status", "Transport", "Size", "Duration")
	fmt.Println(strings.Repeat("-", 112))
	for _, e := range entries {
		ref := e.Ref
		if e.Commit != "" {
			ref = e.Commit
		}
		transport := e.Transport
		if transport == "" {
			transport = "-"
		}
		fmt.Printf("%-20s %-28s %-24s %-8s %-9s %-10s %s\n",
			e.StartTime.Local().Format("2006-01-02 15:04:05"),
			e.Owner+"/"+e.Repo,
			ref,
			e.Status,
			transport,
			humanize.Bytes(uint64(e.Bytes)),
			e.Duration().Round(time.Millisecond),
		)
		if e.ErrorMessage != "" {
			fmt.Printf("  error: %s\n", e.ErrorMessage)
		}
	}
	fmt.Println("")

	return nil
}

func historyPruneRun(cmd *cobra.Command, args []string) error {
	if globalJournal == nil {
		return fmt.Errorf("journal disabled: set journal.db_path in the config file")
	}

	cutoff := time.Now().Add(-historyOlderThan)
	n, err := globalJournal.Prune(cmd.Context(), cutoff)
	if err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}
	fmt.Printf("Removed %d entries recorded before %s\n", n, humanize.Time(cutoff))
	return nil
}
