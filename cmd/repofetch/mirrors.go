package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func newMirrorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mirrors",
		Short: "Probe configured mirrors and show the one that would be used",
		Long: `Probe every configured mirror candidate through the probe URL and print
reachability and latency. The fastest reachable mirror is the one automatic
selection would pick.`,
		Example: `  repofetch mirrors
  REPOFETCH_MIRRORS=https://a.example,https://b.example repofetch mirrors`,
		Args: cobra.NoArgs,
		RunE: mirrorsRun,
	}

	return cmd
}

func mirrorsRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}

	sel, err := newSelector(globalCfg)
	if err != nil {
		return err
	}
	if sel == nil {
		fmt.Println("No mirror candidates configured.")
		return nil
	}

	wait := globalCfg.Mirror.MaxProbeWait
	if wait <= 0 {
		wait = 2 * globalCfg.Mirror.ProbeTimeout
	}
	ctx, cancel := withTimeout(cmd.Context(), wait)
	defer cancel()

	detection := sel.Refresh(ctx)
	best := detection.Best

	fmt.Println("Mirror Candidates")
	fmt.Println("=================")
	fmt.Println("")
	fmt.Printf("%-40s %-10s %-10s %s\n", "Mirror", "Available", "Latency", "Reason")
	fmt.Println(strings.Repeat("-", 76))
	for _, r := range detection.Results {
		available := "no"
		latency := "-"
		if r.Available {
			available = "yes"
			latency = r.Latency.Round(time.Millisecond).String()
		}
		fmt.Printf("%-40s %-10s %-10s %s\n", r.Mirror, available, latency, r.Reason)
	}
	fmt.Println("")

	if best == nil {
		fmt.Println("Selected: none (downloads go direct)")
		return nil
	}
	fmt.Printf("Selected: %s\n", best)
	return nil
}
