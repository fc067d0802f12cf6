package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func runLogs(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	client, err := deviceClient(cmd)
	if err != nil {
		return formatter.Error("cannot resolve device", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
	defer cancel()

	result, err := client.CloudLog(ctx)
	if err != nil {
		return formatter.Error("log fetch failed", err)
	}

	limit, _ := cmd.Flags().GetInt("limit")
	entries := result.Entries
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}

	if formatter.jsonMode {
		return formatter.Print(map[string]any{
			"log_path": result.Path,
			"entries":  entries,
		})
	}

	if len(entries) == 0 {
		fmt.Println("No log entries.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	for _, entry := range entries {
		ts := "-"
		if !entry.Timestamp.IsZero() {
			ts = entry.Timestamp.Local().Format("15:04:05")
		}
		source := entry.Source
		if source == "" {
			source = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ts, entry.Level, source, entry.Description)
	}
	if result.Path != "" {
		fmt.Fprintf(w, "\nLog file:\t%s\n", result.Path)
	}
	return nil
}
