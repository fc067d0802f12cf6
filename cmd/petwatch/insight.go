package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/companionbot/petwatch/internal/view"
)

func runInsight(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	client, err := deviceClient(cmd)
	if err != nil {
		return formatter.Error("cannot resolve device", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
	defer cancel()

	insight, err := client.EmotionInsight(ctx)
	if err != nil {
		return formatter.Error("insight fetch failed", err)
	}

	if formatter.jsonMode {
		return formatter.Print(insight)
	}

	if insight.IsZero() {
		fmt.Println("No analysis available yet.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()
	fmt.Fprintf(w, "Headline:\t%s\n", dash(insight.Headline))
	fmt.Fprintf(w, "Mood:\t%s\n", dash(insight.Mood))
	fmt.Fprintf(w, "Energy:\t%s\n", dash(insight.Energy))
	fmt.Fprintf(w, "Details:\t%s\n", dash(insight.Details))
	fmt.Fprintf(w, "Advice:\t%s\n", dash(insight.Advice))
	if insight.Confidence != nil {
		fmt.Fprintf(w, "Confidence:\t%.0f%%\n", *insight.Confidence*100)
	}
	if insight.UpdatedAt != nil {
		fmt.Fprintf(w, "Updated:\t%s\n", view.RelTime(*insight.UpdatedAt, time.Now()))
	}
	return nil
}
