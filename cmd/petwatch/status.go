package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/companionbot/petwatch/internal/telemetry"
	"github.com/companionbot/petwatch/internal/view"
)

func runStatus(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	client, err := deviceClient(cmd)
	if err != nil {
		return formatter.Error("cannot resolve device", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
	defer cancel()

	snap, err := client.Status(ctx)
	if err != nil {
		return formatter.Error("device unreachable", err)
	}

	if formatter.jsonMode {
		return formatter.Print(snap)
	}

	printSnapshot(snap)
	return nil
}

func printSnapshot(snap telemetry.Snapshot) {
	now := time.Now()
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	defer w.Flush()

	mode := snap.Mode
	if mode == "" {
		mode = view.DefaultUnknown
	}
	fmt.Fprintf(w, "Mode:\t%s\n", mode)
	fmt.Fprintf(w, "Message:\t%s\n", dash(snap.Message))
	fmt.Fprintf(w, "Target:\t%s\n", view.TargetSummary(snap.TargetVisible, snap.Detection))
	if snap.Safety.DistanceCM != nil {
		fmt.Fprintf(w, "Obstacle:\t%.0f cm\n", *snap.Safety.DistanceCM)
	} else {
		fmt.Fprintf(w, "Obstacle:\t%s\n", view.DefaultDash)
	}
	if snap.Safety.CliffDetected {
		fmt.Fprintf(w, "Cliff:\tDETECTED\n")
	}
	if snap.Motion.SafeToMove != nil && !*snap.Motion.SafeToMove {
		fmt.Fprintf(w, "Motion:\tblocked\n")
	}
	if snap.FPS > 0 {
		fmt.Fprintf(w, "FPS:\t%.1f\n", snap.FPS)
	}
	fmt.Fprintf(w, "Auto record:\t%s\n", view.AutoRecordSummary(snap.AutoRecording))
	fmt.Fprintf(w, "Smart snapshot:\t%s\n", view.SnapshotScheduleSummary(snap.SmartSnapshot))
	fmt.Fprintf(w, "Movement record:\t%s\n", view.MovementRecordSummary(snap.MovementRecording))
	fmt.Fprintf(w, "Fetched:\t%s\n", view.RelTime(snap.ReceivedAt, now))
}

func dash(s string) string {
	if s == "" {
		return view.DefaultDash
	}
	return s
}
