package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	petwatchversion "github.com/companionbot/petwatch/internal/version"
)

func newVersionCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show console version and device reachability",
		RunE:  runVersion,
	}
	return cmd
}

func runVersion(cmd *cobra.Command, _ []string) error {
	out := newOutputFormatter(cmd)
	consoleVersion := petwatchversion.String()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	var deviceMode string
	var deviceReachable bool
	var deviceErr error
	client, err := deviceClient(cmd)
	if err == nil {
		snap, statusErr := client.Status(ctx)
		if statusErr == nil {
			deviceReachable = true
			deviceMode = snap.Mode
		} else {
			deviceErr = statusErr
		}
	} else {
		deviceErr = err
	}

	if out.jsonMode {
		data := map[string]any{
			"console": consoleVersion,
		}
		if deviceReachable {
			data["device"] = "reachable"
			if deviceMode != "" {
				data["device_mode"] = deviceMode
			}
		} else {
			data["device"] = nil
			if deviceErr != nil {
				data["device_error"] = deviceErr.Error()
			}
		}
		return out.Print(data)
	}

	fmt.Printf("Console: %s\n", petwatchversion.FormatVersion(consoleVersion))
	if deviceReachable {
		if deviceMode != "" {
			fmt.Printf("Device: reachable (mode %s)\n", deviceMode)
		} else {
			fmt.Println("Device: reachable")
		}
	} else {
		fmt.Printf("Device: unavailable (%v)\n", deviceErr)
	}

	return nil
}
