package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

// newCommandGroup assembles the `petwatch cmd` subtree: every control
// action the device understands, dispatched as a one-shot POST.
func newCommandGroup() *cobra.Command {
	cmdGroup := &cobra.Command{
		Use:           "cmd",
		Short:         "Send control commands to the robot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	for _, action := range []struct {
		use    string
		short  string
		action string
	}{
		{"start", "Start following the pet", "start"},
		{"stop", "Stop following and halt motion", "stop"},
		{"reset", "Reset the tracking state", "reset"},
		{"celebrate", "Play the celebration routine", "celebrate"},
		{"search", "Force a search sweep for the pet", "force_search"},
		{"capture", "Capture one camera frame", "capture_frame"},
	} {
		action := action
		cmdGroup.AddCommand(&cobra.Command{
			Use:           action.use,
			Short:         action.short,
			SilenceUsage:  true,
			SilenceErrors: true,
			RunE: func(cmd *cobra.Command, args []string) error {
				return dispatch(cmd, action.action, nil)
			},
		})
	}

	recordCmd := &cobra.Command{
		Use:           "record",
		Short:         "Record a video clip",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			duration, _ := cmd.Flags().GetFloat64("duration")
			return dispatch(cmd, "record_video", map[string]any{"duration": duration})
		},
	}
	recordCmd.Flags().Float64("duration", 10.0, "Clip duration in seconds")

	markCmd := &cobra.Command{
		Use:           "mark [note]",
		Short:         "Mark a notable event in the activity log",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{}
			if len(args) > 0 {
				params["note"] = args[0]
			}
			return dispatch(cmd, "mark_event", params)
		},
	}

	driveCmd := &cobra.Command{
		Use:           "drive [direction]",
		Short:         "Drive manually (forward, backward, left, right)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			speed, _ := cmd.Flags().GetInt("speed")
			duration, _ := cmd.Flags().GetFloat64("duration")
			return dispatch(cmd, "manual_drive", map[string]any{
				"direction": args[0],
				"speed":     speed,
				"duration":  duration,
			})
		},
	}
	driveCmd.Flags().Int("speed", 40, "Drive speed (0-100)")
	driveCmd.Flags().Float64("duration", 0.8, "Burst duration in seconds")

	autoRecordCmd := &cobra.Command{
		Use:           "auto-record",
		Short:         "Configure the automatic recording schedule",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			params := map[string]any{}
			if cmd.Flags().Changed("enabled") {
				enabled, _ := cmd.Flags().GetBool("enabled")
				params["enabled"] = enabled
			}
			if cmd.Flags().Changed("interval") {
				interval, _ := cmd.Flags().GetFloat64("interval")
				params["interval"] = interval
			}
			if len(params) == 0 {
				return fmt.Errorf("nothing to change; pass --enabled and/or --interval")
			}
			return dispatch(cmd, "auto_recording", params)
		},
	}
	autoRecordCmd.Flags().Bool("enabled", true, "Enable or disable automatic recording")
	autoRecordCmd.Flags().Float64("interval", 0, "Recording interval in seconds")

	cmdGroup.AddCommand(recordCmd, markCmd, driveCmd, autoRecordCmd)
	return cmdGroup
}

func dispatch(cmd *cobra.Command, action string, params map[string]any) error {
	formatter := newOutputFormatter(cmd)

	client, err := deviceClient(cmd)
	if err != nil {
		return formatter.Error("cannot resolve device", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
	defer cancel()

	result, err := client.Command(ctx, action, params)
	if err != nil {
		return formatter.Error(fmt.Sprintf("command %s failed", action), err)
	}

	data := map[string]interface{}{"action": action}
	if result.State != nil {
		data["mode"] = result.State.Mode
	}
	return formatter.Success(result.Status, data)
}
