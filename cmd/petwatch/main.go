package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	petwatchversion "github.com/companionbot/petwatch/internal/version"
)

var rootCmd *cobra.Command

// OutputFormatter handles output in JSON or human-readable format
type OutputFormatter struct {
	jsonMode bool
}

// newOutputFormatter creates a new formatter based on the command's --json flag
func newOutputFormatter(cmd *cobra.Command) *OutputFormatter {
	jsonMode, _ := cmd.Flags().GetBool("json")
	return &OutputFormatter{jsonMode: jsonMode}
}

// Print outputs data in the appropriate format
func (f *OutputFormatter) Print(data interface{}) error {
	if f.jsonMode {
		jsonBytes, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal JSON: %w", err)
		}
		fmt.Println(string(jsonBytes))
	} else {
		switch v := data.(type) {
		case string:
			fmt.Println(v)
		default:
			jsonBytes, _ := json.MarshalIndent(data, "", "  ")
			fmt.Println(string(jsonBytes))
		}
	}
	return nil
}

// Success outputs a success message
func (f *OutputFormatter) Success(message string, data map[string]interface{}) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": true,
			"message": message,
		}
		for k, v := range data {
			output[k] = v
		}
		return f.Print(output)
	}
	fmt.Println(message)
	return nil
}

// Error outputs an error message
func (f *OutputFormatter) Error(message string, err error) error {
	if f.jsonMode {
		output := map[string]interface{}{
			"success": false,
			"error":   message,
		}
		if err != nil {
			output["details"] = err.Error()
		}
		jsonBytes, _ := json.MarshalIndent(output, "", "  ")
		fmt.Fprintln(os.Stderr, string(jsonBytes))
	} else {
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %v\n", message, err)
		} else {
			fmt.Fprintln(os.Stderr, message)
		}
	}
	if err != nil {
		return fmt.Errorf("%s: %w", message, err)
	}
	return fmt.Errorf("%s", message)
}

func init() {
	rootCmd = &cobra.Command{
		Use:   "petwatch",
		Short: "Petwatch - telemetry and control console for a pet-follower robot",
		Long: `Petwatch is a console for a remote pet-follower robot. It keeps one
live picture of the robot's state by polling its control server and
listening to its push event stream, and it can relay commands and serve
a local dashboard over WebSocket.`,
	}
	rootCmd.Version = petwatchversion.String()
	rootCmd.SetVersionTemplate("{{printf \"%s\\n\" .Version}}")

	rootCmd.PersistentFlags().Bool("json", false, "Output in JSON format")
	rootCmd.PersistentFlags().String("address", "", "Device address override (host, host:port, or full URL)")
}

func main() {
	consoleCmd := &cobra.Command{
		Use:           "console",
		Short:         "Run the live console (pollers, event stream, local dashboard gateway)",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runConsole,
	}
	consoleCmd.Flags().String("listen", "", "Dashboard gateway listen address (default 127.0.0.1:8800)")
	consoleCmd.Flags().Bool("no-gateway", false, "Disable the local dashboard gateway")

	statusCmd := &cobra.Command{
		Use:           "status",
		Short:         "Fetch one telemetry snapshot",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runStatus,
	}

	logsCmd := &cobra.Command{
		Use:           "logs",
		Short:         "Fetch today's activity log",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runLogs,
	}
	logsCmd.Flags().Int("limit", 0, "Show at most N entries (0 = all)")

	insightCmd := &cobra.Command{
		Use:           "insight",
		Short:         "Fetch the latest behaviour analysis",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runInsight,
	}

	rootCmd.AddCommand(
		consoleCmd,
		statusCmd,
		logsCmd,
		insightCmd,
		newCommandGroup(),
		newConfigCommand(),
		newVersionCommand(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
