package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	petwatchversion "github.com/companionbot/petwatch/internal/version"
)

// captureStdout runs fn with stdout redirected to a pipe and returns the output.
// Reading happens in a goroutine to avoid deadlock if output exceeds the pipe buffer.
// WARNING: Modifies the global os.Stdout — incompatible with t.Parallel().
func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	oldStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("os.Pipe: %v", err)
	}
	os.Stdout = w
	t.Cleanup(func() { os.Stdout = oldStdout })

	ch := make(chan string, 1)
	go func() {
		var buf bytes.Buffer
		buf.ReadFrom(r)
		ch <- buf.String()
	}()

	fn()
	w.Close()

	return <-ch
}

func versionRoot(address string) *cobra.Command {
	root := &cobra.Command{Use: "petwatch"}
	root.PersistentFlags().Bool("json", false, "Output in JSON format")
	root.PersistentFlags().String("address", address, "Device address override")
	root.AddCommand(newVersionCommand())
	return root
}

func TestVersionCommandDeviceUnavailable(t *testing.T) {
	t.Setenv("PETWATCH_HOME", t.TempDir())

	output := captureStdout(t, func() {
		// Port 1 is never listening; the device check must fail fast.
		root := versionRoot("http://127.0.0.1:1")
		root.SetArgs([]string{"version"})
		_ = root.Execute()
	})

	consoleLine := "Console: " + petwatchversion.FormatVersion(petwatchversion.String())
	if !strings.Contains(output, consoleLine) {
		t.Errorf("output missing console version line %q, got:\n%s", consoleLine, output)
	}
	if !strings.Contains(output, "Device: unavailable (") {
		t.Errorf("output missing device status line with error detail, got:\n%s", output)
	}
}

func TestVersionCommandDeviceReachable(t *testing.T) {
	t.Setenv("PETWATCH_HOME", t.TempDir())

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/status" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"mode": "follow", "message": "tracking"}`))
	}))
	defer srv.Close()

	output := captureStdout(t, func() {
		root := versionRoot(srv.URL)
		root.SetArgs([]string{"version"})
		_ = root.Execute()
	})

	if !strings.Contains(output, "Device: reachable (mode follow)") {
		t.Errorf("expected reachable device with mode, got:\n%s", output)
	}
}

func TestVersionCommandJSONOutput(t *testing.T) {
	t.Setenv("PETWATCH_HOME", t.TempDir())

	output := captureStdout(t, func() {
		root := versionRoot("http://127.0.0.1:1")
		root.SetArgs([]string{"version", "--json"})
		_ = root.Execute()
	})

	var result map[string]interface{}
	if err := json.Unmarshal([]byte(strings.TrimSpace(output)), &result); err != nil {
		t.Fatalf("JSON output is not valid JSON: %v\nOutput:\n%s", err, output)
	}

	consoleVal, ok := result["console"]
	if !ok {
		t.Error("JSON output missing 'console' key")
	} else if consoleVal != petwatchversion.String() {
		t.Errorf("console = %v, want %q", consoleVal, petwatchversion.String())
	}

	deviceVal, ok := result["device"]
	if !ok {
		t.Error("JSON output missing 'device' key")
	} else if deviceVal != nil {
		t.Errorf("device = %v, want nil (device unreachable)", deviceVal)
	}
	if _, ok := result["device_error"]; !ok {
		t.Error("device_error key absent for unreachable device")
	}
}
