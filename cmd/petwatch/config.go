package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/ssh/terminal"

	"github.com/companionbot/petwatch/internal/config/store"
	"github.com/companionbot/petwatch/internal/device"
	"github.com/companionbot/petwatch/internal/endpoint"
)

// newConfigCommand assembles the `petwatch config` subtree.
func newConfigCommand() *cobra.Command {
	configCmd := &cobra.Command{
		Use:           "config",
		Short:         "Manage console configuration",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	addressCmd := &cobra.Command{
		Use:           "address",
		Short:         "Show the configured device address",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configAddressShow,
	}

	addressSetCmd := &cobra.Command{
		Use:           "set [address]",
		Short:         "Set the device address (host, host:port, or full URL)",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configAddressSet,
	}

	addressTestCmd := &cobra.Command{
		Use:           "test [address]",
		Short:         "Test connectivity to the configured or given address",
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configAddressTest,
	}
	addressCmd.AddCommand(addressSetCmd, addressTestCmd)

	gatewayCmd := &cobra.Command{
		Use:           "gateway",
		Short:         "Configure the local dashboard gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configGateway,
	}
	gatewayCmd.Flags().String("listen", "", "Gateway listen address (e.g. 127.0.0.1:8800)")

	tokenCmd := &cobra.Command{
		Use:           "token",
		Short:         "Set or clear the dashboard access token",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          configToken,
	}
	tokenCmd.Flags().Bool("clear", false, "Remove the stored token (gateway becomes open)")

	configCmd.AddCommand(addressCmd, gatewayCmd, tokenCmd)
	return configCmd
}

func configAddressShow(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	cfg := loadStoredConfig(ctx)

	if cfg.DeviceAddress == "" {
		return formatter.Success("No device address configured.", map[string]interface{}{"address": ""})
	}

	resolved := ""
	if ep, err := endpoint.Resolve(cfg.DeviceAddress); err == nil {
		resolved = ep.String()
	}
	if formatter.jsonMode {
		return formatter.Print(map[string]string{
			"address":  cfg.DeviceAddress,
			"resolved": resolved,
		})
	}
	fmt.Printf("Address:  %s\n", cfg.DeviceAddress)
	if resolved != "" {
		fmt.Printf("Resolved: %s\n", resolved)
	}
	return nil
}

func configAddressSet(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)
	raw := strings.TrimSpace(args[0])

	ep, err := endpoint.Resolve(raw)
	if err != nil {
		return formatter.Error(fmt.Sprintf("invalid address %q", raw), err)
	}

	st, err := store.Open(store.Options{})
	if err != nil {
		return formatter.Error("cannot open config store", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	cfg := st.LoadConfig(ctx)
	cfg.DeviceAddress = raw
	if err := st.SaveConfig(ctx, cfg); err != nil {
		return formatter.Error("cannot save address", err)
	}

	return formatter.Success(fmt.Sprintf("Device address saved (%s).", ep.String()), map[string]interface{}{
		"address":  raw,
		"resolved": ep.String(),
	})
}

func configAddressTest(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	ctx, cancel := context.WithTimeout(cmd.Context(), oneShotTimeout)
	defer cancel()

	raw := ""
	if len(args) > 0 {
		raw = args[0]
	} else {
		raw = loadStoredConfig(ctx).DeviceAddress
	}

	ep, err := endpoint.Resolve(raw)
	if err != nil {
		return formatter.Error(fmt.Sprintf("invalid address %q", raw), err)
	}

	start := time.Now()
	snap, err := device.New(ep).Status(ctx)
	if err != nil {
		return formatter.Error(fmt.Sprintf("connection to %s failed", ep.String()), err)
	}

	return formatter.Success(
		fmt.Sprintf("Connected to %s in %s (mode: %s).", ep.String(), time.Since(start).Round(time.Millisecond), dash(snap.Mode)),
		map[string]interface{}{
			"resolved": ep.String(),
			"mode":     snap.Mode,
		},
	)
}

func configGateway(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	st, err := store.Open(store.Options{})
	if err != nil {
		return formatter.Error("cannot open config store", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	listen, _ := cmd.Flags().GetString("listen")
	if listen == "" {
		value, err := st.Setting(ctx, store.KeyGatewayListen)
		switch {
		case store.IsNotFound(err) || (err == nil && value == ""):
			return formatter.Success("Gateway uses the default listen address.", map[string]interface{}{"listen": ""})
		case err != nil:
			return formatter.Error("cannot read gateway address", err)
		}
		return formatter.Success(fmt.Sprintf("Gateway listen address: %s", value), map[string]interface{}{
			"listen": value,
		})
	}

	cfg := st.LoadConfig(ctx)
	cfg.GatewayListen = listen
	if err := st.SaveConfig(ctx, cfg); err != nil {
		return formatter.Error("cannot save gateway address", err)
	}
	return formatter.Success(fmt.Sprintf("Gateway listen address saved (%s).", listen), map[string]interface{}{
		"listen": listen,
	})
}

func configToken(cmd *cobra.Command, args []string) error {
	formatter := newOutputFormatter(cmd)

	st, err := store.Open(store.Options{})
	if err != nil {
		return formatter.Error("cannot open config store", err)
	}
	defer st.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	cfg := st.LoadConfig(ctx)

	if clear, _ := cmd.Flags().GetBool("clear"); clear {
		cfg.GatewayTokenHash = ""
		if err := st.SaveConfig(ctx, cfg); err != nil {
			return formatter.Error("cannot clear token", err)
		}
		return formatter.Success("Dashboard token cleared; the gateway is now open.", nil)
	}

	token, err := promptToken()
	if err != nil {
		return formatter.Error("cannot read token", err)
	}
	if token == "" {
		return formatter.Error("empty token; use --clear to remove the existing one", nil)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return formatter.Error("cannot hash token", err)
	}
	cfg.GatewayTokenHash = string(hash)
	if err := st.SaveConfig(ctx, cfg); err != nil {
		return formatter.Error("cannot save token", err)
	}
	return formatter.Success("Dashboard token saved.", nil)
}

// promptToken reads the token without echoing when stdin is a terminal,
// falling back to a plain line read for piped input.
func promptToken() (string, error) {
	fmt.Fprint(os.Stderr, "Dashboard token: ")
	defer fmt.Fprintln(os.Stderr)

	if terminal.IsTerminal(0) {
		raw, err := terminal.ReadPassword(0)
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(string(raw)), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
