package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/companionbot/petwatch/internal/config/store"
	"github.com/companionbot/petwatch/internal/device"
	"github.com/companionbot/petwatch/internal/endpoint"
)

const oneShotTimeout = 15 * time.Second

// loadStoredConfig opens the config store and reads the persisted
// console configuration. A missing or unreadable store reads as the
// empty config.
func loadStoredConfig(ctx context.Context) store.Config {
	st, err := store.Open(store.Options{})
	if err != nil {
		return store.Config{}
	}
	defer st.Close()
	return st.LoadConfig(ctx)
}

// resolveDeviceEndpoint picks the device address, preferring the
// --address flag over the stored configuration, and resolves it into a
// canonical endpoint.
func resolveDeviceEndpoint(cmd *cobra.Command, cfg store.Config) (endpoint.Endpoint, error) {
	raw, _ := cmd.Flags().GetString("address")
	if raw == "" {
		raw = cfg.DeviceAddress
	}
	ep, err := endpoint.Resolve(raw)
	if err != nil {
		if errors.Is(err, endpoint.ErrInvalid) && raw == "" {
			return endpoint.Endpoint{}, fmt.Errorf("no device address configured; run 'petwatch config address set <address>' or pass --address")
		}
		return endpoint.Endpoint{}, fmt.Errorf("invalid device address %q: %w", raw, err)
	}
	return ep, nil
}

// deviceClient builds a one-shot client for CLI commands.
func deviceClient(cmd *cobra.Command) (*device.Client, error) {
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()
	cfg := loadStoredConfig(ctx)
	ep, err := resolveDeviceEndpoint(cmd, cfg)
	if err != nil {
		return nil, err
	}
	return device.New(ep), nil
}
