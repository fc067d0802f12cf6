package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/companionbot/petwatch/internal/channels"
	"github.com/companionbot/petwatch/internal/config/store"
	"github.com/companionbot/petwatch/internal/endpoint"
	"github.com/companionbot/petwatch/internal/eventbus"
	"github.com/companionbot/petwatch/internal/gateway"
	"github.com/companionbot/petwatch/internal/view"
)

// EnvLocalOrigin names the device's own control origin when the console
// runs co-resident on the robot. With it set, an empty stored address
// adopts the local origin, and a stored address that points at the same
// host on a different port is corrected to it.
const EnvLocalOrigin = "PETWATCH_LOCAL_ORIGIN"

func runConsole(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := store.Open(store.Options{})
	if err != nil {
		return fmt.Errorf("open config store: %w", err)
	}
	defer st.Close()

	cfg := st.LoadConfig(ctx)

	ep, err := consoleEndpoint(cmd, cfg.DeviceAddress)
	if err != nil {
		return err
	}

	bus := eventbus.New()
	defer bus.Shutdown()

	manager := channels.NewManager(bus)

	var hub *gateway.Hub
	reconciler := view.NewReconciler(bus, view.WithOnUpdate(func(m view.Model) {
		if hub != nil {
			hub.BroadcastModel(m)
		}
	}))

	// Address saves arrive from the gateway; the console reacts by
	// re-resolving and restarting every channel against the new
	// endpoint, which also tears down the old event stream.
	savedSub := eventbus.SubscribeTo(bus, eventbus.ConfigSavedDef, eventbus.WithContext(ctx), eventbus.WithSubscriptionName("console.config"))
	defer savedSub.Close()

	if noGateway, _ := cmd.Flags().GetBool("no-gateway"); !noGateway {
		listen, _ := cmd.Flags().GetString("listen")
		if listen == "" {
			listen = cfg.GatewayListen
		}
		srv := gateway.NewServer(gateway.Options{
			Listen:    listen,
			Models:    reconciler,
			Manager:   manager,
			TokenHash: cfg.GatewayTokenHash,
			DeviceAddress: func() string {
				loadCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return st.LoadConfig(loadCtx).DeviceAddress
			},
			SaveAddress: func(saveCtx context.Context, raw string) error {
				current := st.LoadConfig(saveCtx)
				current.DeviceAddress = raw
				if err := st.SaveConfig(saveCtx, current); err != nil {
					return err
				}
				eventbus.Publish(saveCtx, bus, eventbus.ConfigSavedDef, eventbus.SourceConfig,
					eventbus.ConfigSaved{DeviceAddress: raw})
				return nil
			},
		})
		if err := srv.Start(); err != nil {
			return fmt.Errorf("start gateway: %w", err)
		}
		hub = srv.Hub()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
	}

	reconciler.Start()
	defer reconciler.Stop()

	manager.Start(ep)
	defer manager.Stop()

	log.Printf("[Console] watching %s", ep.String())

	eventbus.Consume(ctx, savedSub, nil, func(saved eventbus.ConfigSaved) {
		newEP, err := consoleEndpoint(cmd, saved.DeviceAddress)
		if err != nil {
			log.Printf("[Console] saved address unusable, keeping %s: %v", ep.String(), err)
			return
		}
		// Every save reconnects, even to an unchanged endpoint; the old
		// stream is torn down before the new one opens.
		ep = newEP
		log.Printf("[Console] device address saved, reconnecting to %s", ep.String())
		manager.Start(ep)
	})

	log.Printf("[Console] shutting down")
	return nil
}

// consoleEndpoint resolves the effective device endpoint from the
// --address flag, the stored address, and the optional local origin.
func consoleEndpoint(cmd *cobra.Command, stored string) (endpoint.Endpoint, error) {
	raw, _ := cmd.Flags().GetString("address")
	if raw == "" {
		raw = stored
	}

	ep, err := endpoint.ResolveWithLocal(raw, os.Getenv(EnvLocalOrigin))
	if err != nil {
		if raw == "" {
			return endpoint.Endpoint{}, fmt.Errorf("no device address configured; run 'petwatch config address set <address>' or pass --address")
		}
		return endpoint.Endpoint{}, fmt.Errorf("invalid device address %q: %w", raw, err)
	}
	return ep, nil
}
