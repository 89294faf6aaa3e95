// TrackView Core - Fleet Tracking Engine
//
// This is the main entry point for the TrackView Core engine. It keeps
// a fleet of GPS-tracked devices and shared user locations synchronized
// from the backend's push channel, and serves historical playback over
// recorded movement. UI shells (web, mobile) embed or drive this core;
// the binary itself is headless.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/trackview/trackview-core/internal/api"
	"github.com/trackview/trackview-core/internal/channel"
	"github.com/trackview/trackview-core/internal/infrastructure/config"
	"github.com/trackview/trackview-core/internal/infrastructure/logging"
	"github.com/trackview/trackview-core/internal/playback"
	"github.com/trackview/trackview-core/internal/tracking"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Create a context that cancels on interrupt signals (Ctrl+C, SIGTERM)
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting TrackView Core",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Backend API client
	apiClient := api.New(cfg.Server)
	apiClient.SetLogger(log.With("component", "api"))

	// Push channel client
	chClient := channel.New(cfg.Channel)
	chClient.SetLogger(log.With("component", "channel"))
	defer func() {
		log.Info("disconnecting push channel")
		chClient.Disconnect()
	}()

	// Tracking store. The headless core has no platform location
	// source; UI shells inject their own Geolocator.
	store := tracking.New(cfg.Tracking, apiClient, chClient, unsupportedGeolocator{})
	store.SetLogger(log.With("component", "tracking"))
	store.Start()
	defer func() {
		log.Info("stopping tracking store")
		store.Close()
	}()

	// Playback controller
	ctrl := playback.New(cfg.Playback, apiClient)
	ctrl.SetLogger(log.With("component", "playback"))
	defer func() {
		log.Info("stopping playback")
		ctrl.Close()
	}()

	// Connect the push channel before seeding state, so device
	// subscriptions issued during the seed ride the live connection.
	if err := chClient.Connect(ctx, cfg.Server.Token); err != nil {
		return fmt.Errorf("connecting push channel: %w", err)
	}
	log.Info("push channel connected", "url", cfg.Channel.URL)

	// Seed the store: device registry, latest positions, shared users
	devices, err := apiClient.ListDevices(ctx)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}
	store.IngestDevices(ctx, devices)
	log.Info("device registry seeded", "devices", len(devices))

	users, err := apiClient.UserLocations(ctx)
	if err != nil {
		// Shared user locations are an enrichment, not a requirement.
		log.Warn("listing user locations failed", "error", err)
	} else {
		store.IngestSharedUsers(users)
		log.Info("shared user locations seeded", "users", len(users))
	}

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. Playback controller
	// 2. Tracking store
	// 3. Push channel

	log.Info("TrackView Core stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses TRACKVIEW_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("TRACKVIEW_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// unsupportedGeolocator is the headless core's Geolocator: there is no
// local position source, so every request fails as unavailable.
type unsupportedGeolocator struct{}

// CurrentLocation implements tracking.Geolocator.
func (unsupportedGeolocator) CurrentLocation(context.Context, tracking.GeoRequest) (tracking.UserLocation, error) {
	return tracking.UserLocation{}, &tracking.GeoError{
		Code: tracking.GeoPositionUnavailable,
		Err:  fmt.Errorf("no platform location source"),
	}
}
