// Package main provides the entry point for the realtime voice client.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/voxline/go-realtime-voice/internal/app"
	"github.com/voxline/go-realtime-voice/internal/capture"
	"github.com/voxline/go-realtime-voice/internal/config"
	"github.com/voxline/go-realtime-voice/internal/infrastructure"
	"github.com/voxline/go-realtime-voice/internal/playback"
	"github.com/voxline/go-realtime-voice/internal/session"
	"github.com/voxline/go-realtime-voice/internal/telemetry"
	"github.com/voxline/go-realtime-voice/internal/voicechat"
	"github.com/voxline/go-realtime-voice/pkg/faults"
	pkginfra "github.com/voxline/go-realtime-voice/pkg/infrastructure"

	"go.uber.org/fx"
)

func main() {
	// Set a default config path. This can be overridden by environment variables or flags if needed.
	configPath := "config.yaml"

	application := app.New(
		// Core modules
		config.Module,
		infrastructure.LoggerModule,
		telemetry.Module,

		// Audio and session modules
		capture.Module,
		playback.Module,
		session.Module,
		voicechat.Module,

		fx.Provide(faults.NewNotifier),

		// Supply the config path
		fx.Supply(configPath),

		// Configure Fx to use our Zap logger for its own internal logging
		fx.WithLogger(pkginfra.NewFxLoggerAdapter),
	)

	// Set up a channel to listen for OS signals (like Ctrl+C)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go application.Run()

	sig := <-sigCh
	fmt.Printf("Received signal: %s, initiating shutdown.\n", sig)

	// Give the application 30 seconds to shut down gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	err := application.Stop(shutdownCtx)
	cancel()

	if err != nil {
		fmt.Printf("Error during shutdown: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Application has shut down gracefully.")
}
