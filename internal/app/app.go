// Package app provides the main application structure and lifecycle management.
package app

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/voxline/go-realtime-voice/internal/voicechat"
)

// Application represents the main application with its lifecycle.
type Application struct {
	app *fx.App
}

// New creates a new Application with the provided modules and options.
func New(modules ...fx.Option) *Application {
	options := append(modules, fx.Invoke(registerLifecycleHooks))

	return &Application{
		app: fx.New(options...),
	}
}

// Run starts the application and blocks until it's stopped.
func (a *Application) Run() {
	a.app.Run()
}

// Stop gracefully stops the application.
func (a *Application) Stop(ctx context.Context) error {
	return a.app.Stop(ctx)
}

// registerLifecycleHooks ties the conversation service to the Fx lifecycle.
func registerLifecycleHooks(lc fx.Lifecycle, svc *voicechat.Service, logger *zap.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("Starting application: opening realtime session")

			if err := svc.Connect(ctx); err != nil {
				logger.Error("Failed to open realtime session", zap.Error(err))

				return err
			}

			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("Stopping application: closing realtime session")

			if err := svc.Shutdown(ctx); err != nil {
				logger.Error("Failed to shut down cleanly", zap.Error(err))

				return err
			}

			return nil
		},
	})
}
