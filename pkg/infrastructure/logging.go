// Package infrastructure provides reusable infrastructure components for Go applications.
package infrastructure

import (
	"strings"

	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// FxLoggerAdapter adapts a zap.SugaredLogger to the fxevent.Logger interface
// so Fx framework internals log through the application logger.
type FxLoggerAdapter struct {
	logger *zap.SugaredLogger
}

// NewFxLoggerAdapter creates a new Fx logger adapter that implements fxevent.Logger.
func NewFxLoggerAdapter(logger *zap.Logger) fxevent.Logger {
	return &FxLoggerAdapter{logger: logger.Sugar()}
}

// LogEvent implements fxevent.Logger.
func (p *FxLoggerAdapter) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		p.logger.Debugf("HOOK OnStart executing: %s, function: %s", e.CallerName, e.FunctionName)
	case *fxevent.OnStartExecuted:
		p.logHookResult("HOOK OnStart", e.CallerName, e.FunctionName, e.Err, e.Runtime.String())
	case *fxevent.OnStopExecuting:
		p.logger.Debugf("HOOK OnStop executing: %s, function: %s", e.CallerName, e.FunctionName)
	case *fxevent.OnStopExecuted:
		p.logHookResult("HOOK OnStop", e.CallerName, e.FunctionName, e.Err, e.Runtime.String())
	case *fxevent.Supplied:
		if e.Err != nil {
			p.logger.Errorf("SUPPLY failed: type: %s, error: %v", e.TypeName, e.Err)
		} else {
			p.logger.Debugf("SUPPLY: %s", e.TypeName)
		}
	case *fxevent.Provided:
		if e.Err != nil {
			p.logger.Errorf("PROVIDE failed: error: %v", e.Err)
		} else {
			p.logger.Debugf("PROVIDE: %s", strings.Join(e.OutputTypeNames, ", "))
		}
	case *fxevent.Invoking:
		p.logger.Debugf("INVOKE: %s", e.FunctionName)
	case *fxevent.Invoked:
		if e.Err != nil {
			p.logger.Errorf("INVOKE failed: %s, error: %v", e.FunctionName, e.Err)
		} else {
			p.logger.Debugf("INVOKE successful: %s", e.FunctionName)
		}
	case *fxevent.Stopping:
		p.logger.Infof("STOPPING: %s", e.Signal)
	case *fxevent.Stopped:
		p.logResult("STOPPED", e.Err)
	case *fxevent.RollingBack:
		p.logger.Errorf("ROLLING BACK: %v", e.StartErr)
	case *fxevent.RolledBack:
		p.logResult("ROLLED BACK", e.Err)
	case *fxevent.Started:
		p.logResult("STARTED", e.Err)
	case *fxevent.LoggerInitialized:
		if e.Err != nil {
			p.logger.Errorf("LOGGER INITIALIZED with error: %v", e.Err)
		} else {
			p.logger.Debugf("LOGGER INITIALIZED: %s", e.ConstructorName)
		}
	default:
		p.logger.Debugf("UNKNOWN Fx event: %T", event)
	}
}

func (p *FxLoggerAdapter) logHookResult(action, caller, function string, err error, runtime string) {
	if err != nil {
		p.logger.Errorf("%s failed: %s, function: %s, error: %v", action, caller, function, err)
	} else {
		p.logger.Debugf("%s executed: %s, function: %s, runtime: %s", action, caller, function, runtime)
	}
}

func (p *FxLoggerAdapter) logResult(action string, err error) {
	if err != nil {
		p.logger.Errorf("%s with error: %v", action, err)
	} else {
		p.logger.Info(action)
	}
}
