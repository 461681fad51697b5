package xawala

import (
	"github.com/trickstertwo/xlog"
)

// ObserverFunc is an Adapter that lets a plain function satisfy Observer.
type ObserverFunc func(e LifecycleEvent)

func (f ObserverFunc) OnEvent(e LifecycleEvent) { f(e) }

// LoggingObserver is an Adapter that emits lifecycle events via xlog.
type LoggingObserver struct {
	Logger *xlog.Logger
}

func (o LoggingObserver) OnEvent(e LifecycleEvent) {
	if o.Logger == nil {
		return
	}
	ev := o.Logger.With(
		xlog.Str("type", string(e.Type)),
		xlog.Str("topic", e.Topic),
		xlog.Str("group", e.Group),
		xlog.Str("message_id", e.MessageID),
		xlog.Str("event_name", e.EventName),
	)
	if e.ParcelID != "" {
		ev = ev.With(xlog.Str("parcel_id", e.ParcelID))
	}
	switch e.Type {
	case Error:
		ev.Error().Err(e.Err).Msg("xawala event")
	case Nack, Reject:
		ev.Warn().Err(e.Err).Msg("xawala event")
	default:
		if e.Duration > 0 {
			ev = ev.With(xlog.Dur("duration", e.Duration))
		}
		ev.Debug().Msg("xawala event")
	}
}
