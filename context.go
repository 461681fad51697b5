package xawala

import (
	"context"

	"github.com/trickstertwo/xclock"
	"github.com/trickstertwo/xlog"
)

// ctxKey is the base for all context keys in xawala (prevents collisions).
type ctxKey string

const (
	codecCtxKey     ctxKey = "xawala:codec"
	loggerCtxKey    ctxKey = "xawala:logger"
	clockCtxKey     ctxKey = "xawala:clock"
	converterCtxKey ctxKey = "xawala:converter"
)

func injectCodec(ctx context.Context, c Codec) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, codecCtxKey, c)
}

// CodecFromContext retrieves the Codec the endpoint decoded the current envelope with.
func CodecFromContext(ctx context.Context) (Codec, bool) {
	if v := ctx.Value(codecCtxKey); v != nil {
		if c, ok := v.(Codec); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

func injectLogger(ctx context.Context, l *xlog.Logger) context.Context {
	if l == nil {
		return ctx
	}
	return context.WithValue(ctx, loggerCtxKey, l)
}

func LoggerFromContext(ctx context.Context) (*xlog.Logger, bool) {
	if v := ctx.Value(loggerCtxKey); v != nil {
		if l, ok := v.(*xlog.Logger); ok && l != nil {
			return l, true
		}
	}
	return nil, false
}

func injectClock(ctx context.Context, c xclock.Clock) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, clockCtxKey, c)
}

func ClockFromContext(ctx context.Context) (xclock.Clock, bool) {
	if v := ctx.Value(clockCtxKey); v != nil {
		if c, ok := v.(xclock.Clock); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

func injectConverter(ctx context.Context, c *Converter) context.Context {
	if c == nil {
		return ctx
	}
	return context.WithValue(ctx, converterCtxKey, c)
}

// ConverterFromContext retrieves the Converter used by the endpoint, e.g. to send replies.
func ConverterFromContext(ctx context.Context) (*Converter, bool) {
	if v := ctx.Value(converterCtxKey); v != nil {
		if c, ok := v.(*Converter); ok && c != nil {
			return c, true
		}
	}
	return nil, false
}

// InjectAll is a convenience helper to inject all standard dependencies.
func InjectAll(ctx context.Context, codec Codec, logger *xlog.Logger, clock xclock.Clock, conv *Converter) context.Context {
	ctx = injectCodec(ctx, codec)
	ctx = injectLogger(ctx, logger)
	ctx = injectClock(ctx, clock)
	ctx = injectConverter(ctx, conv)
	return ctx
}
