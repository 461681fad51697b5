package dedup

import (
	"context"
	"time"

	"github.com/trickstertwo/xawala"
	"github.com/trickstertwo/xclock"
)

// Middleware returns an IncomingMiddleware that acknowledges, without calling
// the handler, parcels already seen or already expired.
//
// A parcel whose handler fails is forgotten so that its redelivery is processed.
func Middleware(filter Filter) xawala.IncomingMiddleware {
	return func(next xawala.IncomingHandler) xawala.IncomingHandler {
		return func(ctx context.Context, msg xawala.IncomingServiceMessage) error {
			now := nowFromContext(ctx)
			logger, _ := xawala.LoggerFromContext(ctx)

			if msg.Expired(now) {
				if logger != nil {
					logger.Warn().
						Str("parcel_id", msg.ParcelID).
						Str("expiry", xawala.FormatTimestamp(msg.ExpiryDate)).
						Msg("dropping expired parcel")
				}
				return nil
			}

			seen, err := filter.Seen(ctx, msg.ParcelID, msg.ExpiryDate)
			if err != nil {
				return err
			}
			if seen {
				if logger != nil {
					logger.Debug().
						Str("parcel_id", msg.ParcelID).
						Msg("skipping duplicate parcel")
				}
				return nil
			}

			if err := next(ctx, msg); err != nil {
				_ = filter.Forget(context.WithoutCancel(ctx), msg.ParcelID)
				return err
			}
			return nil
		}
	}
}

func nowFromContext(ctx context.Context) time.Time {
	if c, ok := xawala.ClockFromContext(ctx); ok {
		return c.Now()
	}
	return xclock.Default().Now()
}
