package xawala

import (
	"time"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cloudeventstypes "github.com/cloudevents/sdk-go/v2/types"
	"github.com/google/uuid"
	"github.com/trickstertwo/xclock"
)

const (
	IncomingServiceMessageType = "tech.relaycorp.awala.endpoint-internet.incoming-service-message"
	OutgoingServiceMessageType = "tech.relaycorp.awala.endpoint-internet.outgoing-service-message"

	// ExpiryExtension is the CloudEvents extension attribute carrying the parcel expiry.
	ExpiryExtension = "expiry"

	// OutgoingMessageTTLMonths is the default lifetime of an outgoing message.
	OutgoingMessageTTLMonths = 3

	// DefaultSenderID is the source used when an outgoing message has no sender;
	// the Internet endpoint replaces it with its own default endpoint.
	DefaultSenderID = "default"
)

// Clock reads the current time. xclock.Clock satisfies it.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a plain function to Clock.
type ClockFunc func() time.Time

func (f ClockFunc) Now() time.Time { return f() }

// IDGenerator returns a fresh unique event id.
type IDGenerator func() string

// Converter maps service messages to and from CloudEvents.
// It holds no mutable state and is safe for concurrent use.
type Converter struct {
	clock Clock
	newID IDGenerator
}

// ConverterOption configures a Converter.
type ConverterOption func(*Converter)

// WithClock sets the time source used for creation and expiry defaults.
func WithClock(c Clock) ConverterOption {
	return func(cv *Converter) {
		if c != nil {
			cv.clock = c
		}
	}
}

// WithIDGenerator sets the generator used when an outgoing message has no parcel id.
func WithIDGenerator(g IDGenerator) ConverterOption {
	return func(cv *Converter) {
		if g != nil {
			cv.newID = g
		}
	}
}

// NewConverter returns a Converter using xclock.Default() and random UUIDs unless overridden.
func NewConverter(opts ...ConverterOption) *Converter {
	cv := &Converter{
		clock: xclock.Default(),
		newID: uuid.NewString,
	}
	for _, o := range opts {
		if o != nil {
			o(cv)
		}
	}
	return cv
}

// MakeIncomingServiceMessage converts an incoming CloudEvent into a service message.
// Checks run in a fixed order and the first failure is returned.
func (c *Converter) MakeIncomingServiceMessage(evt cloudevents.Event) (IncomingServiceMessage, error) {
	if evt.Type() != IncomingServiceMessageType {
		return IncomingServiceMessage{}, ErrInvalidEventType
	}
	if evt.Subject() == "" {
		return IncomingServiceMessage{}, ErrMissingRecipient
	}
	rawExpiry, ok := evt.Extensions()[ExpiryExtension]
	if !ok || rawExpiry == nil {
		return IncomingServiceMessage{}, ErrMissingExpiry
	}
	if evt.DataContentType() == "" {
		return IncomingServiceMessage{}, ErrMissingContentType
	}
	data := evt.Data()
	if data == nil {
		return IncomingServiceMessage{}, ErrMissingContent
	}
	if evt.Time().IsZero() {
		return IncomingServiceMessage{}, ErrMissingCreationDate
	}
	expiry, err := cloudeventstypes.ToTime(rawExpiry)
	if err != nil {
		return IncomingServiceMessage{}, ErrInvalidExpiry
	}

	return IncomingServiceMessage{
		ServiceMessage: ServiceMessage{
			SenderID:    evt.Source(),
			RecipientID: evt.Subject(),
			ContentType: evt.DataContentType(),
			Content:     data,
		},
		ParcelID:     evt.ID(),
		CreationDate: evt.Time(),
		ExpiryDate:   expiry,
	}, nil
}

// MakeOutgoingCloudEvent converts an outgoing service message into a CloudEvent,
// defaulting the parcel id, creation date, expiry date and sender.
func (c *Converter) MakeOutgoingCloudEvent(msg OutgoingServiceMessage) cloudevents.Event {
	now := c.clock.Now()

	creation := now
	if msg.CreationDate != nil {
		creation = *msg.CreationDate
	}
	expiry := addMonths(creation.UTC(), OutgoingMessageTTLMonths)
	if msg.ExpiryDate != nil {
		expiry = *msg.ExpiryDate
	}
	id := msg.ParcelID
	if id == "" {
		id = c.newID()
	}
	source := msg.SenderID
	if source == "" {
		source = DefaultSenderID
	}

	evt := cloudevents.NewEvent()
	evt.SetType(OutgoingServiceMessageType)
	evt.SetID(id)
	evt.SetTime(creation)
	evt.SetExtension(ExpiryExtension, FormatTimestamp(expiry))
	evt.SetSource(source)
	evt.SetSubject(msg.RecipientID)
	// []byte payloads are stored verbatim and cannot fail to encode.
	_ = evt.SetData(msg.ContentType, msg.Content)
	return evt
}

// FormatTimestamp renders t as an RFC 3339 (ISO-8601) UTC timestamp without losing precision.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// ParseTimestamp parses an RFC 3339 (ISO-8601) timestamp, with or without fractional seconds.
func ParseTimestamp(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

// addMonths adds calendar months, clamping the day to the end of the target month.
func addMonths(t time.Time, months int) time.Time {
	y, m, d := t.Date()
	first := time.Date(y, m+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := daysIn(first.Year(), first.Month()); d > last {
		d = last
	}
	return first.AddDate(0, 0, d-1)
}

func daysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}
