package xawala

import (
	"encoding/json"
	"fmt"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	cloudeventstypes "github.com/cloudevents/sdk-go/v2/types"
)

const (
	// MetaContentType is the envelope metadata key holding the payload media type.
	MetaContentType = "content-type"
	// MetaAttributePrefix prefixes CloudEvents attributes carried as metadata in binary mode.
	MetaAttributePrefix = "ce-"

	// ContentTypeCloudEventsJSON is the media type of structured mode payloads.
	ContentTypeCloudEventsJSON = "application/cloudevents+json"
)

// Codec is the Strategy for putting CloudEvents on the wire.
type Codec interface {
	Encode(evt *cloudevents.Event) (*Envelope, error)
	Decode(env *Envelope) (*cloudevents.Event, error)
	Name() string
}

// StructuredCodec carries the whole event as a JSON document in the payload.
type StructuredCodec struct{}

func (StructuredCodec) Name() string { return "structured" }

func (StructuredCodec) Encode(evt *cloudevents.Event) (*Envelope, error) {
	b, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("encode structured event: %w", err)
	}
	return &Envelope{
		ID:       evt.ID(),
		Name:     evt.Type(),
		Payload:  b,
		Metadata: map[string]string{MetaContentType: ContentTypeCloudEventsJSON},
	}, nil
}

func (StructuredCodec) Decode(env *Envelope) (*cloudevents.Event, error) {
	evt := cloudevents.NewEvent()
	if err := json.Unmarshal(env.Payload, &evt); err != nil {
		return nil, fmt.Errorf("decode structured event: %w", err)
	}
	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("decode structured event: %w", err)
	}
	return &evt, nil
}

// BinaryCodec carries attributes as "ce-" metadata and the event data as the raw payload.
// An empty payload decodes as empty data when a content type is present
// and as an event without data otherwise.
type BinaryCodec struct{}

func (BinaryCodec) Name() string { return "binary" }

func (BinaryCodec) Encode(evt *cloudevents.Event) (*Envelope, error) {
	exts := evt.Extensions()
	meta := make(map[string]string, 7+len(exts))
	meta[MetaAttributePrefix+"specversion"] = evt.SpecVersion()
	meta[MetaAttributePrefix+"id"] = evt.ID()
	meta[MetaAttributePrefix+"type"] = evt.Type()
	meta[MetaAttributePrefix+"source"] = evt.Source()
	if s := evt.Subject(); s != "" {
		meta[MetaAttributePrefix+"subject"] = s
	}
	if t := evt.Time(); !t.IsZero() {
		meta[MetaAttributePrefix+"time"] = FormatTimestamp(t)
	}
	if s := evt.DataSchema(); s != "" {
		meta[MetaAttributePrefix+"dataschema"] = s
	}
	if ct := evt.DataContentType(); ct != "" {
		meta[MetaContentType] = ct
	}
	for name, v := range exts {
		s, err := cloudeventstypes.Format(v)
		if err != nil {
			return nil, fmt.Errorf("encode binary event: extension %q: %w", name, err)
		}
		meta[MetaAttributePrefix+name] = s
	}
	return &Envelope{
		ID:       evt.ID(),
		Name:     evt.Type(),
		Payload:  evt.Data(),
		Metadata: meta,
	}, nil
}

func (BinaryCodec) Decode(env *Envelope) (*cloudevents.Event, error) {
	evt := cloudevents.NewEvent()
	if v, ok := env.Metadata[MetaAttributePrefix+"specversion"]; ok && v != "" {
		evt.SetSpecVersion(v)
	}
	for k, v := range env.Metadata {
		attr, ok := strings.CutPrefix(k, MetaAttributePrefix)
		if !ok {
			continue
		}
		switch attr {
		case "specversion":
		case "id":
			evt.SetID(v)
		case "type":
			evt.SetType(v)
		case "source":
			evt.SetSource(v)
		case "subject":
			evt.SetSubject(v)
		case "dataschema":
			evt.SetDataSchema(v)
		case "time":
			t, err := ParseTimestamp(v)
			if err != nil {
				return nil, fmt.Errorf("decode binary event: time: %w", err)
			}
			evt.SetTime(t)
		default:
			evt.SetExtension(attr, v)
		}
	}

	// A content type marks the data as present, even when it is empty.
	ct := env.Metadata[MetaContentType]
	if len(env.Payload) > 0 || ct != "" {
		payload := env.Payload
		if payload == nil {
			payload = []byte{}
		}
		if err := evt.SetData(ct, payload); err != nil {
			return nil, fmt.Errorf("decode binary event: %w", err)
		}
	}

	if err := evt.Validate(); err != nil {
		return nil, fmt.Errorf("decode binary event: %w", err)
	}
	return &evt, nil
}
