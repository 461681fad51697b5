package xawala

import (
	"time"
)

// ServiceMessage holds the fields shared by incoming and outgoing service messages.
type ServiceMessage struct {
	// SenderID is the Awala endpoint id of the sender.
	SenderID string `json:"senderId"`
	// RecipientID is the Awala endpoint id of the recipient.
	RecipientID string `json:"recipientId"`
	// ContentType is the media type of Content.
	ContentType string `json:"contentType"`
	// Content is the opaque service payload.
	Content []byte `json:"content"`
}

// OutgoingServiceMessage is produced by the app and sent through the Internet endpoint.
// ParcelID, CreationDate and ExpiryDate are hints; absent values are defaulted on conversion.
type OutgoingServiceMessage struct {
	ServiceMessage
	ParcelID     string     `json:"parcelId,omitempty"`
	CreationDate *time.Time `json:"creationDate,omitempty"`
	ExpiryDate   *time.Time `json:"expiryDate,omitempty"`
}

// IncomingServiceMessage was delivered to the app by the Internet endpoint.
// Its parcel metadata is always set by the original producer.
type IncomingServiceMessage struct {
	ServiceMessage
	ParcelID     string    `json:"parcelId"`
	CreationDate time.Time `json:"creationDate"`
	ExpiryDate   time.Time `json:"expiryDate"`
}

// Expired reports whether the message expiry is at or before now.
func (m IncomingServiceMessage) Expired(now time.Time) bool {
	return !m.ExpiryDate.After(now)
}
