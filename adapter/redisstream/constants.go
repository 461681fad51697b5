package redisstream

// Stream entry field names
const (
	fieldID         = "id"
	fieldName       = "name"
	fieldPayload    = "payload"    // raw []byte, binary-safe
	fieldProducedAt = "producedAt" // int64 ns
	fieldMetaPrefix = "meta:"

	// dead-letter entries
	fieldOrigTopic = "orig_topic"
	fieldOrigID    = "orig_id"
	fieldError     = "error"
	fieldPermanent = "permanent"
)
