// Package nats provides a core NATS transport for xawala endpoints.
//
// Transport name: "nats"
//
// Each consumer group maps to a NATS queue group, so every group receives an
// event once. Core NATS has no redelivery: Ack is a no-op and Nack forwards
// the envelope to the dead-letter subject when one is configured.
//
// Config keys:
//   - url: server URL list (default nats.DefaultURL)
//   - name: client connection name (default "xawala")
//   - username, password, token: credentials (optional)
//   - concurrency: handler workers per subscription (default 4)
//   - pending_limit: per-subscription queued message limit (default 65536)
//   - max_reconnects: (default 60)
//   - reconnect_wait: duration (default 2s)
//   - connect_timeout: duration (default 5s)
//   - dead_letter: subject receiving nacked envelopes (optional)
package nats
