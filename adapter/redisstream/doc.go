// Package redisstream provides a Redis Streams transport for xawala endpoints.
//
// Transport name: "redis-streams"
//
// Config keys:
//   - addr: "host:port" (default "127.0.0.1:6379")
//   - group: consumer group name (default "xawala")
//   - consumer: consumer name (default "xawala-<host>-<pid>")
//   - concurrency: number of workers (default 8)
//   - batch_size: XREADGROUP COUNT (default 128)
//   - block: XREADGROUP BLOCK duration (default 5s)
//   - start_id: id the consumer group starts from when created (default "$")
//   - auto_create: create group/stream if missing (default true)
//   - auto_delete_on_ack: XDEL after XACK (default false)
//   - dead_letter: stream receiving rejected service message events (optional)
//   - claim_min_idle: idle time after which pending entries are claimed and
//     redelivered (default 30s, "0s" disables claiming)
//   - claim_batch: XAUTOCLAIM COUNT (default 128)
//   - claim_interval: how often pending entries are scanned (default 15s)
//
// Example builder usage:
//
//	ep, _ := xawala.NewEndpointBuilder().
//	    WithTransport(redisstream.TransportName, map[string]any{
//	        "addr":        "localhost:6379",
//	        "group":       "pets-app",
//	        "consumer":    "pets-app-1",
//	        "concurrency": 16,
//	        "block":       "5s",
//	        "dead_letter": "awala.incoming-service-messages.dlq",
//	    }).
//	    Build()
package redisstream
