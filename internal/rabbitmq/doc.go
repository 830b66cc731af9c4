// Package rabbitmq is the amqp091-go plumbing behind the capy transport.
//
// This package includes:
//   - ConnectionManager: dials with heartbeat and TLS and reports an
//     unexpected close to its listeners
//   - Publisher: publishes on one dedicated channel, optionally with
//     publisher confirms
//   - Consumer: auto-ack consumption of a reply queue
//   - TopologyManager: private reply queue declaration and passive checks
//     used as liveness probes
//
// Nothing here reconnects. A lost connection is final for its owner.
package rabbitmq
