// Package metrics provides operational metrics collection.
//
// # Metric Categories
//
//   - Admission: handshake outcomes by reason code
//   - Rooms: open rooms and connected members
//   - Relay: events queued and dropped per delivery
//   - Assistant: invocations by outcome and their latency
//   - File tree: saves by outcome
//
// # Integration
//
// Collectors register on the default Prometheus registry and are exposed by
// Handler in Prometheus text format.
package metrics
