// Package collab hosts the real-time project collaboration service.
//
// A connection is admitted by the gatekeeper at WebSocket handshake time and
// bound to exactly one project room for its lifetime. Messages are relayed to
// the other members of that room; messages addressed to the assistant marker
// additionally trigger a generation call whose reply is published to the
// whole room. Each open room shares a cached file tree seeded from the
// project store.
//
// Subpackages:
//
//   - app: HTTP and WebSocket transport boundary
//   - gatekeeper: handshake admission checks
//   - identity: credential validation and revocation
//   - room: room registry and broadcast relay
//   - assistant: marker detection and invocation pipeline
//   - generation: completion providers backing the assistant
//   - filetree: per-project file tree cache
//   - storage: project persistence contracts and SQLite implementation
//   - message: wire event and body types
//   - client: Go session handle for one project room
package collab
