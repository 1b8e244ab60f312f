// Package osession implements the App Session / App Request state machine
// (spec.md §3, §4.3): the per-conversation state a session moves through
// (CONNECTING/CONNECTED/DISCONNECTED) and the per-request result queue a
// caller drains with Recv. This is a ground-up rewrite of the concern the
// teacher's session package covered (there, a chat transcript persisted to
// disk) for OpenSRF's RPC session semantics; nothing here is adapted from
// that file format, though the struct-plus-mutex shape and the package's
// registry-of-live-objects pattern follow the teacher's acpServer.sessions
// map (acp/acp.go) closely.
package osession
