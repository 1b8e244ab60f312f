// Package http implements the HTTP translator of spec.md §4.7: it bridges
// one-shot and multipart HTTP requests to the internal bus, aggregating or
// streaming the OSRF replies back as the response body. The per-thread
// pinned-session cache and its eviction rules are grounded on the
// teacher's registry-of-live-state pattern (acp/acp.go's sessions map)
// generalized from session-ID keyed chat state to thread-keyed bus
// routing state.
package http
