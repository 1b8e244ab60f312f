// Package stack implements the server-side message dispatcher (spec.md
// §4.4): given an inbound TransportMessage, identify or create the owning
// osession.Session, decode its ordered OSRFMessage batch, and route each one
// to the CONNECT/DISCONNECT/REQUEST handler its Type names. It is grounded
// on the teacher's acp.Run/acpServer dispatch loop (acp/acp.go) — a
// method-switch over a decoded request driving per-method handlers under a
// shared session registry — generalized from ACP's fixed JSON-RPC method
// set to OpenSRF's five wire message types and a pluggable application
// method table.
package stack
