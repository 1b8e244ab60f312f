// Package prefork implements the preforking listener/drone server of
// spec.md §4.5: one listener process per service owns the service's bus
// address, hands incoming requests to idle drone subprocesses over a framed
// pipe, and maintains a min/max spare-drone pool. It is grounded on the
// teacher's subprocess-piping pattern in cmd/ws_bridge/main.go (stdin/stdout
// pipes around an exec.Command) generalized from a single long-lived bridge
// process to a pool of short-lived drones multiplexed by one listener.
package prefork
