// Package addr parses and builds OpenSRF bus addresses.
//
// A bus address names one participant on the message bus:
// "service@domain/drone-id" for a service or one of its drones, or
// "router@domain/router" for a router. Sessions never handle raw address
// strings directly; they hold an Address value instead, per spec.md §3.
package addr
