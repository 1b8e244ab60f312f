// Package router implements the OpenSRF router (spec.md §4.6): a bus client
// at a well-known address that maintains a service_name -> drone-address
// registry and round-robins forwarded requests across it. The registry and
// ACL pattern are grounded on tools/tools.go's ToolRegistry (map-backed
// registration keyed by name) and its doublestar glob-matching allow/deny
// check (isPathRestricted), re-homed here from filesystem paths to
// service-name patterns.
package router
