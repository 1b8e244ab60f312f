// Package message implements the two wire layers OpenSRF carries inside a
// bus packet: the TransportMessage envelope (spec.md §3, §6) and the typed
// OSRFMessage RPC payload (spec.md §3, §4.2) it carries JSON-encoded in its
// Body. It also implements the project's generic class-tagged JSON
// convention ({"__c": class, "__p": data}) as Tagged, used by OSRFMessage
// and available for any other typed value that needs the same convention.
package message
