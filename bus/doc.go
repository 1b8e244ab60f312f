// Package bus implements the abstract named-queue RPC primitive every other
// OpenSRF component is built on: connect to a domain, push a transport
// message to a named address, and block-pop the next one addressed to you
// (spec.md §4.1, §9). Client is the interface; RedisClient is the one
// concrete backing this repository ships, chosen per spec.md §9's open
// question in favor of the simpler Redis-style named-queue model over an
// XMPP/Jabber stanza transport.
package bus
