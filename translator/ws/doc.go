// Package ws implements the WebSocket translator of spec.md §4.7: one
// long-lived gorilla/websocket connection carries many concurrent OSRF
// conversations, each pinned to the drone that answered its CONNECT and
// reaped by an idle watcher after a configurable quiet period.
//
// This is a direct generalization of the teacher's cmd/ws_bridge/main.go,
// which already proxies one subprocess's stdio over a single
// gorilla/websocket connection with a read goroutine and one or more write
// goroutines feeding the same conn. Here the "subprocess" is the bus: reads
// from the socket become REQUEST/CONNECT/DISCONNECT sends, and replies
// streamed back from the bus become socket writes, serialized through one
// mutex-guarded writer (connWriter) instead of ws_bridge's direct
// concurrent conn.WriteMessage calls from two unsynchronized goroutines.
package ws
