package gateway

import json "github.com/goccy/go-json"

// EventHandler is the polymorphic callback set a Shard invokes (§6, §9).
// All five operations are fire-and-forget: the core does not observe their
// completion or errors, and implementations must be safe to call
// concurrently from different shards' event loops.
type EventHandler interface {
	// Debug reports a non-actionable diagnostic message from shardID.
	Debug(shardID int, message string)

	// ShardError reports an error encountered by shardID.
	ShardError(shardID int, err error)

	// Dispatch reports a raw gateway dispatch event from shardID.
	Dispatch(shardID int, eventName string, data json.RawMessage)

	// Ready reports a successful handshake on shardID.
	Ready(shardID int, data *ReadyEventData)

	// Resumed reports that shardID recovered a prior session.
	Resumed(shardID int)
}

// NopEventHandler implements EventHandler with no-op methods, useful as an
// embedding base for callers who only care about a subset of callbacks.
type NopEventHandler struct{}

func (NopEventHandler) Debug(int, string)                    {}
func (NopEventHandler) ShardError(int, error)                {}
func (NopEventHandler) Dispatch(int, string, json.RawMessage) {}
func (NopEventHandler) Ready(int, *ReadyEventData)            {}
func (NopEventHandler) Resumed(int)                           {}
