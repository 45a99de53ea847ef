// Package gateway implements the long-lived duplex connection core of a
// Discord bot: gateway WebSocket sessions (with sharding, resume, and
// zombie-connection recovery) plus the voice gateway, UDP transport, and
// RTP framing needed to send audio to a voice channel.
//
// Everything downstream of a decoded event (caches, command dispatch, REST
// bindings) is an external collaborator injected through the interfaces in
// this file; the package itself never calls out to Discord's REST API.
package gateway

import (
	"context"

	"github.com/goccy/go-json"
	"github.com/switchupcb/websocket"
)

// HTTPClient is the embedder-supplied collaborator that resolves a Gateway
// WebSocket connection and carries the bot token used to Identify.
//
// A REST client lives outside this package; wyrmgate only needs enough of
// it to open the socket.
type HTTPClient interface {
	// WebsocketConnect dials the given Gateway or Voice Gateway endpoint and
	// returns an open WebSocket connection.
	WebsocketConnect(ctx context.Context, url string) (*websocket.Conn, error)

	// Token returns the bot token used for Identify/Resume payloads.
	Token() string
}

// Dispatcher emits a one-shot named event to the embedding application
// (caches, command routers, user callbacks).
type Dispatcher interface {
	Dispatch(event string, payload json.RawMessage)
}

// EventProcessor handles a single raw Gateway event, looked up by name.
type EventProcessor func(ctx context.Context, eventName string, payload json.RawMessage) error

// ProcessorRegistry resolves `raw_<event>` processors by name at runtime,
// preserving the late-binding the embedder relies on to register handlers
// for events this package does not itself understand.
type ProcessorRegistry interface {
	Processor(name string) (EventProcessor, bool)
}

// GuildCache is the subset of the guild object cache that the gateway needs
// in order to forward GUILD_MEMBERS_CHUNK payloads.
type GuildCache interface {
	Guild(id Snowflake) (MemberChunkSink, bool)
}

// MemberChunkSink receives a decoded GUILD_MEMBERS_CHUNK payload.
type MemberChunkSink interface {
	ProcessMemberChunk(ctx context.Context, data json.RawMessage) error
}

// State exposes the embedder state that a Session needs in order to
// Identify and report its presence, without giving the Session ownership of
// that state (the Session holds a back-reference, never shared ownership).
type State interface {
	Intents() BitFlag
	Presence() GatewayPresenceUpdate
	GatewayURL() string
}

