package gateway

import (
	"context"
	"fmt"
	"strings"

	json "github.com/goccy/go-json"
)

// MainSession is the primary Discord Gateway connection for one shard. It
// subclasses the session core with shard identity, exactly as described for
// the main gateway session: its Identify/Resume/SendHeartbeat and opcode
// routing are the concrete behavior behind *Session's Delegate.
type MainSession struct {
	*Session

	state      State
	dispatcher Dispatcher
	processors ProcessorRegistry
	guilds     GuildCache

	shard [2]int
}

// NewMainSession constructs a MainSession for the given shard index/count
// (shard[1] is the total shard count; [0,1] for an unsharded bot).
func NewMainSession(core *Session, state State, dispatcher Dispatcher, processors ProcessorRegistry, guilds GuildCache, shard [2]int) *MainSession {
	m := &MainSession{
		Session:    core,
		state:      state,
		dispatcher: dispatcher,
		processors: processors,
		guilds:     guilds,
		shard:      shard,
	}

	m.SetDelegate(m)

	return m
}

// Identify sends the session-opening IDENTIFY frame.
func (m *MainSession) Identify(ctx context.Context) error {
	payload := GatewayPayload{Op: OpcodeIdentify}

	identify := Identify{
		Token: m.http.Token(),
		Properties: IdentifyConnectionProperties{
			OS:      "linux",
			Browser: "wyrmgate",
			Device:  "wyrmgate",
		},
		Compress:       true,
		LargeThreshold: 250,
		Shard:          &m.shard,
		Presence:       m.state.Presence(),
		Intents:        m.state.Intents(),
	}

	data, err := json.Marshal(identify)
	if err != nil {
		return err
	}

	payload.Data = data

	return m.Send(ctx, payload, false)
}

// Resume sends RESUME { token, session_id, seq } after a reconnect.
func (m *MainSession) Resume(ctx context.Context) error {
	resume := Resume{
		Token:     m.http.Token(),
		SessionID: m.SessionID(),
		Seq:       m.Sequence(),
	}

	data, err := json.Marshal(resume)
	if err != nil {
		return err
	}

	return m.Send(ctx, GatewayPayload{Op: OpcodeResume, Data: data}, false)
}

// SendHeartbeat sends the current sequence number, bypassing the limiter.
func (m *MainSession) SendHeartbeat(ctx context.Context) error {
	seq := m.Sequence()

	data, err := json.Marshal(seq)
	if err != nil {
		return err
	}

	return m.Send(ctx, GatewayPayload{Op: OpcodeHeartbeat, Data: data}, true)
}

// HandleFrame routes one decoded Gateway frame by opcode.
func (m *MainSession) HandleFrame(ctx context.Context, op int, data json.RawMessage, seq *int64, event *string) error {
	switch Opcode(op) {
	case OpcodeDispatch:
		eventName := ""
		if event != nil {
			eventName = *event
		}

		go m.dispatchEvent(ctx, eventName, data)

		return nil

	case OpcodeHeartbeat:
		return m.SendHeartbeat(ctx)

	case OpcodeReconnect:
		return m.Reconnect(ctx, true, CloseCodeReconnect)

	case OpcodeInvalidSession:
		var invalid InvalidSession
		if err := json.Unmarshal(data, &invalid); err != nil {
			invalid = false
		}

		resumable := bool(invalid)

		if !resumable {
			m.SetSessionID("")
			m.SetSequence(0)
		}

		return m.Reconnect(ctx, resumable, CloseCodeReconnect)

	case OpcodeHeartbeatACK:
		m.AckReceived()

		return nil

	default:
		Logger.Debug().Int(LogCtxOpcode, op).Msg("ignoring unrecognized gateway opcode")

		return nil
	}
}

// BeforeReconnect is a no-op for the main gateway: all of its reconnects
// proceed immediately, unlike the voice gateway's 5s voice_server_update
// wait.
func (m *MainSession) BeforeReconnect(_ context.Context, _ bool) error { return nil }

// dispatchEvent implements the dispatch-routing table: READY/RESUMED/
// GUILD_MEMBERS_CHUNK get dedicated handling; everything else is looked up
// by name in the processor registry and always additionally emitted as
// raw_socket_receive and raw_<event>.
func (m *MainSession) dispatchEvent(ctx context.Context, event string, data json.RawMessage) {
	switch event {
	case "READY":
		var ready Ready
		if err := json.Unmarshal(data, &ready); err != nil {
			Logger.Warn().Err(err).Msg("malformed READY payload")

			return
		}

		m.SetSessionID(ready.SessionID)
		m.dispatcher.Dispatch("websocket_ready", data)

		return

	case "RESUMED":
		m.dispatcher.Dispatch("resume", data)

		return

	case "GUILD_MEMBERS_CHUNK":
		m.handleMemberChunk(ctx, data)

		return
	}

	name := "raw_" + strings.ToLower(event)

	if proc, ok := m.processors.Processor(name); ok {
		go func() {
			if err := proc(ctx, event, data); err != nil {
				Logger.Error().Err(err).Str(LogCtxEvent, event).Msg("processor failed")
			}
		}()
	}

	m.dispatcher.Dispatch("raw_socket_receive", data)
	m.dispatcher.Dispatch(name, data)
}

func (m *MainSession) handleMemberChunk(ctx context.Context, data json.RawMessage) {
	var chunk struct {
		GuildID Snowflake `json:"guild_id"`
	}

	if err := json.Unmarshal(data, &chunk); err != nil {
		Logger.Warn().Err(err).Msg("malformed GUILD_MEMBERS_CHUNK payload")

		return
	}

	guild, ok := m.guilds.Guild(chunk.GuildID)
	if !ok {
		return
	}

	go func() {
		if err := guild.ProcessMemberChunk(ctx, data); err != nil {
			Logger.Error().Err(err).Uint64(LogCtxGuild, uint64(chunk.GuildID)).
				Msg("failed to process member chunk")
		}
	}()
}

// RequestMemberChunks sends REQUEST_GUILD_MEMBERS for guild.
func (m *MainSession) RequestMemberChunks(ctx context.Context, guild Snowflake, query *string, limit uint, userIDs []Snowflake, presences bool, nonce string) error {
	req := GuildRequestMembers{
		GuildID:   guild,
		Query:     query,
		Limit:     limit,
		Presences: presences,
		UserIDs:   userIDs,
		Nonce:     nonce,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return err
	}

	return m.Send(ctx, GatewayPayload{Op: OpcodeRequestGuildMembers, Data: data}, false)
}

// ChangePresence sends PRESENCE_UPDATE.
func (m *MainSession) ChangePresence(ctx context.Context, activities json.RawMessage, status string, since *int64) error {
	presence := GatewayPresenceUpdate{
		Since:      since,
		Activities: activities,
		Status:     status,
	}

	data, err := json.Marshal(presence)
	if err != nil {
		return err
	}

	return m.Send(ctx, GatewayPayload{Op: OpcodePresenceUpdate, Data: data}, false)
}

// VoiceStateUpdate sends VOICE_STATE_UPDATE to join, move, or leave a voice
// channel. Unlike the source this implementation honors muted/deafened
// rather than hard-coding them false; see DESIGN.md.
func (m *MainSession) VoiceStateUpdate(ctx context.Context, guild Snowflake, channel *Snowflake, muted, deafened bool) error {
	update := GatewayVoiceStateUpdate{
		GuildID:   guild,
		ChannelID: channel,
		SelfMute:  muted,
		SelfDeaf:  deafened,
	}

	data, err := json.Marshal(update)
	if err != nil {
		return err
	}

	return m.Send(ctx, GatewayPayload{Op: OpcodeVoiceStateUpdate, Data: data}, false)
}

// gatewayURL appends the Gateway query string (API v10, JSON encoding,
// zlib-stream compression) to base, unless base already carries a query.
// shard.go uses it to build each shard's dial target.
func gatewayURL(base string) string {
	if strings.Contains(base, "?") {
		return base
	}

	return fmt.Sprintf("%s?v=10&encoding=json&compress=zlib-stream", base)
}
