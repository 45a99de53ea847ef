package gateway

import (
	json "github.com/goccy/go-json"
)

// Snowflake is a Discord API snowflake ID.
type Snowflake uint64

// BitFlag is a Discord bitwise flag field (e.g. Intents).
type BitFlag uint64

// Flags is a set of individually-set bit positions, used where Discord
// expects an array of ints rather than a single bitmask (e.g. Intents is
// sometimes modeled either way across the API; this package uses Flags only
// where the wire format is genuinely an array).
type Flags []int

// GatewayPayload is the envelope every Gateway and Voice Gateway frame is
// wrapped in.
//
// https://discord.com/developers/docs/topics/gateway#payloads-gateway-payload-structure
type GatewayPayload struct {
	Op             Opcode          `json:"op"`
	Data           json.RawMessage `json:"d,omitempty"`
	SequenceNumber *int64          `json:"s,omitempty"`
	EventName      *string         `json:"t,omitempty"`
}

// VoicePayload is the envelope for Voice Gateway frames, which use a
// distinct, smaller opcode space than the main Gateway.
type VoicePayload struct {
	Op   VoiceOpcode     `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
}

// Hello is the first payload sent by the Gateway (or Voice Gateway) upon
// connecting, carrying the heartbeat interval in milliseconds.
//
// https://discord.com/developers/docs/topics/gateway#hello-hello-structure
type Hello struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

// Identify opens a new session.
//
// https://discord.com/developers/docs/topics/gateway#identify-identify-structure
type Identify struct {
	Token          string                        `json:"token"`
	Properties     IdentifyConnectionProperties `json:"properties"`
	Compress       bool                          `json:"compress,omitempty"`
	LargeThreshold int                           `json:"large_threshold,omitempty"`
	Shard          *[2]int                       `json:"shard,omitempty"`
	Presence       GatewayPresenceUpdate         `json:"presence,omitempty"`
	Intents        BitFlag                       `json:"intents"`
}

// IdentifyConnectionProperties describes the client to Discord.
type IdentifyConnectionProperties struct {
	OS      string `json:"$os"`
	Browser string `json:"$browser"`
	Device  string `json:"$device"`
}

// Resume reopens an existing session after a reconnect.
//
// https://discord.com/developers/docs/topics/gateway#resume-resume-structure
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// Heartbeat carries the last received sequence number.
type Heartbeat struct {
	Data int64 `json:"d"`
}

// Ready is received after a successful Identify.
//
// https://discord.com/developers/docs/topics/gateway#ready-ready-event-fields
type Ready struct {
	Version   int             `json:"v"`
	SessionID string          `json:"session_id"`
	Shard     *[2]int         `json:"shard,omitempty"`
	Trace     []string        `json:"_trace,omitempty"`
	User      json.RawMessage `json:"user,omitempty"`
}

// Resumed is received after a successful Resume, once queued events have
// been replayed.
type Resumed struct{}

// InvalidSession is received when the session could not be resumed, or an
// active session was invalidated. Its payload is a bare JSON boolean, not an
// object: true means a Resume may be attempted, false means a fresh
// Identify is required.
type InvalidSession bool

// GuildRequestMembers requests offline members for a guild.
//
// https://discord.com/developers/docs/topics/gateway#request-guild-members
type GuildRequestMembers struct {
	GuildID   Snowflake   `json:"guild_id"`
	Query     *string     `json:"query,omitempty"`
	Limit     uint        `json:"limit"`
	Presences bool        `json:"presences,omitempty"`
	UserIDs   []Snowflake `json:"user_ids,omitempty"`
	Nonce     string      `json:"nonce,omitempty"`
}

// GatewayVoiceStateUpdate requests the client join, move, or leave a voice
// channel.
//
// https://discord.com/developers/docs/topics/gateway#update-voice-state
type GatewayVoiceStateUpdate struct {
	GuildID   Snowflake  `json:"guild_id"`
	ChannelID *Snowflake `json:"channel_id"`
	SelfMute  bool       `json:"self_mute"`
	SelfDeaf  bool       `json:"self_deaf"`
}

// GatewayPresenceUpdate updates the client's presence.
//
// https://discord.com/developers/docs/topics/gateway#update-presence
type GatewayPresenceUpdate struct {
	Since      *int64          `json:"since"`
	Activities json.RawMessage `json:"activities,omitempty"`
	Status     string          `json:"status"`
	AFK        bool            `json:"afk"`
}

const (
	StatusOnline       = "online"
	StatusDoNotDisturb = "dnd"
	StatusIdle         = "idle"
	StatusInvisible    = "invisible"
	StatusOffline      = "offline"
)

// VoiceServerUpdate notifies the client of the voice server it should
// connect (or migrate) to.
//
// https://discord.com/developers/docs/topics/gateway#voice-server-update
type VoiceServerUpdate struct {
	Token    string    `json:"token"`
	GuildID  Snowflake `json:"guild_id"`
	Endpoint string    `json:"endpoint"`
}

// VoiceStateUpdateEvent is the dispatch payload sent when a user's voice
// state changes, including the client's own (which carries the session_id
// the voice gateway identify needs).
type VoiceStateUpdateEvent struct {
	GuildID   *Snowflake `json:"guild_id,omitempty"`
	ChannelID *Snowflake `json:"channel_id,omitempty"`
	UserID    Snowflake  `json:"user_id"`
	SessionID string     `json:"session_id"`
}

// SessionStartLimit describes Discord's daily Identify budget.
//
// https://discord.com/developers/docs/topics/gateway#session-start-limit-object
type SessionStartLimit struct {
	Total          int `json:"total"`
	Remaining      int `json:"remaining"`
	ResetAfter     int `json:"reset_after"`
	MaxConcurrency int `json:"max_concurrency"`
}

// GatewayBotResponse is the payload returned by GET /gateway/bot.
type GatewayBotResponse struct {
	URL               string            `json:"url"`
	Shards            int               `json:"shards"`
	SessionStartLimit SessionStartLimit `json:"session_start_limit"`
}

// Voice Gateway payloads.

// VoiceIdentify opens a new voice session.
type VoiceIdentify struct {
	ServerID  Snowflake `json:"server_id"`
	UserID    Snowflake `json:"user_id"`
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
}

// VoiceResume reopens a voice session.
type VoiceResume struct {
	ServerID  Snowflake `json:"server_id"`
	SessionID string    `json:"session_id"`
	Token     string    `json:"token"`
}

// VoiceReady is received after a successful voice Identify.
type VoiceReady struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  int      `json:"port"`
	Modes []string `json:"modes"`
}

// VoiceSelectProtocol declares the chosen transport protocol and the
// externally-discovered IP/port/encryption-mode.
type VoiceSelectProtocol struct {
	Protocol string                  `json:"protocol"`
	Data     VoiceSelectProtocolData `json:"data"`
}

// VoiceSelectProtocolData is the IP-discovery result reported to Discord.
type VoiceSelectProtocolData struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Mode    string `json:"mode"`
}

// VoiceSessionDescription carries the session's symmetric encryption key.
type VoiceSessionDescription struct {
	Mode      string `json:"mode"`
	SecretKey []byte `json:"secret_key"`
}

// VoiceHeartbeat carries a heartbeat nonce for the voice gateway.
type VoiceHeartbeat struct {
	Data float64 `json:"d"`
}

// VoiceSpeaking toggles the speaking indicator and advertises the SSRC used
// for outbound RTP.
type VoiceSpeaking struct {
	Speaking int       `json:"speaking"`
	Delay    int       `json:"delay"`
	SSRC     uint32    `json:"ssrc"`
}
