package gateway

import (
	"fmt"
	"sync"

	json "github.com/goccy/go-json"
)

// GatewayPayload is the wire envelope for every gateway frame (§6).
//
// https://discord.com/developers/docs/topics/gateway#payloads-gateway-payload-structure
type GatewayPayload struct {
	Op   int             `json:"op"`
	Data json.RawMessage `json:"d,omitempty"`
	Seq  int64           `json:"s,omitempty"`
	Type string          `json:"t,omitempty"`
}

// gpool pools GatewayPayload allocations between inbound frames, the way
// the teacher's wrapper/pool.go pools payloads between listen() iterations.
var gpool sync.Pool

func getPayload() *GatewayPayload {
	if g := gpool.Get(); g != nil {
		return g.(*GatewayPayload) //nolint:forcetypeassert
	}

	return new(GatewayPayload)
}

func putPayload(g *GatewayPayload) {
	g.Op = 0
	g.Data = nil
	g.Seq = 0
	g.Type = ""
	gpool.Put(g)
}

// IdentifyConnectionProperties identifies the library/host to the gateway.
//
// https://discord.com/developers/docs/topics/gateway#identify-identify-connection-properties
type IdentifyConnectionProperties struct {
	OS      string `json:"os,omitempty"`
	Browser string `json:"browser,omitempty"`
	Device  string `json:"device,omitempty"`
}

// Identify is the first command a shard sends after HELLO when it has no
// prior session (§6).
type Identify struct {
	Token          string                        `json:"token"`
	Properties     IdentifyConnectionProperties  `json:"properties"`
	Compress       bool                          `json:"compress,omitempty"`
	LargeThreshold int                           `json:"large_threshold,omitempty"`
	Shard          *[2]int                       `json:"shard,omitempty"`
	Presence       *UpdatePresence               `json:"presence,omitempty"`
	Intents        int                           `json:"intents"`
}

// Resume reclaims a disconnected session without replaying READY.
type Resume struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}

// Heartbeat carries the client's last-observed sequence number.
type Heartbeat struct {
	Seq *int64 `json:"d,omitempty"`
}

// RequestGuildMembers requests guild member chunks over the gateway.
type RequestGuildMembers struct {
	GuildID   string   `json:"guild_id"`
	Query     string   `json:"query,omitempty"`
	Limit     int      `json:"limit"`
	Presences bool     `json:"presences,omitempty"`
	UserIDs   []string `json:"user_ids,omitempty"`
	Nonce     string   `json:"nonce,omitempty"`
}

// VoiceStateUpdate requests the voice state of the client in a guild.
type VoiceStateUpdate struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}

// UpdatePresence updates a shard's presence.
type UpdatePresence struct {
	Since      *int64     `json:"since"`
	Activities []Activity `json:"activities"`
	Status     string     `json:"status"`
	AFK        bool       `json:"afk"`
}

// Activity is a minimal presence activity; the full Discord activity object
// is out of scope (§1: JSON value model for domain entities).
type Activity struct {
	Name string `json:"name"`
	Type int    `json:"type"`
}

// Hello is received immediately after connecting.
type Hello struct {
	HeartbeatIntervalMS int64 `json:"heartbeat_interval"`
}

// ApplicationReference is the minimal Application subset READY carries.
type ApplicationReference struct {
	ID string `json:"id"`
}

// ReadyEventData is the subset of READY's fields the core needs to start a
// Session; guilds are left as opaque raw JSON and the user object is not
// decoded at all (§1 non-goal).
type ReadyEventData struct {
	Version          int                  `json:"v"`
	SessionID        string               `json:"session_id"`
	ResumeGatewayURL string               `json:"resume_gateway_url"`
	Shard            *[2]int              `json:"shard,omitempty"`
	Application      ApplicationReference `json:"application"`
	Guilds           []json.RawMessage    `json:"guilds,omitempty"`
}

// encodeOutbound builds the GatewayPayload envelope for an outbound command.
func encodeOutbound(op int, data any) (*GatewayPayload, error) {
	encoded, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode outbound op %d: %w", op, err)
	}

	return &GatewayPayload{Op: op, Data: encoded}, nil
}

// Inbound is the tagged union of payloads a shard may receive (§3).
type Inbound interface {
	isInbound()
}

type InboundHello struct{ IntervalMS int64 }
type InboundHeartbeatRequest struct{}
type InboundHeartbeatAck struct{}
type InboundInvalidSession struct{ Resumable bool }
type InboundReconnect struct{}
type InboundDispatch struct {
	Seq       int64
	EventName string
	Data      json.RawMessage
}
type InboundUnknown struct {
	Op  int
	Raw json.RawMessage
}

func (InboundHello) isInbound()            {}
func (InboundHeartbeatRequest) isInbound() {}
func (InboundHeartbeatAck) isInbound()     {}
func (InboundInvalidSession) isInbound()   {}
func (InboundReconnect) isInbound()        {}
func (InboundDispatch) isInbound()         {}
func (InboundUnknown) isInbound()          {}

// decodeInbound tag-switches on GatewayPayload.Op first, then decodes the
// opcode-specific "d" field — the "tag-first parsing" shape spec §9 calls for
// instead of string-typed dispatch in the hot path.
func decodeInbound(payload *GatewayPayload) (Inbound, error) {
	switch payload.Op {
	case FlagGatewayOpcodeHello:
		var hello Hello
		if err := json.Unmarshal(payload.Data, &hello); err != nil {
			return nil, fmt.Errorf("decode hello: %w", err)
		}

		return InboundHello{IntervalMS: hello.HeartbeatIntervalMS}, nil

	case FlagGatewayOpcodeHeartbeat:
		return InboundHeartbeatRequest{}, nil

	case FlagGatewayOpcodeHeartbeatACK:
		return InboundHeartbeatAck{}, nil

	case FlagGatewayOpcodeInvalidSession:
		var resumable bool
		if err := json.Unmarshal(payload.Data, &resumable); err != nil {
			return nil, fmt.Errorf("decode invalid session: %w", err)
		}

		return InboundInvalidSession{Resumable: resumable}, nil

	case FlagGatewayOpcodeReconnect:
		return InboundReconnect{}, nil

	case FlagGatewayOpcodeDispatch:
		return InboundDispatch{Seq: payload.Seq, EventName: payload.Type, Data: payload.Data}, nil

	default:
		return InboundUnknown{Op: payload.Op, Raw: payload.Data}, nil
	}
}
