package structs

import (
	"encoding/json"
	"log/slog"
)

type EventName = string

const (
	EventNameReady         EventName = "READY"
	EventNameResumed       EventName = "RESUMED"
	EventNameMessageCreate EventName = "MESSAGE_CREATE"
	EventNameGuildCreate   EventName = "GUILD_CREATE"
	EventNameGuildDelete   EventName = "GUILD_DELETE"
	EventNameChannelCreate EventName = "CHANNEL_CREATE"
	EventNameChannelUpdate EventName = "CHANNEL_UPDATE"
	EventNameChannelDelete EventName = "CHANNEL_DELETE"
	EventNameUserUpdate    EventName = "USER_UPDATE"
)

type EventOpcode = int

// RawEvent is an inbound gateway frame. D is kept as RawMessage to delay
// decoding until a consumer actually needs the payload.
type RawEvent struct {
	Op EventOpcode     `json:"op"`
	D  json.RawMessage `json:"d,omitempty"`
	S  *int64          `json:"s,omitempty"`
	T  EventName       `json:"t,omitempty"`
}

func (re *RawEvent) LogValue() slog.Value {
	seq := int64(-1)
	if re.S != nil {
		seq = *re.S
	}
	return slog.GroupValue(slog.Int("op_code", re.Op),
		slog.Int64("sequence", seq),
		slog.String("event_name", re.T))
}

// Event is an outbound gateway frame.
type Event struct {
	Op EventOpcode `json:"op"`
	D  interface{} `json:"d,omitempty"`
	S  *int64      `json:"s,omitempty"`
	T  EventName   `json:"t,omitempty"`
}

type HelloEvent struct {
	HeartbeatInterval int64 `json:"heartbeat_interval"`
}

type ReadyEvent struct {
	V                int             `json:"v"`
	User             User            `json:"user"`
	Guilds           []Guild         `json:"guilds"`
	SessionID        string          `json:"session_id"`
	ResumeGatewayURL string          `json:"resume_gateway_url"`
	Shard            []uint          `json:"shard,omitempty"`
	Application      json.RawMessage `json:"application,omitempty"`
}

type IdentifyEvent struct {
	Token          string                  `json:"token"`
	Properties     IdentifyEventProperties `json:"properties"`
	Intents        int                     `json:"intents"`
	Compress       bool                    `json:"compress,omitempty"`
	LargeThreshold uint8                   `json:"large_threshold,omitempty"`
	Presence       *PresenceUpdate         `json:"presence,omitempty"`
}

type IdentifyEventProperties struct {
	Os      string `json:"os"`
	Browser string `json:"browser"`
	Device  string `json:"device"`
}

// PresenceUpdate is sent inside identify or as a standalone op 3 frame.
type PresenceUpdate struct {
	Since      int64         `json:"since"`
	Activities []interface{} `json:"activities"`
	Status     string        `json:"status"`
	AFK        bool          `json:"afk"`
}

type ResumeEvent struct {
	Token     string `json:"token"`
	SessionID string `json:"session_id"`
	Seq       int64  `json:"seq"`
}
