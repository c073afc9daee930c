package domain

import "encoding/json"

// MessageType is the "type" discriminator carried by every frame
type MessageType string

// Client -> server
const (
	MessageTypeCursorMove        MessageType = "cursor_move"
	MessageTypeParameterChange   MessageType = "parameter_change"
	MessageTypeSpriteInteraction MessageType = "sprite_interaction"
	MessageTypePresetApplied     MessageType = "preset_applied"
	MessageTypeChatMessage       MessageType = "chat_message"
)

// Server -> client
const (
	MessageTypeConnectionEstablished MessageType = "connection_established"
	MessageTypeUserJoin              MessageType = "collaborative_user_join"
	MessageTypeUserJoined            MessageType = "user_joined" // legacy name, still emitted
	MessageTypeUserLeave             MessageType = "collaborative_user_leave"
	MessageTypeUserLeft              MessageType = "user_left" // legacy name, still emitted
	MessageTypeCursorUpdate          MessageType = "cursor_update"
	MessageTypeParameterUpdate       MessageType = "collaborative_parameter_update"
	MessageTypeSpriteBroadcast       MessageType = "collaborative_sprite_interaction"
	MessageTypePresetBroadcast       MessageType = "collaborative_preset_applied"
	MessageTypeChatBroadcast         MessageType = "collaborative_chat_message"
	MessageTypeTelemetry             MessageType = "telemetry"
)

// ConnectionEstablished is sent privately to a client once it joined
type ConnectionEstablished struct {
	Type       MessageType       `json:"type"`
	UserInfo   PublicParticipant `json:"user_info"`
	SessionID  string            `json:"session_id"`
	RecentChat []json.RawMessage `json:"recent_chat"`
	Timestamp  float64           `json:"timestamp"`
}

// UserJoin announces a new participant to the rest of the session
type UserJoin struct {
	Type           MessageType         `json:"type"`
	User           PublicParticipant   `json:"user"`
	UsersInSession []PublicParticipant `json:"users_in_session"`
	UsersCount     *int                `json:"users_count,omitempty"`
	Timestamp      float64             `json:"timestamp"`
}

// UserLeave tells the remaining participants someone left
type UserLeave struct {
	Type           MessageType         `json:"type"`
	UserID         string              `json:"user_id"`
	Username       string              `json:"username"`
	UserColor      string              `json:"user_color,omitempty"`
	UsersInSession []PublicParticipant `json:"users_in_session"`
	UsersCount     *int                `json:"users_count,omitempty"`
	Timestamp      float64             `json:"timestamp"`
}

// CursorUpdate carries a participant's clamped cursor position
type CursorUpdate struct {
	Type      MessageType `json:"type"`
	UserID    string      `json:"user_id"`
	Username  string      `json:"username"`
	Color     string      `json:"color"`
	X         float64     `json:"x"`
	Y         float64     `json:"y"`
	Timestamp float64     `json:"timestamp"`
}

// Attribution identifies the sender of a collaborative broadcast
type Attribution struct {
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	UserColor string `json:"user_color"`
}

// AttributionOf builds the sender fields for p
func AttributionOf(p *Participant) Attribution {
	return Attribution{UserID: p.ID, Username: p.Username, UserColor: p.Color}
}

// ParameterUpdate relays a shared parameter edit; last writer wins
type ParameterUpdate struct {
	Type MessageType `json:"type"`
	Attribution
	Parameter json.RawMessage `json:"parameter"`
	Value     json.RawMessage `json:"value"`
	Source    json.RawMessage `json:"source"`
	Timestamp float64         `json:"timestamp"`
}

// SpriteInteraction relays a click (or other gesture) on a media sprite
type SpriteInteraction struct {
	Type MessageType `json:"type"`
	Attribution
	MediaID         json.RawMessage `json:"media_id"`
	InteractionType json.RawMessage `json:"interaction_type"`
	Timestamp       float64         `json:"timestamp"`
}

// PresetApplied relays a preset; PresetData is forwarded untouched
type PresetApplied struct {
	Type MessageType `json:"type"`
	Attribution
	PresetName json.RawMessage `json:"preset_name"`
	PresetData json.RawMessage `json:"preset_data"`
	Timestamp  float64         `json:"timestamp"`
}

// ChatBroadcast relays a chat line. Timestamp is the client's value when it sent one.
type ChatBroadcast struct {
	Type MessageType `json:"type"`
	Attribution
	Message   json.RawMessage `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// Collaboration is attached to every telemetry frame
type Collaboration struct {
	UsersCount int    `json:"users_count"`
	SessionID  string `json:"session_id"`
}
