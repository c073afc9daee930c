package ws

import (
	"encoding/json"
	"fmt"

	"github.com/layzsource/midi-morphing-power-arranger-sub002/internal/domain"
)

// Inbound is one decoded client frame. The concrete type is selected by
// the frame's "type" field; frames of any other type decode to Unknown.
type Inbound interface {
	Kind() domain.MessageType
}

// CursorMove reports the sender's pointer position in normalized coordinates
type CursorMove struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// ParameterChange is a shared parameter edit
type ParameterChange struct {
	Parameter json.RawMessage `json:"parameter"`
	Value     json.RawMessage `json:"value"`
	Source    json.RawMessage `json:"source"`
}

// SpriteInteraction is a gesture on a media sprite
type SpriteInteraction struct {
	MediaID         json.RawMessage `json:"media_id"`
	InteractionType json.RawMessage `json:"interaction_type"`
}

// PresetApplied announces a preset; PresetData is opaque
type PresetApplied struct {
	PresetName json.RawMessage `json:"preset_name"`
	PresetData json.RawMessage `json:"preset_data"`
}

// ChatMessage is a chat line with an optional client timestamp
type ChatMessage struct {
	Message   json.RawMessage `json:"message"`
	Timestamp json.RawMessage `json:"timestamp"`
}

// Unknown is a frame whose type this server does not handle. Dispatching
// it is a no-op so newer clients can talk to older servers.
type Unknown struct {
	Type domain.MessageType
}

func (CursorMove) Kind() domain.MessageType        { return domain.MessageTypeCursorMove }
func (ParameterChange) Kind() domain.MessageType   { return domain.MessageTypeParameterChange }
func (SpriteInteraction) Kind() domain.MessageType { return domain.MessageTypeSpriteInteraction }
func (PresetApplied) Kind() domain.MessageType     { return domain.MessageTypePresetApplied }
func (ChatMessage) Kind() domain.MessageType       { return domain.MessageTypeChatMessage }
func (u Unknown) Kind() domain.MessageType         { return u.Type }

// DecodeInbound parses a raw client frame into its typed variant
func DecodeInbound(data []byte) (Inbound, error) {
	var envelope struct {
		Type domain.MessageType `json:"type"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("decode frame: %w", err)
	}

	switch envelope.Type {
	case domain.MessageTypeCursorMove:
		return decodeAs[CursorMove](data)
	case domain.MessageTypeParameterChange:
		return decodeAs[ParameterChange](data)
	case domain.MessageTypeSpriteInteraction:
		return decodeAs[SpriteInteraction](data)
	case domain.MessageTypePresetApplied:
		return decodeAs[PresetApplied](data)
	case domain.MessageTypeChatMessage:
		return decodeAs[ChatMessage](data)
	default:
		return Unknown{Type: envelope.Type}, nil
	}
}

func decodeAs[T Inbound](data []byte) (Inbound, error) {
	var m T
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", m.Kind(), err)
	}
	return m, nil
}
