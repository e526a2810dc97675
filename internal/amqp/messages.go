package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"spendlog/internal/log"
)

// ChangeType names the mutation announced by a ChangeMessage.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"
)

// ChangeTypeFor maps a controller operation to its message type.
func ChangeTypeFor(op string) (ChangeType, bool) {
	switch op {
	case log.OpCreate:
		return ChangeCreated, true
	case log.OpUpdate:
		return ChangeUpdated, true
	case log.OpDelete:
		return ChangeDeleted, true
	}
	return "", false
}

// ChangeMessage tells other instances that the shared collection changed.
// It carries only the id; receivers reload the whole list.
type ChangeMessage struct {
	Type      ChangeType `json:"type"`
	ID        string     `json:"id"`
	Origin    string     `json:"origin"`
	Timestamp time.Time  `json:"timestamp"`
}

func NewChangeMessage(t ChangeType, id, origin string) *ChangeMessage {
	return &ChangeMessage{
		Type:      t,
		ID:        id,
		Origin:    origin,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the message to JSON bytes
func (m *ChangeMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ChangeMessageFromJSON decodes a message and rejects unknown types.
func ChangeMessageFromJSON(data []byte) (*ChangeMessage, error) {
	var msg ChangeMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	switch msg.Type {
	case ChangeCreated, ChangeUpdated, ChangeDeleted:
	default:
		return nil, fmt.Errorf("unknown change type %q", msg.Type)
	}
	return &msg, nil
}
