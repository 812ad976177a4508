package protocol

import (
	"strconv"
	"strings"
)

// Message is a data message published on a channel. Data is opaque to the
// client core.
type Message struct {
	ID           string `json:"id,omitempty"`
	Name         string `json:"name,omitempty"`
	ClientID     string `json:"clientId,omitempty"`
	ConnectionID string `json:"connectionId,omitempty"`
	Data         any    `json:"data,omitempty"`
	Encoding     string `json:"encoding,omitempty"`
	Timestamp    int64  `json:"timestamp,omitempty"`
}

// PresenceAction is the membership action of a PresenceMessage.
type PresenceAction int

const (
	PresenceAbsent  PresenceAction = 0
	PresencePresent PresenceAction = 1
	PresenceEnter   PresenceAction = 2
	PresenceLeave   PresenceAction = 3
	PresenceUpdate  PresenceAction = 4
)

func (action PresenceAction) String() string {
	switch action {
	case PresenceAbsent:
		return "ABSENT"
	case PresencePresent:
		return "PRESENT"
	case PresenceEnter:
		return "ENTER"
	case PresenceLeave:
		return "LEAVE"
	case PresenceUpdate:
		return "UPDATE"
	}
	return "UNKNOWN(" + strconv.Itoa(int(action)) + ")"
}

// PresenceMessage describes one member's presence. Serial is assigned by the
// server and increases monotonically per member.
type PresenceMessage struct {
	ID           string         `json:"id,omitempty"`
	Action       PresenceAction `json:"action"`
	ClientID     string         `json:"clientId,omitempty"`
	ConnectionID string         `json:"connectionId,omitempty"`
	Data         any            `json:"data,omitempty"`
	Encoding     string         `json:"encoding,omitempty"`
	Timestamp    int64          `json:"timestamp,omitempty"`
	Serial       int64          `json:"serial,omitempty"`
}

// MemberKey identifies a member: one client on one connection.
func (message *PresenceMessage) MemberKey() string {
	if message == nil {
		return ""
	}
	return message.ConnectionID + ":" + message.ClientID
}

// IsNewerThan reports whether message supersedes existing. A nil existing
// entry is always superseded.
func (message *PresenceMessage) IsNewerThan(existing *PresenceMessage) bool {
	if existing == nil {
		return true
	}
	return message.Serial > existing.Serial
}

// Clone returns a shallow copy of message.
func (message *PresenceMessage) Clone() *PresenceMessage {
	if message == nil {
		return nil
	}
	cloned := *message
	return &cloned
}

// ParseSyncSerial splits a sync channelSerial of the form "<syncId>:<cursor>".
// The sync is complete when the serial is empty, carries no cursor part, or
// the cursor is empty.
func ParseSyncSerial(channelSerial string) (syncID string, cursor string, complete bool) {
	if channelSerial == "" {
		return "", "", true
	}
	separator := strings.IndexByte(channelSerial, ':')
	if separator < 0 {
		return channelSerial, "", true
	}
	syncID = channelSerial[:separator]
	cursor = channelSerial[separator+1:]
	return syncID, cursor, cursor == ""
}
