package model

import "encoding/json"

// Channel event names. Inbound names match what the backend broadcasts,
// outbound names match what it listens for. The full accepted vocabulary is
// listed even though this gateway issues start and end over REST; other
// channel clients use startLiveClass/endLiveClass directly.
const (
	EventJoin           = "join"
	EventStartLiveClass = "startLiveClass"
	EventEndLiveClass   = "endLiveClass"
	EventJoinLiveClass  = "joinLiveClass"

	EventLiveClassesUpdate = "liveClassesUpdate"
	EventClassStarted      = "classStarted"
	EventClassEnded        = "classEnded"
	EventJoinClassSuccess  = "joinClassSuccess"
	EventJoinClassError    = "joinClassError"
)

// Envelope is the one-message-per-event websocket framing: {"event": ..., "data": ...}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// IdentityPayload announces who this connection belongs to (outbound "join").
type IdentityPayload struct {
	ID           string `json:"identity"`
	Name         string `json:"name"`
	Role         Role   `json:"role"`
	ConnectionID string `json:"connectionId"`
}

// ClassEventPayload is the body of classStarted / joinClassSuccess broadcasts.
type ClassEventPayload struct {
	Success   bool             `json:"success"`
	Message   string           `json:"message,omitempty"`
	LiveClass *LiveClassRecord `json:"liveClass,omitempty"`
}

// ClassEndedPayload carries the ended record id. Older backends broadcast the
// bare id string instead of an object; UnmarshalJSON accepts both.
type ClassEndedPayload struct {
	ID string `json:"id"`
}

func (p *ClassEndedPayload) UnmarshalJSON(data []byte) error {
	var bare string
	if err := json.Unmarshal(data, &bare); err == nil {
		p.ID = bare
		return nil
	}
	type alias ClassEndedPayload
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	p.ID = a.ID
	return nil
}

// JoinClassPayload is the outbound joinLiveClass intent body.
type JoinClassPayload struct {
	ClassID string `json:"classId"`
}

// JoinErrorPayload is the body of a joinClassError broadcast.
type JoinErrorPayload struct {
	Message string `json:"message"`
}
