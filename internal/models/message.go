package models

import "encoding/json"

// EventType names a signaling event on the websocket.
type EventType string

// Client to server.
const (
	EventJoin              EventType = "join"
	EventNext              EventType = "next"
	EventOffer             EventType = "offer"
	EventAnswer            EventType = "answer"
	EventICECandidate      EventType = "ice_candidate"
	EventICECandidateAlias EventType = "ice-candidate"
)

// Server to client.
const (
	EventConnectionStatus    EventType = "connection_status"
	EventWaiting             EventType = "waiting"
	EventMatched             EventType = "matched"
	EventPartnerDisconnected EventType = "partner_disconnected"
	EventError               EventType = "error"
)

// IsRelay reports whether e is forwarded verbatim to another peer.
func (e EventType) IsRelay() bool {
	switch e {
	case EventOffer, EventAnswer, EventICECandidate:
		return true
	}
	return false
}

// Envelope is the frame format in both directions.
type Envelope struct {
	Type    EventType       `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// RelayTarget is the only field the server reads from relayed payloads.
type RelayTarget struct {
	Target string `json:"target"`
}

// ConnectionStatusPayload is sent once right after the socket is accepted.
type ConnectionStatusPayload struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// ErrorPayload carries a human readable reason.
type ErrorPayload struct {
	Message string `json:"message"`
}
