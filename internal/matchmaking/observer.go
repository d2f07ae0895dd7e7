package matchmaking

import (
	"time"

	"github.com/mossy-p/randomchat-signaling/internal/models"
)

// EndReason says why a pairing was torn down.
type EndReason string

const (
	EndNext       EndReason = "next"
	EndDisconnect EndReason = "disconnect"
	EndEvicted    EndReason = "evicted"
)

// DropReason says why a relay was not delivered.
type DropReason string

const (
	DropUnknownTarget DropReason = "unknown_target"
	DropUnknownSender DropReason = "unknown_sender"
	DropSelf          DropReason = "self"
	DropNotPartner    DropReason = "not_partner"
	DropMalformed     DropReason = "malformed"
)

// Session describes one pairing. Peers[0] is the initiator for sessions
// reported by SessionStarted; for SessionEnded it is the peer whose action
// ended the session.
type Session struct {
	RoomID    string
	Peers     [2]string
	StartedAt time.Time
	EndedAt   time.Time
}

func (s Session) Duration() time.Duration {
	if s.StartedAt.IsZero() || s.EndedAt.IsZero() {
		return 0
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Observer is notified of matchmaking activity. Calls happen on the caller's
// goroutine after the registry lock is released, so implementations may do
// I/O but should not block for long.
type Observer interface {
	SessionStarted(s Session)
	SessionEnded(s Session, reason EndReason)
	Relayed(kind models.EventType)
	RelayDropped(kind models.EventType, reason DropReason)
	Rejected(err error)
}

// NopObserver implements Observer with no-ops. Embed it to implement a
// subset of the interface.
type NopObserver struct{}

func (NopObserver) SessionStarted(Session) {}
func (NopObserver) SessionEnded(Session, EndReason) {}
func (NopObserver) Relayed(models.EventType) {}
func (NopObserver) RelayDropped(models.EventType, DropReason) {}
func (NopObserver) Rejected(error) {}

// Observers fans out to every member.
type Observers []Observer

func (o Observers) SessionStarted(s Session) {
	for _, ob := range o {
		ob.SessionStarted(s)
	}
}

func (o Observers) SessionEnded(s Session, reason EndReason) {
	for _, ob := range o {
		ob.SessionEnded(s, reason)
	}
}

func (o Observers) Relayed(kind models.EventType) {
	for _, ob := range o {
		ob.Relayed(kind)
	}
}

func (o Observers) RelayDropped(kind models.EventType, reason DropReason) {
	for _, ob := range o {
		ob.RelayDropped(kind, reason)
	}
}

func (o Observers) Rejected(err error) {
	for _, ob := range o {
		ob.Rejected(err)
	}
}
