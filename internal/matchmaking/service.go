package matchmaking

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mossy-p/randomchat-signaling/internal/models"
	"github.com/mossy-p/randomchat-signaling/internal/registry"
)

// RelayPolicy decides which targets a peer may send signaling payloads to.
type RelayPolicy string

const (
	// RelayToKnown delivers to any connected peer.
	RelayToKnown RelayPolicy = "known"
	// RelayToPartner delivers only to the sender's current partner.
	RelayToPartner RelayPolicy = "partner"
)

// ParseRelayPolicy validates a policy name. The empty string selects
// RelayToKnown.
func ParseRelayPolicy(s string) (RelayPolicy, error) {
	switch RelayPolicy(s) {
	case "", RelayToKnown:
		return RelayToKnown, nil
	case RelayToPartner:
		return RelayToPartner, nil
	default:
		return "", fmt.Errorf("unknown relay policy %q", s)
	}
}

// Delivery is an instruction for the transport: send Event with Payload to
// the connection identified by To.
type Delivery struct {
	To      string
	Event   models.EventType
	Payload any
}

// Options configures a Service. Zero values pick defaults.
type Options struct {
	RelayPolicy RelayPolicy
	Observer    Observer
	Logger      *zap.Logger
	NewRoomID   func() string
	Now         func() time.Time
}

// Service turns client events into registry transitions and the deliveries
// those transitions require. It never talks to the transport itself:
// deliveries are built after the registry lock has been released and handed
// back to the caller.
type Service struct {
	reg       *registry.Registry
	policy    RelayPolicy
	observer  Observer
	logger    *zap.Logger
	newRoomID func() string
	now       func() time.Time
}

func New(reg *registry.Registry, opts Options) *Service {
	s := &Service{
		reg:       reg,
		policy:    opts.RelayPolicy,
		observer:  opts.Observer,
		logger:    opts.Logger,
		newRoomID: opts.NewRoomID,
		now:       opts.Now,
	}
	if s.policy == "" {
		s.policy = RelayToKnown
	}
	if s.observer == nil {
		s.observer = NopObserver{}
	}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.newRoomID == nil {
		s.newRoomID = func() string { return "room_" + uuid.NewString() }
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

type match struct {
	initiator string
	responder string
	room      string
}

// outcome records what happened inside one critical section.
type outcome struct {
	ended   *registry.Unlinked
	queued  bool
	matched *match
}

// Connect registers a freshly accepted connection.
func (s *Service) Connect(id string) []Delivery {
	if !s.reg.Register(id) {
		s.logger.Warn("peer registered twice", zap.String("peer", id))
	}
	s.logger.Debug("peer connected", zap.String("peer", id))
	return []Delivery{{
		To:      id,
		Event:   models.EventConnectionStatus,
		Payload: models.ConnectionStatusPayload{Status: "connected", ID: id},
	}}
}

// Join puts id in the waiting queue and pairs the two oldest waiters if
// possible.
func (s *Service) Join(id string) ([]Delivery, error) {
	var (
		out outcome
		err error
	)
	s.reg.Update(func(tx *registry.Txn) {
		err = s.join(tx, id, &out)
	})
	return s.finish(id, EndNext, out, err)
}

// Next drops the current partner or queue position of id and looks for a new
// partner. The availability check, teardown and rematch form one critical
// section.
func (s *Service) Next(id string) ([]Delivery, error) {
	var (
		out outcome
		err error
	)
	s.reg.Update(func(tx *registry.Txn) {
		if !tx.Known(id) {
			err = fmt.Errorf("next %s: %w", id, ErrUnknownPeer)
			return
		}
		if tx.CountOthersAvailable(id) == 0 {
			err = fmt.Errorf("next %s: %w", id, ErrNoOtherUsersOnline)
			return
		}
		if u, ok := tx.Unlink(id); ok {
			out.ended = &u
		}
		err = s.join(tx, id, &out)
	})
	return s.finish(id, EndNext, out, err)
}

// Disconnect forgets id and notifies its partner, if any. Unknown ids are a
// no-op.
func (s *Service) Disconnect(id string) []Delivery {
	deliveries, _ := s.remove(id, EndDisconnect)
	return deliveries
}

// Evict removes id on operator request. It reports whether id was known.
func (s *Service) Evict(id string) ([]Delivery, bool) {
	return s.remove(id, EndEvicted)
}

func (s *Service) remove(id string, reason EndReason) ([]Delivery, bool) {
	var (
		out   outcome
		known bool
	)
	s.reg.Update(func(tx *registry.Txn) {
		known = tx.Known(id)
		if u, ok := tx.Remove(id); ok {
			out.ended = &u
		}
	})
	if known {
		s.logger.Debug("peer removed", zap.String("peer", id), zap.String("reason", string(reason)))
	}
	deliveries, _ := s.finish(id, reason, out, nil)
	return deliveries, known
}

// Relay forwards a signaling payload from sender to target. Undeliverable
// payloads are dropped silently; the returned slice is then empty.
func (s *Service) Relay(kind models.EventType, sender, target string, payload json.RawMessage) []Delivery {
	if !kind.IsRelay() {
		return nil
	}
	if sender == target {
		return s.drop(kind, sender, target, DropSelf)
	}

	var reason DropReason
	s.reg.Update(func(tx *registry.Txn) {
		from, ok := tx.Lookup(sender)
		switch {
		case !ok:
			reason = DropUnknownSender
		case !tx.Known(target):
			reason = DropUnknownTarget
		case s.policy == RelayToPartner && (from.State != registry.StatePaired || from.PartnerID != target):
			reason = DropNotPartner
		}
	})
	if reason != "" {
		return s.drop(kind, sender, target, reason)
	}

	body, err := attribute(payload, sender)
	if err != nil {
		return s.drop(kind, sender, target, DropMalformed)
	}

	s.observer.Relayed(kind)
	s.logger.Debug("relaying signal",
		zap.String("kind", string(kind)),
		zap.String("from", sender),
		zap.String("to", target))
	return []Delivery{{To: target, Event: kind, Payload: body}}
}

// Stats returns a snapshot of the registry.
func (s *Service) Stats() registry.Stats {
	return s.reg.Stats()
}

func (s *Service) drop(kind models.EventType, sender, target string, reason DropReason) []Delivery {
	s.observer.RelayDropped(kind, reason)
	s.logger.Debug("relay dropped",
		zap.String("kind", string(kind)),
		zap.String("from", sender),
		zap.String("to", target),
		zap.String("reason", string(reason)))
	return nil
}

// join must run inside Update.
func (s *Service) join(tx *registry.Txn, id string, out *outcome) error {
	if err := tx.EnqueueWaiting(id); err != nil {
		return err
	}
	out.queued = true
	if first, second, ok := tx.DequeueTwoOldest(); ok {
		room := s.newRoomID()
		tx.Pair(first, second, room)
		out.matched = &match{initiator: first, responder: second, room: room}
	}
	return nil
}

// finish turns an outcome into deliveries and observer calls. It runs after
// the registry lock is released.
func (s *Service) finish(id string, reason EndReason, out outcome, err error) ([]Delivery, error) {
	var deliveries []Delivery
	now := s.now()

	if out.ended != nil {
		s.observer.SessionEnded(Session{
			RoomID:    out.ended.RoomID,
			Peers:     [2]string{id, out.ended.PartnerID},
			StartedAt: out.ended.PairedAt,
			EndedAt:   now,
		}, reason)
		s.logger.Info("session ended",
			zap.String("room", out.ended.RoomID),
			zap.String("peer", id),
			zap.String("partner", out.ended.PartnerID),
			zap.String("reason", string(reason)))
		deliveries = append(deliveries, Delivery{To: out.ended.PartnerID, Event: models.EventPartnerDisconnected})
	}

	if err != nil {
		s.observer.Rejected(err)
		s.logger.Debug("request rejected", zap.String("peer", id), zap.Error(err))
		deliveries = append(deliveries, Delivery{
			To:      id,
			Event:   models.EventError,
			Payload: models.ErrorPayload{Message: clientMessage(err)},
		})
		return deliveries, err
	}

	switch {
	case out.matched != nil:
		m := out.matched
		s.observer.SessionStarted(Session{
			RoomID:    m.room,
			Peers:     [2]string{m.initiator, m.responder},
			StartedAt: now,
		})
		s.logger.Info("peers matched",
			zap.String("room", m.room),
			zap.String("initiator", m.initiator),
			zap.String("responder", m.responder))
		deliveries = append(deliveries,
			Delivery{
				To:      m.initiator,
				Event:   models.EventMatched,
				Payload: models.MatchedPayload{PartnerID: m.responder, Room: m.room, Initiator: true},
			},
			Delivery{
				To:      m.responder,
				Event:   models.EventMatched,
				Payload: models.MatchedPayload{PartnerID: m.initiator, Room: m.room, Initiator: false},
			})
	case out.queued:
		deliveries = append(deliveries, Delivery{To: id, Event: models.EventWaiting})
	}
	return deliveries, nil
}

var errNotObject = errors.New("payload is not a JSON object")

// attribute stamps the sender id on a relayed payload. The sender is written
// to "target" as well as "from" because clients answer to the "target" they
// received.
func attribute(payload json.RawMessage, sender string) (json.RawMessage, error) {
	fields := map[string]json.RawMessage{}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &fields); err != nil {
			return nil, err
		}
		if fields == nil {
			return nil, errNotObject
		}
	}
	id, err := json.Marshal(sender)
	if err != nil {
		return nil, err
	}
	fields["target"] = id
	fields["from"] = id
	return json.Marshal(fields)
}
