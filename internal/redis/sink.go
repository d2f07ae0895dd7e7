package redis

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mossy-p/randomchat-signaling/internal/matchmaking"
)

const (
	sinkBuffer   = 256
	writeTimeout = 2 * time.Second
)

// StreamWriter is the subset of the go-redis client used by SessionSink.
type StreamWriter interface {
	XAdd(ctx context.Context, a *redis.XAddArgs) *redis.StringCmd
}

// SessionSink appends session lifecycle entries to a Redis stream. Events
// are queued by the matchmaking observer hooks and written by Run, so a slow
// Redis never stalls a websocket reader.
type SessionSink struct {
	matchmaking.NopObserver

	w      StreamWriter
	stream string
	maxLen int64
	logger *zap.Logger
	events chan map[string]any
}

func NewSessionSink(w StreamWriter, stream string, maxLen int64, logger *zap.Logger) *SessionSink {
	return &SessionSink{
		w:      w,
		stream: stream,
		maxLen: maxLen,
		logger: logger,
		events: make(chan map[string]any, sinkBuffer),
	}
}

func (s *SessionSink) SessionStarted(sess matchmaking.Session) {
	s.enqueue(map[string]any{
		"kind":      "started",
		"room":      sess.RoomID,
		"initiator": sess.Peers[0],
		"responder": sess.Peers[1],
		"at":        sess.StartedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (s *SessionSink) SessionEnded(sess matchmaking.Session, reason matchmaking.EndReason) {
	s.enqueue(map[string]any{
		"kind":        "ended",
		"room":        sess.RoomID,
		"ended_by":    sess.Peers[0],
		"partner":     sess.Peers[1],
		"reason":      string(reason),
		"at":          sess.EndedAt.UTC().Format(time.RFC3339Nano),
		"duration_ms": sess.Duration().Milliseconds(),
	})
}

func (s *SessionSink) enqueue(values map[string]any) {
	select {
	case s.events <- values:
	default:
		s.logger.Warn("session sink buffer full, dropping event",
			zap.Any("room", values["room"]), zap.Any("kind", values["kind"]))
	}
}

// Run writes queued events until ctx is cancelled, then flushes whatever is
// still buffered.
func (s *SessionSink) Run(ctx context.Context) error {
	for {
		select {
		case values := <-s.events:
			s.write(ctx, values)
		case <-ctx.Done():
			for {
				select {
				case values := <-s.events:
					s.write(context.Background(), values)
				default:
					return nil
				}
			}
		}
	}
}

func (s *SessionSink) write(ctx context.Context, values map[string]any) {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := s.w.XAdd(ctx, &redis.XAddArgs{
		Stream: s.stream,
		MaxLen: s.maxLen,
		Approx: true,
		Values: values,
	}).Err()
	if err != nil {
		s.logger.Warn("failed to write session event", zap.String("stream", s.stream), zap.Error(err))
	}
}
