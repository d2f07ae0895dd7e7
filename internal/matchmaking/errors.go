package matchmaking

import (
	"errors"

	"github.com/mossy-p/randomchat-signaling/internal/registry"
)

var (
	ErrUnknownPeer            = registry.ErrUnknownPeer
	ErrAlreadyWaitingOrPaired = registry.ErrAlreadyWaitingOrPaired
	ErrNoOtherUsersOnline     = errors.New("no other users online")
)

// clientMessage maps a service error to the text shown to the client.
func clientMessage(err error) string {
	switch {
	case errors.Is(err, ErrAlreadyWaitingOrPaired):
		return ErrAlreadyWaitingOrPaired.Error()
	case errors.Is(err, ErrNoOtherUsersOnline):
		return ErrNoOtherUsersOnline.Error()
	case errors.Is(err, ErrUnknownPeer):
		return ErrUnknownPeer.Error()
	default:
		return "an error occurred"
	}
}
