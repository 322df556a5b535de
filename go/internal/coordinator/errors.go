package coordinator

import (
	"errors"

	"github.com/mcdev12/duelsync/go/clients"
)

var (
	// ErrNoIdentity is returned when a remote-bound call runs before SetPlayerIdentity.
	ErrNoIdentity = errors.New("no identity")

	// ErrNetwork wraps transport failures and non-success responses.
	ErrNetwork = errors.New("network error")

	// ErrUnknownOperation is returned by replay for a queued type it cannot send.
	ErrUnknownOperation = errors.New("unknown queued operation")
)

// isNetworkFailure reports whether err means the service could not be
// reached, as opposed to the service answering with an error status.
func isNetworkFailure(err error) bool {
	var statusErr *clients.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.StatusCode >= 500
	}
	return true
}
