package crossbar

import (
	"errors"
	"fmt"
)

// Sentinel error kinds per the §7 error taxonomy. Use errors.Is against these
// to classify a returned error without matching on message text.
var (
	// ErrInvalidChannelName is returned for empty or whitespace-only channel
	// names and names exceeding MaxChannelNameLength. Names that carry the
	// system prefix are not rejected.
	ErrInvalidChannelName = errors.New("crossbar: invalid channel name")

	// ErrChannelTypeMismatch is returned when a publish or subscribe targets
	// a channel already bound to a different body type.
	ErrChannelTypeMismatch = errors.New("crossbar: channel type mismatch")

	// ErrFailedPublish is returned for store=true without a key, or when a
	// FailPublish subscriber is disposed while a publish waits for room in
	// its full queue.
	ErrFailedPublish = errors.New("crossbar: publish failed")

	// ErrDisposed is returned for any operation after hub or subscription
	// disposal.
	ErrDisposed = errors.New("crossbar: operation on disposed resource")

	// ErrCorruptedRecording is returned by the player when a frame's magic
	// or suffix marker does not match, lengths are negative, or the body is
	// truncated.
	ErrCorruptedRecording = errors.New("crossbar: corrupted recording")

	// ErrChannelLimitExceeded is returned when CrossBarOptions.MaxChannels
	// is set and a publish or subscribe would create a new channel beyond
	// that limit.
	ErrChannelLimitExceeded = errors.New("crossbar: channel limit exceeded")
)

func invalidChannelNamef(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidChannelName, fmt.Sprintf(format, args...))
}

func typeMismatchf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrChannelTypeMismatch, fmt.Sprintf(format, args...))
}

func failedPublishf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFailedPublish, fmt.Sprintf(format, args...))
}
