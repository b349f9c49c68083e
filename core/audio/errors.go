package audio

import "errors"

// ErrDeviceUnavailable signals that a capture or playback device could
// not be opened or disappeared mid-stream. Callers match it with
// errors.Is and surface a degraded text-only mode instead of crashing.
var ErrDeviceUnavailable = errors.New("audio device unavailable")
