package playback

import "errors"

// ErrSuperseded indicates a range load finished after a newer load had
// already started; its result was discarded, last request wins.
var ErrSuperseded = errors.New("range load superseded")
