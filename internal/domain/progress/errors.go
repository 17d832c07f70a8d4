package progress

import "errors"

// ErrNoProgress reports that no run was ever recorded for the competition being polled.
var ErrNoProgress = errors.New("no run progress recorded")
