package errs

import (
	"errors"
	"fmt"
)

// Доменные сентинель-ошибки для маппинга в HTTP коды в handlers.
var (
	ErrNotConnected     = errors.New("channel not connected")
	ErrConnectionFailed = errors.New("channel connection failed")
	ErrClassNotFound    = errors.New("live class not found")
	ErrStartFailed      = errors.New("start class failed")
	ErrEndFailed        = errors.New("end class failed")
	ErrAlreadyEnded     = errors.New("class already ended")
	ErrIntentPending    = errors.New("intent already pending for this class")
	ErrIntentTimeout    = errors.New("intent timed out waiting for backend")
	ErrRecordNotFound   = errors.New("meeting record not found")
)

// JoinRejected carries the server-side rejection message so views can show it.
type JoinRejected struct {
	Message string
}

func (e *JoinRejected) Error() string {
	if e.Message == "" {
		return "join rejected"
	}
	return fmt.Sprintf("join rejected: %s", e.Message)
}
