package bot

import "errors"

// UserError pairs an internal error with the text shown to the chat.
type UserError struct {
	Err     error
	UserMsg string
}

func (e *UserError) Error() string {
	return e.Err.Error()
}

func (e *UserError) Unwrap() error {
	return e.Err
}

func NewUserError(internalErr error, userMsg string) *UserError {
	return &UserError{
		Err:     internalErr,
		UserMsg: userMsg,
	}
}

// userMessage returns the chat-facing text for err, falling back to the
// generic retry message for errors that carry none.
func userMessage(err error) string {
	var userErr *UserError
	if errors.As(err, &userErr) && userErr.UserMsg != "" {
		return userErr.UserMsg
	}
	return textFetchFailed
}
