package motion

import "errors"

var (
	ErrKeyNotSet             = errors.New("encryption key not set")
	ErrTimezoneNotSet        = errors.New("timezone not set")
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrMalformedNotification = errors.New("malformed notification")
)
