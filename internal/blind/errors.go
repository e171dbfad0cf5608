package blind

import "errors"

var (
	ErrNotCalibrated      = errors.New("blind needs to be calibrated with the MotionBlinds app before use")
	ErrEndPositionsUnset  = errors.New("end positions need to be set before use")
	ErrFavoriteNotSet     = errors.New("favorite position needs to be set before use")
	ErrConnectionFailed   = errors.New("connection failed")
	ErrNotConnected       = errors.New("not connected")
	ErrUnsupportedControl = errors.New("control not supported by this blind kind")
	ErrSessionClosed      = errors.New("session closed")
)
