package motion

import (
	"encoding/hex"
	"fmt"
)

// Encoder builds encrypted commands ready to be written to the command characteristic.
// Every command is the type tag, its parameters and the current timestamp.
type Encoder struct {
	cipher *Cipher
	clock  *Clock
}

// NewEncoder creates a new Encoder
func NewEncoder(cipher *Cipher, clock *Clock) *Encoder {
	return &Encoder{cipher: cipher, clock: clock}
}

// Up moves the blind to its upper end position
func (e *Encoder) Up() ([]byte, error) {
	return e.build(CommandOpen, "")
}

// Down moves the blind to its lower end position
func (e *Encoder) Down() ([]byte, error) {
	return e.build(CommandClose, "")
}

// Stop halts the blind where it is
func (e *Encoder) Stop() ([]byte, error) {
	return e.build(CommandStop, "")
}

// Favorite moves the blind to its stored favorite position
func (e *Encoder) Favorite() ([]byte, error) {
	return e.build(CommandFavorite, "")
}

// SetKey must be the first command after connecting
func (e *Encoder) SetKey() ([]byte, error) {
	return e.build(CommandSetKey, "")
}

// StatusQuery asks the motor for a full status notification
func (e *Encoder) StatusQuery() ([]byte, error) {
	return e.build(CommandStatusQuery, "")
}

// Percentage moves the blind to a position between 0 and 100 inclusive
func (e *Encoder) Percentage(percent int) ([]byte, error) {
	if percent < 0 || percent > MaxPercentage {
		return nil, fmt.Errorf("%w: percentage %d should be between 0 and %d", ErrInvalidArgument, percent, MaxPercentage)
	}
	return e.build(CommandPercent, fmt.Sprintf("%02x00", percent))
}

// Tilt rotates the slats to an angle between 0 and 180 inclusive
func (e *Encoder) Tilt(angle int) ([]byte, error) {
	if angle < 0 || angle > MaxAngle {
		return nil, fmt.Errorf("%w: angle %d should be between 0 and %d", ErrInvalidArgument, angle, MaxAngle)
	}
	return e.build(CommandAngle, fmt.Sprintf("00%02x", angle))
}

// Speed sets the motor speed level
func (e *Encoder) Speed(level SpeedLevel) ([]byte, error) {
	if !level.Valid() {
		return nil, fmt.Errorf("%w: speed level %d", ErrInvalidArgument, level)
	}
	return e.build(CommandSpeed, fmt.Sprintf("%02x", uint8(level)))
}

func (e *Encoder) build(commandType CommandType, params string) ([]byte, error) {
	timestamp, err := e.clock.TimestampHex()
	if err != nil {
		return nil, err
	}
	plaintext, err := hex.DecodeString(string(commandType) + params + timestamp)
	if err != nil {
		return nil, fmt.Errorf("encoding %s command: %w", commandType, err)
	}
	return e.cipher.EncryptBytes(plaintext)
}
