package motion

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
)

// EndPositions holds the end-position flags reported by the motor
type EndPositions struct {
	Up   bool
	Down bool
}

// ParseEndPositions decodes the end-position flag byte
func ParseEndPositions(b byte) EndPositions {
	return EndPositions{
		Up:   b&endPositionUpMask != 0,
		Down: b&endPositionDownMask != 0,
	}
}

// StatusFrame is the full status reported after a status query
type StatusFrame struct {
	EndPositions EndPositions
	RawPosition  uint8
	RawTilt      uint8
	Speed        SpeedLevel
	Favorite     bool
	Battery      uint8
}

// Position returns the blind position from 0.0 to 1.0
func (f StatusFrame) Position() float64 {
	return PositionFromRaw(f.RawPosition)
}

// Tilt returns the slat tilt from 0.0 to 1.0
func (f StatusFrame) Tilt() float64 {
	return TiltFromRaw(f.RawTilt)
}

// PercentFrame is the incremental update sent while the blind moves
type PercentFrame struct {
	EndPositions EndPositions
	RawPosition  uint8
	RawTilt      uint8
}

// Position returns the blind position from 0.0 to 1.0
func (f PercentFrame) Position() float64 {
	return PositionFromRaw(f.RawPosition)
}

// Tilt returns the slat tilt from 0.0 to 1.0
func (f PercentFrame) Tilt() float64 {
	return TiltFromRaw(f.RawTilt)
}

// Notification is a decrypted and classified notification.
// Exactly one of Status and Percent is set for known types.
type Notification struct {
	Type      NotificationType
	Plaintext []byte
	Status    *StatusFrame
	Percent   *PercentFrame
}

// Hex returns the decrypted payload as a hex string
func (n Notification) Hex() string {
	return hex.EncodeToString(n.Plaintext)
}

// PositionFromRaw converts the raw position percentage, 100 meaning fully closed
func PositionFromRaw(raw uint8) float64 {
	return 1 - float64(raw)/MaxPercentage
}

// TiltFromRaw converts the raw tilt angle to a 0.0-1.0 fraction rounded to two decimals
func TiltFromRaw(raw uint8) float64 {
	return 1 - math.Round(float64(raw)/MaxAngle*100)/100
}

// Decoder decrypts and classifies notifications
type Decoder struct {
	cipher *Cipher
}

// NewDecoder creates a new Decoder
func NewDecoder(cipher *Cipher) *Decoder {
	return &Decoder{cipher: cipher}
}

// Decrypt decrypts a raw notification buffer
func (d *Decoder) Decrypt(buf []byte) ([]byte, error) {
	if len(buf) == 0 || len(buf)%notificationBlockSize != 0 {
		return nil, fmt.Errorf("%w: length %d is not a multiple of %d", ErrMalformedNotification, len(buf), notificationBlockSize)
	}
	plaintext, err := d.cipher.DecryptBytes(buf)
	if err != nil {
		if errors.Is(err, ErrKeyNotSet) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
	}
	return plaintext, nil
}

// DecryptToHex decrypts a raw notification buffer and returns it hex encoded
func (d *Decoder) DecryptToHex(buf []byte) (string, error) {
	plaintext, err := d.Decrypt(buf)
	if err != nil {
		return "", err
	}
	return hex.EncodeToString(plaintext), nil
}

// Parse decrypts a notification and extracts the fields of the known frame types.
// Notifications with an unknown tag are returned with Type NotificationUnknown.
func (d *Decoder) Parse(buf []byte) (Notification, error) {
	plaintext, err := d.Decrypt(buf)
	if err != nil {
		return Notification{}, err
	}
	n := Notification{Type: classify(plaintext), Plaintext: plaintext}

	switch n.Type {
	case NotificationStatus:
		if len(plaintext) < statusFrameMinLength {
			return Notification{}, fmt.Errorf("%w: status frame has %d bytes", ErrMalformedNotification, len(plaintext))
		}
		n.Status = &StatusFrame{
			EndPositions: ParseEndPositions(plaintext[4]),
			RawPosition:  plaintext[6],
			RawTilt:      plaintext[7],
			Speed:        SpeedLevel(plaintext[12]),
			Favorite:     (uint16(plaintext[14])<<8|uint16(plaintext[15]))&favoritePositionMask != 0,
			Battery:      plaintext[17],
		}
		if !n.Status.Speed.Valid() {
			n.Status.Speed = SpeedUnknown
		}
	case NotificationPercent:
		if len(plaintext) < percentFrameMinLength {
			return Notification{}, fmt.Errorf("%w: percent frame has %d bytes", ErrMalformedNotification, len(plaintext))
		}
		n.Percent = &PercentFrame{
			EndPositions: ParseEndPositions(plaintext[4]),
			RawPosition:  plaintext[6],
			RawTilt:      plaintext[7],
		}
	}
	return n, nil
}

func classify(plaintext []byte) NotificationType {
	for _, t := range []NotificationType{NotificationStatus, NotificationPercent} {
		tag, _ := hex.DecodeString(string(t))
		if bytes.HasPrefix(plaintext, tag) {
			return t
		}
	}
	return NotificationUnknown
}
