package blind

import (
	"fmt"
	"strings"
	"time"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/motion"
)

// BlindKind is the mechanical type of blind a motor drives
type BlindKind string

const (
	KindRoller           BlindKind = "roller"
	KindHoneycomb        BlindKind = "honeycomb"
	KindRoman            BlindKind = "roman"
	KindVenetian         BlindKind = "venetian"
	KindVenetianTiltOnly BlindKind = "venetian_tilt_only"
	KindDoubleRoller     BlindKind = "double_roller"
	KindCurtain          BlindKind = "curtain"
	KindVertical         BlindKind = "vertical"
)

// AllKinds lists every supported blind kind
var AllKinds = []BlindKind{
	KindRoller,
	KindHoneycomb,
	KindRoman,
	KindVenetian,
	KindVenetianTiltOnly,
	KindDoubleRoller,
	KindCurtain,
	KindVertical,
}

// ParseBlindKind accepts the kind names case-insensitively, with '-' or ' ' in place of '_'
func ParseBlindKind(name string) (BlindKind, error) {
	normalized := strings.ToLower(strings.TrimSpace(name))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	for _, kind := range AllKinds {
		if string(kind) == normalized {
			return kind, nil
		}
	}
	return "", fmt.Errorf("%w: unknown blind kind %q", motion.ErrInvalidArgument, name)
}

func (k BlindKind) Valid() bool {
	for _, kind := range AllKinds {
		if kind == k {
			return true
		}
	}
	return false
}

func (k BlindKind) SupportsTilt() bool {
	switch k {
	case KindVenetian, KindVenetianTiltOnly, KindDoubleRoller:
		return true
	default:
		return false
	}
}

func (k BlindKind) SupportsPosition() bool {
	return k.Valid() && k != KindVenetianTiltOnly
}

// CalibrationPolicy decides what a movement does while the up end position is unknown
type CalibrationPolicy int

const (
	// PolicyEndPositionsRequired refuses to move until end positions are set
	PolicyEndPositionsRequired CalibrationPolicy = iota
	// PolicyCalibrateOnDemand moves anyway; the motor learns its end positions on the way
	PolicyCalibrateOnDemand
	// PolicyPreCalibrated refuses to move until the blind was calibrated with the vendor app
	PolicyPreCalibrated
)

func (k BlindKind) CalibrationPolicy() CalibrationPolicy {
	switch k {
	case KindCurtain:
		return PolicyCalibrateOnDemand
	case KindVertical:
		return PolicyPreCalibrated
	default:
		return PolicyEndPositionsRequired
	}
}

type ConnectionState int

const (
	Disconnected ConnectionState = iota
	Connecting
	Connected
	Disconnecting
)

func (c ConnectionState) String() string {
	switch c {
	case Disconnected:
		return "Disconnected"
	case Connecting:
		return "Connecting"
	case Connected:
		return "Connected"
	case Disconnecting:
		return "Disconnecting"
	default:
		return "Unknown"
	}
}

type CalibrationState int

const (
	Uncalibrated CalibrationState = iota
	Calibrating
	Calibrated
)

func (c CalibrationState) String() string {
	switch c {
	case Uncalibrated:
		return "Uncalibrated"
	case Calibrating:
		return "Calibrating"
	case Calibrated:
		return "Calibrated"
	default:
		return "Unknown"
	}
}

// EndPositionInfo is what the motor reported about its learned limits
type EndPositionInfo struct {
	Up       bool
	Down     bool
	Favorite bool
}

// Control identifies the user control that issued the last intent
type Control int

const (
	ControlNone Control = iota
	ControlButtons
	ControlPosition
	ControlTilt
	ControlSpeed
	ControlFavorite
	ControlConnection
)

// State is a snapshot of everything a session knows about its motor.
// Position and Tilt are in [0,1] where 1 is fully open.
type State struct {
	ID                 string
	Name               string
	Kind               BlindKind
	Connection         ConnectionState
	Calibration        CalibrationState
	EndPositions       EndPositionInfo
	EndPositionsKnown  bool
	Position           float64
	PositionKnown      bool
	Tilt               float64
	TiltKnown          bool
	Speed              motion.SpeedLevel
	Battery            int // -1 while unknown
	RSSI               int16
	RSSIKnown          bool
	DisconnectDeadline time.Time
}
