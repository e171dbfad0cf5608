package motion

// Bluetooth service and characteristic UUIDs exposed by MotionBlinds motors
const (
	ServiceUUIDControl      = "d973f2e0-b19e-11e2-9e96-0800200c9a66"
	CharUUIDCommand         = "d973f2e2-b19e-11e2-9e96-0800200c9a66"
	CharUUIDNotification    = "d973f2e1-b19e-11e2-9e96-0800200c9a66"
	AdvertisementNamePrefix = "MOTION"
)

// Range of the percentage and angle command parameters
const (
	MaxPercentage = 100
	MaxAngle      = 180
)

const (
	notificationBlockSize = 16
	statusFrameMinLength  = 18
	percentFrameMinLength = 8
	endPositionUpMask     = 0x08
	endPositionDownMask   = 0x04
	favoritePositionMask  = 0x8000
	timestampHexDigits    = 16
)

// CommandType is the hex tag that prefixes every command sent to the motor.
// The values are fixed by the motor firmware.
type CommandType string

const (
	CommandOpen        CommandType = "03020301"
	CommandClose       CommandType = "03020302"
	CommandStop        CommandType = "03020303"
	CommandFavorite    CommandType = "03020306"
	CommandPercent     CommandType = "05020440"
	CommandAngle       CommandType = "05020420"
	CommandSetKey      CommandType = "02c001"
	CommandSpeed       CommandType = "0403010a"
	CommandStatusQuery CommandType = "03050f02"
)

// String returns a human-readable command name
func (c CommandType) String() string {
	switch c {
	case CommandOpen:
		return "open"
	case CommandClose:
		return "close"
	case CommandStop:
		return "stop"
	case CommandFavorite:
		return "favorite"
	case CommandPercent:
		return "percent"
	case CommandAngle:
		return "angle"
	case CommandSetKey:
		return "set_key"
	case CommandSpeed:
		return "speed"
	case CommandStatusQuery:
		return "status_query"
	default:
		return "unknown"
	}
}

// NotificationType is the hex tag that prefixes a decrypted notification
type NotificationType string

const (
	NotificationUnknown NotificationType = ""
	NotificationPercent NotificationType = "07040402"
	NotificationStatus  NotificationType = "12040f02"
)

// String returns a human-readable notification name
func (n NotificationType) String() string {
	switch n {
	case NotificationPercent:
		return "percent"
	case NotificationStatus:
		return "status"
	default:
		return "unknown"
	}
}

// SpeedLevel is the discrete motor speed
type SpeedLevel uint8

const (
	SpeedUnknown SpeedLevel = iota // 0
	SpeedLow                       // 1
	SpeedMedium                    // 2
	SpeedHigh                      // 3
)

// Valid reports whether the level can be sent to the motor
func (s SpeedLevel) Valid() bool {
	return s >= SpeedLow && s <= SpeedHigh
}

func (s SpeedLevel) String() string {
	switch s {
	case SpeedLow:
		return "Low"
	case SpeedMedium:
		return "Medium"
	case SpeedHigh:
		return "High"
	default:
		return "Unknown"
	}
}
