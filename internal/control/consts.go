package control

import (
	"time"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/motion"
)

const (
	// PositionStep and TiltStep are the fractions moved per key press
	PositionStep = 0.1
	TiltStep     = 0.1

	maxLogLines = 1000

	// statusWaitTimeout bounds how long the status command waits for the motor to report
	statusWaitTimeout = 5 * time.Second
)

// KeyBinding maps a key of the control panel to a controller action
type KeyBinding struct {
	Key         rune
	Label       string
	Description string
	Action      func(c *UIController)
}

// AllKeyBindings defines the control panel keys in display order
var AllKeyBindings = []KeyBinding{
	{Key: 'u', Label: "U", Description: "Up", Action: (*UIController).MoveUp},
	{Key: 'd', Label: "D", Description: "Down", Action: (*UIController).MoveDown},
	{Key: 's', Label: "S", Description: "Stop (twice: favorite)", Action: (*UIController).Stop},
	{Key: 'f', Label: "F", Description: "Favorite", Action: (*UIController).GoFavorite},
	{Key: '+', Label: "+", Description: "Open 10%", Action: func(c *UIController) { c.StepPosition(PositionStep) }},
	{Key: '=', Label: "", Description: "", Action: func(c *UIController) { c.StepPosition(PositionStep) }},
	{Key: '-', Label: "-", Description: "Close 10%", Action: func(c *UIController) { c.StepPosition(-PositionStep) }},
	{Key: ']', Label: "]", Description: "Tilt open", Action: func(c *UIController) { c.StepTilt(TiltStep) }},
	{Key: '[', Label: "[", Description: "Tilt closed", Action: func(c *UIController) { c.StepTilt(-TiltStep) }},
	{Key: '1', Label: "1-3", Description: "Speed", Action: func(c *UIController) { c.SetSpeed(motion.SpeedLow) }},
	{Key: '2', Action: func(c *UIController) { c.SetSpeed(motion.SpeedMedium) }},
	{Key: '3', Action: func(c *UIController) { c.SetSpeed(motion.SpeedHigh) }},
	{Key: 'c', Label: "C", Description: "Connect", Action: (*UIController).Connect},
	{Key: 'x', Label: "X", Description: "Disconnect", Action: (*UIController).Disconnect},
	{Key: 'q', Label: "Q/Esc", Description: "Quit", Action: (*UIController).OnEscapeKey},
}

// GetKeyBinding returns the binding for a key
func GetKeyBinding(key rune) (KeyBinding, bool) {
	for _, binding := range AllKeyBindings {
		if binding.Key == key {
			return binding, true
		}
	}
	return KeyBinding{}, false
}
