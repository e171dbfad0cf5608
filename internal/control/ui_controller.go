package control

import (
	"context"
	"errors"
	"log"
	"math"
	"sync"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/blind"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/go_func_utils"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/motion"
)

// UIController turns key presses into blind intents. Intents may connect
// first, so each one runs on its own goroutine and reports through the log.
type UIController struct {
	model  *UIModel
	blind  Blind
	logger *log.Logger
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewUIController(model *UIModel, b Blind, logger *log.Logger) *UIController {
	if model == nil {
		panic("UIController: model cannot be nil")
	}
	if b == nil {
		panic("UIController: blind cannot be nil")
	}
	if logger == nil {
		panic("UIController: logger cannot be nil")
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &UIController{
		model:  model,
		blind:  b,
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// HandleKey runs the action bound to key and reports whether there was one
func (c *UIController) HandleKey(key rune) bool {
	binding, ok := GetKeyBinding(key)
	if !ok {
		return false
	}
	binding.Action(c)
	return true
}

func (c *UIController) run(name string, fn func(ctx context.Context) error) {
	go_func_utils.SafeGoGroup(c.logger, &c.wg, func() {
		err := fn(c.ctx)
		switch {
		case err == nil:
		case errors.Is(err, context.Canceled):
			c.logger.Printf("UIController: %s cancelled", name)
		case blind.IsPrecondition(err):
			c.logger.Printf("UIController: %s refused: %v", name, err)
		default:
			c.logger.Printf("UIController: %s failed: %v", name, err)
		}
	})
}

func (c *UIController) MoveUp() {
	c.run("up", c.blind.MoveUp)
}

func (c *UIController) MoveDown() {
	c.run("down", c.blind.MoveDown)
}

func (c *UIController) Stop() {
	c.run("stop", c.blind.Stop)
}

func (c *UIController) GoFavorite() {
	c.run("favorite", c.blind.GoFavorite)
}

func (c *UIController) SetSpeed(level motion.SpeedLevel) {
	c.run("speed", func(ctx context.Context) error {
		return c.blind.SetSpeed(ctx, level)
	})
}

// StepPosition moves the blind by delta from its last known position
func (c *UIController) StepPosition(delta float64) {
	st := c.model.GetBlindState()
	if !st.Kind.SupportsPosition() {
		c.logger.Printf("UIController: %s blinds have no position", st.Kind)
		return
	}
	if !st.PositionKnown {
		c.logger.Printf("UIController: Position unknown - press 'c' to connect")
		return
	}
	target := step(st.Position, delta)
	c.run("position", func(ctx context.Context) error {
		return c.blind.SetPosition(ctx, target)
	})
}

// StepTilt turns the slats by delta from their last known tilt
func (c *UIController) StepTilt(delta float64) {
	st := c.model.GetBlindState()
	if !st.Kind.SupportsTilt() {
		c.logger.Printf("UIController: %s blinds have no tilt", st.Kind)
		return
	}
	if !st.TiltKnown {
		c.logger.Printf("UIController: Tilt unknown - press 'c' to connect")
		return
	}
	target := step(st.Tilt, delta)
	c.run("tilt", func(ctx context.Context) error {
		return c.blind.SetTilt(ctx, target)
	})
}

// step adds delta to v, clamped to [0,1] and rounded to two decimals
func step(v, delta float64) float64 {
	return math.Round(min(max(v+delta, 0), 1)*100) / 100
}

func (c *UIController) Connect() {
	c.run("connect", func(ctx context.Context) error {
		_, err := c.blind.Connect(ctx)
		return err
	})
}

func (c *UIController) Disconnect() {
	c.run("disconnect", func(ctx context.Context) error {
		return c.blind.Disconnect()
	})
}

// OnEscapeKey handles when the Escape key is pressed
func (c *UIController) OnEscapeKey() {
	c.model.RequestCloseApplication()
}

// Shutdown cancels running intents and waits for them
func (c *UIController) Shutdown() {
	c.cancel()
	c.wg.Wait()
}
