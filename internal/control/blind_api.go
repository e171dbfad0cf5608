package control

import (
	"context"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/blind"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/motion"
)

// Blind is the part of a blind session the control panel drives
type Blind interface {
	State() blind.State
	Listen(fn func(blind.State)) func()

	Connect(ctx context.Context) (bool, error)
	Disconnect() error

	MoveUp(ctx context.Context) error
	MoveDown(ctx context.Context) error
	Stop(ctx context.Context) error
	GoFavorite(ctx context.Context) error
	SetPosition(ctx context.Context, position float64) error
	SetTilt(ctx context.Context, tilt float64) error
	SetSpeed(ctx context.Context, level motion.SpeedLevel) error
}

var _ Blind = (*blind.Session)(nil)
