package control

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/blind"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/motion"
)

// CommandKind names a one-shot command
type CommandKind string

const (
	CommandUp         CommandKind = "up"
	CommandDown       CommandKind = "down"
	CommandStop       CommandKind = "stop"
	CommandFavorite   CommandKind = "favorite"
	CommandPosition   CommandKind = "position"
	CommandTilt       CommandKind = "tilt"
	CommandSpeed      CommandKind = "speed"
	CommandConnect    CommandKind = "connect"
	CommandDisconnect CommandKind = "disconnect"
	CommandStatus     CommandKind = "status"
)

// Command is a parsed one-shot command
type Command struct {
	Kind  CommandKind
	Value float64           // position or tilt in [0,1]
	Speed motion.SpeedLevel // speed commands only
}

// ParseCommand parses "up", "position=0.4", "speed=2" and the like
func ParseCommand(s string) (Command, error) {
	name, arg, hasArg := strings.Cut(strings.ToLower(strings.TrimSpace(s)), "=")
	kind := CommandKind(strings.TrimSpace(name))
	arg = strings.TrimSpace(arg)

	switch kind {
	case CommandUp, CommandDown, CommandStop, CommandFavorite, CommandConnect, CommandDisconnect, CommandStatus:
		if hasArg {
			return Command{}, fmt.Errorf("%w: %s takes no value", motion.ErrInvalidArgument, kind)
		}
		return Command{Kind: kind}, nil

	case CommandPosition, CommandTilt:
		if !hasArg {
			return Command{}, fmt.Errorf("%w: %s needs a value, e.g. %s=0.5", motion.ErrInvalidArgument, kind, kind)
		}
		value, err := strconv.ParseFloat(arg, 64)
		if err != nil || value < 0 || value > 1 {
			return Command{}, fmt.Errorf("%w: %s value %q should be between 0 and 1", motion.ErrInvalidArgument, kind, arg)
		}
		return Command{Kind: kind, Value: value}, nil

	case CommandSpeed:
		level, err := strconv.Atoi(arg)
		if !hasArg || err != nil || !motion.SpeedLevel(level).Valid() {
			return Command{}, fmt.Errorf("%w: speed %q should be 1, 2 or 3", motion.ErrInvalidArgument, arg)
		}
		return Command{Kind: kind, Speed: motion.SpeedLevel(level)}, nil

	default:
		return Command{}, fmt.Errorf("%w: unknown command %q", motion.ErrInvalidArgument, s)
	}
}

func (c Command) String() string {
	switch c.Kind {
	case CommandPosition, CommandTilt:
		return fmt.Sprintf("%s=%.2f", c.Kind, c.Value)
	case CommandSpeed:
		return fmt.Sprintf("%s=%d", c.Kind, c.Speed)
	default:
		return string(c.Kind)
	}
}

// Execute runs the command against b
func (c Command) Execute(ctx context.Context, b Blind) error {
	switch c.Kind {
	case CommandUp:
		return b.MoveUp(ctx)
	case CommandDown:
		return b.MoveDown(ctx)
	case CommandStop:
		return b.Stop(ctx)
	case CommandFavorite:
		return b.GoFavorite(ctx)
	case CommandPosition:
		return b.SetPosition(ctx, c.Value)
	case CommandTilt:
		return b.SetTilt(ctx, c.Value)
	case CommandSpeed:
		return b.SetSpeed(ctx, c.Speed)
	case CommandConnect, CommandStatus:
		ok, err := b.Connect(ctx)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("connect: %w", context.Canceled)
		}
		return nil
	case CommandDisconnect:
		return b.Disconnect()
	default:
		return fmt.Errorf("%w: unknown command %q", motion.ErrInvalidArgument, c.Kind)
	}
}

// RunCommand parses and executes one command, then writes the blind state to out.
// The status command waits for the motor to report its end positions first.
func RunCommand(ctx context.Context, b Blind, input string, out io.Writer) error {
	cmd, err := ParseCommand(input)
	if err != nil {
		return err
	}
	if err := cmd.Execute(ctx, b); err != nil {
		return fmt.Errorf("%s: %w", cmd, err)
	}
	if cmd.Kind == CommandStatus {
		waitCtx, cancel := context.WithTimeout(ctx, statusWaitTimeout)
		defer cancel()
		waitForState(waitCtx, b, func(st blind.State) bool { return st.EndPositionsKnown })
	}

	for _, line := range DescribeState(b.State()) {
		fmt.Fprintln(out, line)
	}
	return nil
}

// waitForState blocks until cond holds for a published state or ctx ends
func waitForState(ctx context.Context, b Blind, cond func(blind.State) bool) bool {
	done := make(chan struct{})
	var once sync.Once
	unregister := b.Listen(func(st blind.State) {
		if cond(st) {
			once.Do(func() { close(done) })
		}
	})
	defer unregister()

	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

// DescribeState renders a blind state as "Label: value" lines
func DescribeState(st blind.State) []string {
	unknown := "unknown"
	percent := func(known bool, v float64) string {
		if !known {
			return unknown
		}
		return fmt.Sprintf("%.0f%% open", v*100)
	}

	name := st.Name
	if name == "" {
		name = st.ID
	}
	lines := []string{
		fmt.Sprintf("Blind: %s (%s, %s)", name, st.ID, st.Kind),
		fmt.Sprintf("Connection: %s", st.Connection),
		fmt.Sprintf("Calibration: %s", st.Calibration),
	}
	if st.Kind.SupportsPosition() {
		lines = append(lines, fmt.Sprintf("Position: %s", percent(st.PositionKnown, st.Position)))
	}
	if st.Kind.SupportsTilt() {
		lines = append(lines, fmt.Sprintf("Tilt: %s", percent(st.TiltKnown, st.Tilt)))
	}

	speed := unknown
	if st.Speed.Valid() {
		speed = st.Speed.String()
	}
	battery := unknown
	if st.Battery >= 0 {
		battery = fmt.Sprintf("%d%%", st.Battery)
	}
	rssi := unknown
	if st.RSSIKnown {
		rssi = fmt.Sprintf("%d dBm", st.RSSI)
	}
	lines = append(lines,
		fmt.Sprintf("Speed: %s", speed),
		fmt.Sprintf("Battery: %s", battery),
		fmt.Sprintf("Signal: %s", rssi),
	)

	if st.EndPositionsKnown {
		lines = append(lines, fmt.Sprintf("End positions: up=%v down=%v favorite=%v",
			st.EndPositions.Up, st.EndPositions.Down, st.EndPositions.Favorite))
	} else {
		lines = append(lines, "End positions: "+unknown)
	}
	if !st.DisconnectDeadline.IsZero() {
		remaining := time.Until(st.DisconnectDeadline).Round(time.Second)
		lines = append(lines, fmt.Sprintf("Disconnect in: %v", max(remaining, 0)))
	}
	return lines
}
