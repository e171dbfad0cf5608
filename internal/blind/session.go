package blind

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/events"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/go_func_utils"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/motion"
)

const (
	DefaultFindTimeout       = 10 * time.Second
	DefaultDisconnectAfter   = 15 * time.Second
	DefaultCalibrationWindow = 45 * time.Second
	DefaultDoublePressWindow = 500 * time.Millisecond
	DefaultRSSIInterval      = time.Minute
	DefaultCommandRate       = 5.0
	DefaultCommandBurst      = 2
)

// Config describes one motor and how its session behaves
type Config struct {
	PeripheralID string
	Name         string
	Kind         BlindKind

	FindTimeout       time.Duration
	DisconnectAfter   time.Duration
	CalibrationWindow time.Duration
	DoublePressWindow time.Duration

	// RSSIInterval is how often the signal strength is refreshed while disconnected, 0 to disable
	RSSIInterval time.Duration

	// CommandRate is the number of commands per second written to the motor, <= 0 for no limit
	CommandRate  float64
	CommandBurst int

	Observer Observer
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = c.PeripheralID
	}
	if c.FindTimeout <= 0 {
		c.FindTimeout = DefaultFindTimeout
	}
	if c.DisconnectAfter <= 0 {
		c.DisconnectAfter = DefaultDisconnectAfter
	}
	if c.CalibrationWindow <= 0 {
		c.CalibrationWindow = DefaultCalibrationWindow
	}
	if c.DoublePressWindow <= 0 {
		c.DoublePressWindow = DefaultDoublePressWindow
	}
	if c.CommandBurst <= 0 {
		c.CommandBurst = DefaultCommandBurst
	}
	if c.Observer == nil {
		c.Observer = noopObserver{}
	}
	return c
}

// Session owns the link to one motor and everything learned from it.
//
// User intents connect on demand through the Arbiter, wait for the motor's
// end positions where a movement needs them, then write one encrypted command.
// Notifications flow back through handleNotification, the only writer of
// the end position info.
type Session struct {
	cfg       Config
	transport Transport
	encoder   *motion.Encoder
	decoder   *motion.Decoder
	logger    *log.Logger
	arbiter   *Arbiter
	timer     *disconnectTimer
	limiter   *rate.Limiter
	now       func() time.Time

	mu              sync.Mutex
	state           State
	peripheral      Peripheral
	command         Characteristic
	linkID          uint64
	nextLinkID      uint64
	lastPressed     Control
	lastPosition    float64
	lastTilt        float64
	lastKnown       bool
	lastStopPress   time.Time
	endPositionsSet chan struct{}
	// calibrating is set while the calibration window of a curtain is open
	calibrating bool

	closeOnce sync.Once
	closed    chan struct{}
	wg        sync.WaitGroup

	stateEvent *events.CallbackEvent[State]
}

func NewSession(
	cfg Config,
	transport Transport,
	encoder *motion.Encoder,
	decoder *motion.Decoder,
	logger *log.Logger,
) (*Session, error) {
	if logger == nil {
		panic("Session: logger cannot be nil")
	}
	if transport == nil {
		panic("Session: transport cannot be nil")
	}
	if encoder == nil || decoder == nil {
		panic("Session: encoder and decoder cannot be nil")
	}
	if cfg.PeripheralID == "" {
		return nil, fmt.Errorf("%w: peripheral id is required", motion.ErrInvalidArgument)
	}
	if !cfg.Kind.Valid() {
		return nil, fmt.Errorf("%w: unknown blind kind %q", motion.ErrInvalidArgument, cfg.Kind)
	}
	cfg = cfg.withDefaults()

	limit := rate.Inf
	if cfg.CommandRate > 0 {
		limit = rate.Limit(cfg.CommandRate)
	}

	s := &Session{
		cfg:             cfg,
		transport:       transport,
		encoder:         encoder,
		decoder:         decoder,
		logger:          logger,
		arbiter:         NewArbiter(),
		limiter:         rate.NewLimiter(limit, cfg.CommandBurst),
		now:             time.Now,
		endPositionsSet: make(chan struct{}),
		closed:          make(chan struct{}),
		stateEvent:      events.NewCallbackEvent[State](true),
		state: State{
			ID:      cfg.PeripheralID,
			Name:    cfg.Name,
			Kind:    cfg.Kind,
			Battery: -1,
		},
	}
	s.timer = newDisconnectTimer(s.onIdle)
	if cfg.RSSIInterval > 0 {
		go_func_utils.SafeGoGroup(logger, &s.wg, s.monitorRSSI)
	}
	return s, nil
}

func (s *Session) Config() Config {
	return s.cfg
}

// State returns a snapshot of the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Listen registers fn for state changes. fn is called straight away with the
// current state and must not block.
func (s *Session) Listen(fn func(State)) func() {
	unregister := s.stateEvent.Listen(fn)
	if _, ok := s.stateEvent.Last(); !ok {
		fn(s.State())
	}
	return unregister
}

// modify applies fn to the state under the lock and publishes the result
func (s *Session) modify(fn func(st *State)) {
	s.mu.Lock()
	before := s.state.Connection
	fn(&s.state)
	snapshot := s.state
	s.mu.Unlock()
	s.publish(before, snapshot)
}

func (s *Session) publish(before ConnectionState, snapshot State) {
	if before != snapshot.Connection {
		s.logger.Printf("Blind %s: %v -> %v", s.cfg.Name, before, snapshot.Connection)
		s.cfg.Observer.ConnectionStateChanged(s.cfg.PeripheralID, snapshot.Connection)
	}
	s.stateEvent.Notify(snapshot)
}

func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isConnectedLocked()
}

func (s *Session) isConnectedLocked() bool {
	return s.command != nil && s.peripheral != nil && s.peripheral.IsConnected()
}

// Connect makes sure the motor is connected. It returns true when the caller
// may send a command, and false when another caller took over the attempt.
func (s *Session) Connect(ctx context.Context) (bool, error) {
	select {
	case <-s.closed:
		return false, ErrSessionClosed
	default:
	}
	if s.IsConnected() {
		s.RefreshDisconnectTimer(s.cfg.DisconnectAfter, false)
		return true, nil
	}

	ok, err := s.arbiter.Acquire(ctx, ConnectorFunc(s.establishConnection))
	if err != nil {
		return false, err
	}
	if !ok && ctx.Err() != nil {
		return false, ctx.Err()
	}
	return ok, nil
}

func (s *Session) establishConnection(ctx context.Context) (bool, error) {
	s.cfg.Observer.ConnectAttempt(s.cfg.PeripheralID)
	s.modify(func(st *State) { st.Connection = Connecting })

	ok, err := s.handshake(ctx)
	if err != nil {
		s.logger.Printf("Blind %s: connecting failed: %v", s.cfg.Name, err)
		s.modify(func(st *State) { st.Connection = Disconnected })
		return false, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
	if !ok {
		s.logger.Printf("Blind %s: cancelled connecting", s.cfg.Name)
		s.modify(func(st *State) {
			if st.Connection == Connecting {
				st.Connection = Disconnected
			}
		})
		return false, nil
	}
	s.logger.Printf("Blind %s: ready to send commands", s.cfg.Name)
	return true, nil
}

// handshake opens the link and prepares the motor for commands.
// It returns false when ctx ended between steps; a link opened by an aborted
// or failed handshake is closed again.
func (s *Session) handshake(ctx context.Context) (bool, error) {
	aborted := func() bool { return ctx.Err() != nil }

	s.logger.Printf("Blind %s: finding peripheral %s", s.cfg.Name, s.cfg.PeripheralID)
	if aborted() {
		return false, nil
	}
	adv, err := s.transport.FindPeer(ctx, s.cfg.PeripheralID, s.cfg.FindTimeout)
	if err != nil {
		if aborted() {
			return false, nil
		}
		return false, fmt.Errorf("find peripheral: %w", err)
	}
	s.modify(func(st *State) {
		st.RSSI = adv.RSSI
		st.RSSIKnown = true
	})

	s.logger.Printf("Blind %s: connecting (RSSI %d dBm)", s.cfg.Name, adv.RSSI)
	if aborted() {
		return false, nil
	}
	peripheral, err := s.transport.Connect(ctx, adv)
	if err != nil {
		if aborted() {
			return false, nil
		}
		return false, fmt.Errorf("connect: %w", err)
	}

	s.mu.Lock()
	s.nextLinkID++
	linkID := s.nextLinkID
	s.mu.Unlock()
	peripheral.OnDisconnect(func() { s.onLinkLost(linkID) })

	closeLink := func() {
		if err := peripheral.Disconnect(); err != nil {
			s.logger.Printf("Blind %s: closing link: %v", s.cfg.Name, err)
		}
	}
	abort := func() (bool, error) {
		closeLink()
		return false, nil
	}
	fail := func(err error) (bool, error) {
		closeLink()
		if aborted() {
			return false, nil
		}
		return false, err
	}

	if aborted() {
		return abort()
	}
	s.logger.Printf("Blind %s: getting service", s.cfg.Name)
	service, err := peripheral.Service(motion.ServiceUUIDControl)
	if err != nil {
		return fail(fmt.Errorf("control service: %w", err))
	}
	if aborted() {
		return abort()
	}
	s.logger.Printf("Blind %s: getting characteristics", s.cfg.Name)
	command, err := service.Characteristic(motion.CharUUIDCommand)
	if err != nil {
		return fail(fmt.Errorf("command characteristic: %w", err))
	}
	if aborted() {
		return abort()
	}
	notification, err := service.Characteristic(motion.CharUUIDNotification)
	if err != nil {
		return fail(fmt.Errorf("notification characteristic: %w", err))
	}

	if aborted() {
		return abort()
	}
	s.logger.Printf("Blind %s: subscribing to notifications", s.cfg.Name)
	if err := notification.Subscribe(s.handleNotification); err != nil {
		return fail(fmt.Errorf("subscribe: %w", err))
	}

	if aborted() {
		return abort()
	}
	s.logger.Printf("Blind %s: setting user key", s.cfg.Name)
	if err := s.writeTo(command, motion.CommandSetKey, s.encoder.SetKey); err != nil {
		return fail(err)
	}
	if aborted() {
		return abort()
	}
	if err := s.writeTo(command, motion.CommandStatusQuery, s.encoder.StatusQuery); err != nil {
		return fail(err)
	}

	s.mu.Lock()
	if aborted() {
		s.mu.Unlock()
		return abort()
	}
	s.peripheral = peripheral
	s.command = command
	s.linkID = linkID
	before := s.state.Connection
	s.state.Connection = Connected
	snapshot := s.state
	s.mu.Unlock()
	s.publish(before, snapshot)

	s.RefreshDisconnectTimer(s.cfg.DisconnectAfter, false)
	return true, nil
}

func (s *Session) onLinkLost(linkID uint64) {
	s.mu.Lock()
	current := s.linkID == linkID
	s.mu.Unlock()
	if !current {
		return
	}
	s.logger.Printf("Blind %s: the peripheral has disconnected", s.cfg.Name)
	if err := s.Disconnect(); err != nil {
		s.logger.Printf("Blind %s: disconnect after link loss: %v", s.cfg.Name, err)
	}
}

func (s *Session) onIdle() {
	s.logger.Printf("Blind %s: idle, disconnecting", s.cfg.Name)
	if err := s.Disconnect(); err != nil {
		s.logger.Printf("Blind %s: idle disconnect: %v", s.cfg.Name, err)
	}
}

// Disconnect cancels a connection attempt in flight, forgets the transient
// state and closes the link. End position info is kept; a calibration that
// did not reach the up end is dropped.
func (s *Session) Disconnect() error {
	s.arbiter.Cancel()
	s.timer.Stop()

	s.mu.Lock()
	peripheral := s.peripheral
	s.peripheral = nil
	s.command = nil
	s.linkID = 0
	s.lastPressed = ControlNone
	s.lastKnown = false
	s.lastPosition = 0
	s.lastTilt = 0
	if s.calibrating {
		s.calibrating = false
		s.state.Calibration = Uncalibrated
	}

	before := s.state.Connection
	if peripheral != nil {
		s.state.Connection = Disconnecting
	} else if s.state.Connection == Connected {
		s.state.Connection = Disconnected
	}
	s.state.Position, s.state.PositionKnown = 0, false
	s.state.Tilt, s.state.TiltKnown = 0, false
	s.state.Speed = motion.SpeedUnknown
	s.state.DisconnectDeadline = time.Time{}
	snapshot := s.state
	s.mu.Unlock()
	s.publish(before, snapshot)

	if peripheral == nil {
		return nil
	}

	var err error
	if peripheral.IsConnected() {
		s.logger.Printf("Blind %s: disconnecting", s.cfg.Name)
		err = peripheral.Disconnect()
	}
	s.modify(func(st *State) {
		if st.Connection == Disconnecting {
			st.Connection = Disconnected
		}
	})
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", s.cfg.Name, err)
	}
	return nil
}

// Close disconnects and makes every later intent fail with ErrSessionClosed
func (s *Session) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	err := s.Disconnect()
	s.wg.Wait()
	return err
}

// monitorRSSI looks the motor up every RSSIInterval until the session is closed
func (s *Session) monitorRSSI() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go_func_utils.SafeGo(s.logger, func() {
		select {
		case <-s.closed:
			cancel()
		case <-ctx.Done():
		}
	})

	ticker := time.NewTicker(s.cfg.RSSIInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.refreshRSSI(ctx)
		case <-ctx.Done():
			return
		}
	}
}

// refreshRSSI updates the signal strength from a fresh advertisement.
// A failed lookup marks the RSSI unknown. Skipped while connecting or connected,
// as a connected motor stops advertising.
func (s *Session) refreshRSSI(ctx context.Context) {
	if s.arbiter.isConnecting() || s.IsConnected() {
		return
	}
	adv, err := s.transport.FindPeer(ctx, s.cfg.PeripheralID, s.cfg.FindTimeout)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		s.mu.Lock()
		known := s.state.RSSIKnown
		s.mu.Unlock()
		if known {
			s.logger.Printf("Blind %s: lost the advertisement: %v", s.cfg.Name, err)
		}
		s.modify(func(st *State) {
			st.RSSI = 0
			st.RSSIKnown = false
		})
		return
	}
	s.modify(func(st *State) {
		st.RSSI = adv.RSSI
		st.RSSIKnown = true
	})
}

// RefreshDisconnectTimer moves the idle-disconnect deadline to now+d.
// An earlier deadline than the armed one is ignored unless force is set.
func (s *Session) RefreshDisconnectTimer(d time.Duration, force bool) bool {
	if !s.timer.Refresh(d, force) {
		return false
	}
	deadline, _ := s.timer.Deadline()
	s.modify(func(st *State) { st.DisconnectDeadline = deadline })
	return true
}

// waitForEndPositions blocks until the first STATUS notification was handled
func (s *Session) waitForEndPositions(ctx context.Context) (EndPositionInfo, error) {
	select {
	case <-s.endPositionsSet:
	case <-ctx.Done():
		return EndPositionInfo{}, ctx.Err()
	case <-s.closed:
		return EndPositionInfo{}, ErrSessionClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.EndPositions, nil
}

// handleEndPositions applies the calibration policy of the blind kind before a movement
func (s *Session) handleEndPositions(ctx context.Context) error {
	info, err := s.waitForEndPositions(ctx)
	if err != nil {
		return err
	}
	if info.Up {
		return nil
	}

	switch s.cfg.Kind.CalibrationPolicy() {
	case PolicyCalibrateOnDemand:
		s.logger.Printf("Blind %s: calibrating", s.cfg.Name)
		s.modify(func(st *State) {
			s.calibrating = true
			st.Calibration = Calibrating
		})
		s.RefreshDisconnectTimer(s.cfg.CalibrationWindow, true)
		return nil
	case PolicyPreCalibrated:
		s.modify(func(st *State) { st.Calibration = Uncalibrated })
		return fmt.Errorf("%s: %w", s.cfg.Name, ErrNotCalibrated)
	default:
		return fmt.Errorf("%s: %w", s.cfg.Name, ErrEndPositionsUnset)
	}
}

func (s *Session) handleFavoritePosition(ctx context.Context) error {
	info, err := s.waitForEndPositions(ctx)
	if err != nil {
		return err
	}
	if !info.Favorite {
		return fmt.Errorf("%s: %w", s.cfg.Name, ErrFavoriteNotSet)
	}
	return nil
}

func (s *Session) handleNotification(buf []byte) {
	n, err := s.decoder.Parse(buf)
	if err != nil {
		s.logger.Printf("Blind %s: dropping notification (%d bytes): %v", s.cfg.Name, len(buf), err)
		s.cfg.Observer.NotificationDropped(s.cfg.PeripheralID)
		return
	}
	s.cfg.Observer.NotificationReceived(s.cfg.PeripheralID, n.Type)
	s.logger.Printf("Blind %s: received %s notification %s", s.cfg.Name, n.Type, n.Hex())

	switch n.Type {
	case motion.NotificationStatus:
		s.applyStatus(n.Status)
	case motion.NotificationPercent:
		s.applyPercent(n.Percent)
	}
}

func (s *Session) applyStatus(f *motion.StatusFrame) {
	position, tilt := f.Position(), f.Tilt()
	calibrationDone := false

	s.mu.Lock()
	before := s.state.Connection
	if s.lastPressed != ControlPosition && s.lastPressed != ControlTilt {
		s.setPositionLocked(position, tilt)
	}
	s.lastPosition, s.lastTilt, s.lastKnown = position, tilt, true

	if s.lastPressed != ControlSpeed {
		s.state.Speed = f.Speed
	}
	s.state.Battery = int(f.Battery)

	s.state.EndPositions = EndPositionInfo{
		Up:       f.EndPositions.Up,
		Down:     f.EndPositions.Down,
		Favorite: f.Favorite,
	}
	switch {
	case f.EndPositions.Up:
		calibrationDone = s.calibrating
		s.calibrating = false
		s.state.Calibration = Calibrated
	case s.calibrating:
		s.state.Calibration = Calibrating
	default:
		s.state.Calibration = Uncalibrated
	}
	if !s.state.EndPositionsKnown {
		s.state.EndPositionsKnown = true
		close(s.endPositionsSet)
	}
	snapshot := s.state
	s.mu.Unlock()
	s.publish(before, snapshot)

	if calibrationDone {
		s.endCalibrationWindow()
	}
}

func (s *Session) applyPercent(f *motion.PercentFrame) {
	position, tilt := f.Position(), f.Tilt()
	calibrationDone := false

	s.mu.Lock()
	before := s.state.Connection
	if !s.lastKnown || position != s.lastPosition || tilt != s.lastTilt {
		s.setPositionLocked(position, tilt)
		s.lastPosition, s.lastTilt, s.lastKnown = position, tilt, true
	}
	if s.state.EndPositionsKnown {
		s.state.EndPositions.Up = f.EndPositions.Up
		s.state.EndPositions.Down = f.EndPositions.Down
		if f.EndPositions.Up {
			calibrationDone = s.calibrating
			s.calibrating = false
			s.state.Calibration = Calibrated
		}
	}
	snapshot := s.state
	s.mu.Unlock()
	s.publish(before, snapshot)

	if calibrationDone {
		s.endCalibrationWindow()
	}
}

// endCalibrationWindow brings the disconnect deadline back to the normal window
func (s *Session) endCalibrationWindow() {
	s.logger.Printf("Blind %s: calibrated", s.cfg.Name)
	s.RefreshDisconnectTimer(s.cfg.DisconnectAfter, true)
}

func (s *Session) setPositionLocked(position, tilt float64) {
	if s.cfg.Kind.SupportsPosition() {
		s.state.Position, s.state.PositionKnown = position, true
	}
	if s.cfg.Kind.SupportsTilt() {
		s.state.Tilt, s.state.TiltKnown = tilt, true
	}
}

// runIntent records the control, connects and runs fn when this caller won the connection
func (s *Session) runIntent(ctx context.Context, control Control, fn func(ctx context.Context) error) error {
	s.mu.Lock()
	s.lastPressed = control
	s.mu.Unlock()

	ok, err := s.Connect(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	return fn(ctx)
}

// send builds one command and writes it to the connected motor
func (s *Session) send(ctx context.Context, kind motion.CommandType, build func() ([]byte, error)) error {
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("send %s: %w", kind, err)
	}

	s.mu.Lock()
	command := s.command
	s.mu.Unlock()
	if command == nil {
		return fmt.Errorf("send %s: %w", kind, ErrNotConnected)
	}
	if err := s.writeTo(command, kind, build); err != nil {
		return err
	}
	s.RefreshDisconnectTimer(s.cfg.DisconnectAfter, false)
	return nil
}

func (s *Session) writeTo(command Characteristic, kind motion.CommandType, build func() ([]byte, error)) error {
	buf, err := build()
	if err != nil {
		return fmt.Errorf("build %s command: %w", kind, err)
	}
	if err := command.Write(buf); err != nil {
		return fmt.Errorf("write %s command: %w", kind, err)
	}
	s.cfg.Observer.CommandSent(s.cfg.PeripheralID, kind)
	s.logger.Printf("Blind %s: sent %s", s.cfg.Name, kind)
	return nil
}

func (s *Session) MoveUp(ctx context.Context) error {
	return s.runIntent(ctx, ControlButtons, func(ctx context.Context) error {
		if err := s.handleEndPositions(ctx); err != nil {
			return err
		}
		return s.send(ctx, motion.CommandOpen, s.encoder.Up)
	})
}

func (s *Session) MoveDown(ctx context.Context) error {
	return s.runIntent(ctx, ControlButtons, func(ctx context.Context) error {
		if err := s.handleEndPositions(ctx); err != nil {
			return err
		}
		return s.send(ctx, motion.CommandClose, s.encoder.Down)
	})
}

// Stop halts the motor. A second Stop within the double press window sends
// the motor to its favorite position instead.
func (s *Session) Stop(ctx context.Context) error {
	return s.runIntent(ctx, ControlButtons, func(ctx context.Context) error {
		now := s.now()
		s.mu.Lock()
		double := !s.lastStopPress.IsZero() && now.Sub(s.lastStopPress) < s.cfg.DoublePressWindow
		if double {
			s.lastStopPress = time.Time{}
		} else {
			s.lastStopPress = now
		}
		s.mu.Unlock()

		if double {
			return s.goFavorite(ctx)
		}
		return s.send(ctx, motion.CommandStop, s.encoder.Stop)
	})
}

func (s *Session) GoFavorite(ctx context.Context) error {
	return s.runIntent(ctx, ControlFavorite, s.goFavorite)
}

func (s *Session) goFavorite(ctx context.Context) error {
	if err := s.handleEndPositions(ctx); err != nil {
		return err
	}
	if err := s.handleFavoritePosition(ctx); err != nil {
		return err
	}
	return s.send(ctx, motion.CommandFavorite, s.encoder.Favorite)
}

// SetPosition moves to position in [0,1], 1 being fully open
func (s *Session) SetPosition(ctx context.Context, position float64) error {
	if !s.cfg.Kind.SupportsPosition() {
		return fmt.Errorf("position on %s: %w", s.cfg.Kind, ErrUnsupportedControl)
	}
	if math.IsNaN(position) || position < 0 || position > 1 {
		return fmt.Errorf("%w: position %v outside [0,1]", motion.ErrInvalidArgument, position)
	}
	percentage := PercentageFromPosition(position)
	return s.runIntent(ctx, ControlPosition, func(ctx context.Context) error {
		if err := s.handleEndPositions(ctx); err != nil {
			return err
		}
		return s.send(ctx, motion.CommandPercent, func() ([]byte, error) {
			return s.encoder.Percentage(percentage)
		})
	})
}

// SetTilt turns the slats to tilt in [0,1], 1 being fully open
func (s *Session) SetTilt(ctx context.Context, tilt float64) error {
	if !s.cfg.Kind.SupportsTilt() {
		return fmt.Errorf("tilt on %s: %w", s.cfg.Kind, ErrUnsupportedControl)
	}
	if math.IsNaN(tilt) || tilt < 0 || tilt > 1 {
		return fmt.Errorf("%w: tilt %v outside [0,1]", motion.ErrInvalidArgument, tilt)
	}
	angle := AngleFromTilt(tilt)
	return s.runIntent(ctx, ControlTilt, func(ctx context.Context) error {
		if err := s.handleEndPositions(ctx); err != nil {
			return err
		}
		return s.send(ctx, motion.CommandAngle, func() ([]byte, error) {
			return s.encoder.Tilt(angle)
		})
	})
}

func (s *Session) SetSpeed(ctx context.Context, level motion.SpeedLevel) error {
	if !level.Valid() {
		return fmt.Errorf("%w: speed level %d", motion.ErrInvalidArgument, level)
	}
	return s.runIntent(ctx, ControlSpeed, func(ctx context.Context) error {
		return s.send(ctx, motion.CommandSpeed, func() ([]byte, error) {
			return s.encoder.Speed(level)
		})
	})
}

// PercentageFromPosition converts an open fraction into the motor's closed percentage
func PercentageFromPosition(position float64) int {
	// tolerate float noise such as 0.07*100 = 7.000000000000001
	return motion.MaxPercentage - int(math.Ceil(position*100-1e-9))
}

// AngleFromTilt converts an open fraction into the motor's slat angle
func AngleFromTilt(tilt float64) int {
	return motion.MaxAngle - int(math.Round(motion.MaxAngle*tilt))
}

// IsPrecondition reports whether err is a domain precondition that leaves the session usable
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrNotCalibrated) ||
		errors.Is(err, ErrEndPositionsUnset) ||
		errors.Is(err, ErrFavoriteNotSet) ||
		errors.Is(err, ErrUnsupportedControl) ||
		errors.Is(err, motion.ErrInvalidArgument)
}
