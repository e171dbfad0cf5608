package blind

import (
	"context"
	"encoding/hex"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/motion"
)

const testKey = "a3q8r8c135sqbn66"

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

func newTestLogger(t *testing.T) *log.Logger {
	return log.New(testWriter{t}, "", 0)
}

type fakeCharacteristic struct {
	mu       sync.Mutex
	writes   [][]byte
	onNotify func([]byte)
	writeErr error
}

func (c *fakeCharacteristic) Write(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.writes = append(c.writes, append([]byte(nil), data...))
	return nil
}

func (c *fakeCharacteristic) Subscribe(onNotify func([]byte)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onNotify = onNotify
	return nil
}

func (c *fakeCharacteristic) notify(buf []byte) {
	c.mu.Lock()
	fn := c.onNotify
	c.mu.Unlock()
	fn(buf)
}

func (c *fakeCharacteristic) written() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.writes...)
}

type fakePeripheral struct {
	mu           sync.Mutex
	connected    bool
	onDisconnect []func()
	disconnects  int
	serviceErr   error
	command      *fakeCharacteristic
	notification *fakeCharacteristic
}

func (p *fakePeripheral) Service(uuid string) (Service, error) {
	if p.serviceErr != nil {
		return nil, p.serviceErr
	}
	if uuid != motion.ServiceUUIDControl {
		return nil, errors.New("no such service")
	}
	return p, nil
}

func (p *fakePeripheral) Characteristic(uuid string) (Characteristic, error) {
	switch uuid {
	case motion.CharUUIDCommand:
		return p.command, nil
	case motion.CharUUIDNotification:
		return p.notification, nil
	default:
		return nil, errors.New("no such characteristic")
	}
}

func (p *fakePeripheral) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *fakePeripheral) OnDisconnect(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDisconnect = append(p.onDisconnect, fn)
}

func (p *fakePeripheral) Disconnect() error {
	p.mu.Lock()
	wasConnected := p.connected
	p.connected = false
	p.disconnects++
	handlers := p.onDisconnect
	p.onDisconnect = nil
	p.mu.Unlock()
	if wasConnected {
		for _, fn := range handlers {
			fn()
		}
	}
	return nil
}

func (p *fakePeripheral) disconnectCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.disconnects
}

type fakeTransport struct {
	mu         sync.Mutex
	finds      int
	findErr    error
	findBlock  bool
	findGate   chan struct{} // FindPeer waits for it to close when set
	rssi       int16
	peripheral *fakePeripheral
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{rssi: -61}
}

func (f *fakeTransport) FindPeer(ctx context.Context, id string, timeout time.Duration) (Advertisement, error) {
	f.mu.Lock()
	f.finds++
	block, gate, err, rssi := f.findBlock, f.findGate, f.findErr, f.rssi
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return Advertisement{}, ctx.Err()
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Advertisement{}, ctx.Err()
		}
	}
	if err != nil {
		return Advertisement{}, err
	}
	return Advertisement{ID: id, LocalName: "MOTION_TEST", RSSI: rssi}, nil
}

func (f *fakeTransport) set(fn func(f *fakeTransport)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeTransport) Connect(ctx context.Context, adv Advertisement) (Peripheral, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.peripheral == nil {
		f.peripheral = &fakePeripheral{
			command:      &fakeCharacteristic{},
			notification: &fakeCharacteristic{},
		}
	}
	f.peripheral.mu.Lock()
	f.peripheral.connected = true
	f.peripheral.mu.Unlock()
	return f.peripheral, nil
}

func (f *fakeTransport) findCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finds
}

type sessionFixture struct {
	session   *Session
	transport *fakeTransport
	cipher    *motion.Cipher
}

func newSessionFixture(t *testing.T, kind BlindKind, tweak ...func(*Config)) *sessionFixture {
	t.Helper()
	cipher, err := motion.NewCipher(testKey)
	require.NoError(t, err)
	clock, err := motion.NewClock("UTC")
	require.NoError(t, err)

	cfg := Config{
		PeripheralID:      "AA:BB:CC:DD:EE:FF",
		Name:              "Living room",
		Kind:              kind,
		DisconnectAfter:   time.Hour,
		CalibrationWindow: 2 * time.Hour,
	}
	for _, fn := range tweak {
		fn(&cfg)
	}

	transport := newFakeTransport()
	session, err := NewSession(cfg, transport, motion.NewEncoder(cipher, clock), motion.NewDecoder(cipher), newTestLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = session.Close() })

	return &sessionFixture{session: session, transport: transport, cipher: cipher}
}

func (f *sessionFixture) connect(t *testing.T) {
	t.Helper()
	ok, err := f.session.Connect(context.Background())
	require.NoError(t, err)
	require.True(t, ok)
}

func (f *sessionFixture) peripheral() *fakePeripheral {
	f.transport.mu.Lock()
	defer f.transport.mu.Unlock()
	return f.transport.peripheral
}

func (f *sessionFixture) notify(t *testing.T, plaintext []byte) {
	t.Helper()
	buf, err := f.cipher.EncryptBytes(plaintext)
	require.NoError(t, err)
	f.peripheral().notification.notify(buf)
}

// sentTags returns the command tags written to the motor, in order
func (f *sessionFixture) sentTags(t *testing.T) []string {
	t.Helper()
	var tags []string
	for _, buf := range f.peripheral().command.written() {
		plaintext, err := f.cipher.DecryptBytes(buf)
		require.NoError(t, err)
		h := hex.EncodeToString(plaintext)
		tags = append(tags, h)
	}
	return tags
}

func (f *sessionFixture) lastSent(t *testing.T) string {
	t.Helper()
	tags := f.sentTags(t)
	require.NotEmpty(t, tags)
	return tags[len(tags)-1]
}

type statusOptions struct {
	up, down, favorite bool
	position, tilt     byte
	speed, battery     byte
}

func statusFrame(o statusOptions) []byte {
	b := make([]byte, 18)
	copy(b, []byte{0x12, 0x04, 0x0f, 0x02})
	if o.up {
		b[4] |= 0x08
	}
	if o.down {
		b[4] |= 0x04
	}
	b[6] = o.position
	b[7] = o.tilt
	b[12] = o.speed
	if o.favorite {
		b[14] = 0x80
	}
	b[17] = o.battery
	return b
}

func percentFrame(up, down bool, position, tilt byte) []byte {
	b := []byte{0x07, 0x04, 0x04, 0x02, 0x00, 0x00, position, tilt}
	if up {
		b[4] |= 0x08
	}
	if down {
		b[4] |= 0x04
	}
	return b
}

func TestSession_Handshake(t *testing.T) {
	f := newSessionFixture(t, KindRoller)

	var states []ConnectionState
	var mu sync.Mutex
	unregister := f.session.Listen(func(st State) {
		mu.Lock()
		defer mu.Unlock()
		if len(states) == 0 || states[len(states)-1] != st.Connection {
			states = append(states, st.Connection)
		}
	})
	defer unregister()

	f.connect(t)

	tags := f.sentTags(t)
	require.Len(t, tags, 2)
	assert.True(t, strings.HasPrefix(tags[0], string(motion.CommandSetKey)))
	assert.True(t, strings.HasPrefix(tags[1], string(motion.CommandStatusQuery)))

	st := f.session.State()
	assert.Equal(t, Connected, st.Connection)
	assert.True(t, st.RSSIKnown)
	assert.Equal(t, int16(-61), st.RSSI)
	assert.False(t, st.DisconnectDeadline.IsZero())

	mu.Lock()
	assert.Equal(t, []ConnectionState{Disconnected, Connecting, Connected}, states)
	mu.Unlock()

	// a second connect reuses the link
	f.connect(t)
	assert.Equal(t, 1, f.transport.findCount())
}

func TestSession_HandshakeFailure(t *testing.T) {
	f := newSessionFixture(t, KindRoller)
	f.transport.peripheral = &fakePeripheral{
		serviceErr:   errors.New("gatt error"),
		command:      &fakeCharacteristic{},
		notification: &fakeCharacteristic{},
	}

	ok, err := f.session.Connect(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, Disconnected, f.session.State().Connection)
	assert.False(t, f.peripheral().IsConnected(), "the opened link is closed again")
}

func TestSession_FindPeerFailure(t *testing.T) {
	f := newSessionFixture(t, KindRoller)
	f.transport.findErr = errors.New("not found")

	ok, err := f.session.Connect(context.Background())
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrConnectionFailed)
	assert.Equal(t, Disconnected, f.session.State().Connection)
}

func TestSession_DisconnectCancelsHandshake(t *testing.T) {
	f := newSessionFixture(t, KindRoller)
	f.transport.findBlock = true

	done := make(chan error, 1)
	go func() {
		ok, err := f.session.Connect(context.Background())
		assert.False(t, ok)
		done <- err
	}()

	require.Eventually(t, func() bool { return f.session.arbiter.isConnecting() }, time.Second, time.Millisecond)
	require.NoError(t, f.session.Disconnect())

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handshake did not unwind")
	}
	assert.Equal(t, Disconnected, f.session.State().Connection)
}

func TestSession_ConnectionRaceOnlyWinnerSends(t *testing.T) {
	f := newSessionFixture(t, KindRoller)
	gate := make(chan struct{})
	f.transport.set(func(f *fakeTransport) { f.findGate = gate })
	ctx := context.Background()

	losers := make(chan error, 2)
	go func() { losers <- f.session.MoveUp(ctx) }()
	require.Eventually(t, f.session.arbiter.isConnecting, time.Second, time.Millisecond)

	go func() { losers <- f.session.MoveDown(ctx) }()
	require.Eventually(t, func() bool { return f.session.arbiter.waiterCount() == 1 }, time.Second, time.Millisecond)

	winner := make(chan error, 1)
	go func() { winner <- f.session.SetPosition(ctx, 0.5) }()
	require.Eventually(t, func() bool { return f.session.arbiter.waiterCount() == 2 }, time.Second, time.Millisecond)

	close(gate)
	for i := 0; i < 2; i++ {
		select {
		case err := <-losers:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("a caller that lost the race did not return")
		}
	}

	f.notify(t, statusFrame(statusOptions{up: true, down: true}))
	select {
	case err := <-winner:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("the winning caller did not finish")
	}

	tags := f.sentTags(t)
	require.Len(t, tags, 3)
	assert.True(t, strings.HasPrefix(tags[0], string(motion.CommandSetKey)))
	assert.True(t, strings.HasPrefix(tags[1], string(motion.CommandStatusQuery)))
	assert.True(t, strings.HasPrefix(tags[2], string(motion.CommandPercent)+"3200"))
	assert.Equal(t, 1, f.transport.findCount())
}

func TestSession_RSSIRefresh(t *testing.T) {
	f := newSessionFixture(t, KindRoller, func(c *Config) {
		c.RSSIInterval = 5 * time.Millisecond
	})
	rssi := func() (int16, bool) {
		st := f.session.State()
		return st.RSSI, st.RSSIKnown
	}

	require.Eventually(t, func() bool {
		v, known := rssi()
		return known && v == -61
	}, 2*time.Second, time.Millisecond)

	f.transport.set(func(f *fakeTransport) { f.rssi = -80 })
	require.Eventually(t, func() bool {
		v, known := rssi()
		return known && v == -80
	}, 2*time.Second, time.Millisecond)

	// out of range
	f.transport.set(func(f *fakeTransport) { f.findErr = errors.New("peripheral not found") })
	require.Eventually(t, func() bool {
		_, known := rssi()
		return !known
	}, 2*time.Second, time.Millisecond)

	require.NoError(t, f.session.Close())
	finds := f.transport.findCount()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, finds, f.transport.findCount(), "no lookups after Close")
}

func TestSession_RSSIRefreshSkippedWhileConnecting(t *testing.T) {
	f := newSessionFixture(t, KindRoller)

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = f.session.arbiter.Acquire(context.Background(), ConnectorFunc(func(ctx context.Context) (bool, error) {
			<-release
			return false, nil
		}))
	}()
	require.Eventually(t, f.session.arbiter.isConnecting, time.Second, time.Millisecond)

	f.session.refreshRSSI(context.Background())
	assert.Equal(t, 0, f.transport.findCount())
	close(release)
	<-done

	f.connect(t)
	f.session.refreshRSSI(context.Background())
	assert.Equal(t, 1, f.transport.findCount(), "only the handshake looked the motor up")
	assert.True(t, f.session.State().RSSIKnown)
}

func TestSession_MoveUpWaitsForEndPositions(t *testing.T) {
	f := newSessionFixture(t, KindRoller)
	f.connect(t)

	done := make(chan error, 1)
	go func() { done <- f.session.MoveUp(context.Background()) }()

	select {
	case err := <-done:
		t.Fatalf("MoveUp returned before end positions were known: %v", err)
	case <-time.After(30 * time.Millisecond):
	}

	f.notify(t, statusFrame(statusOptions{up: true, down: true, position: 40, tilt: 90, speed: 2, battery: 77}))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("MoveUp did not finish")
	}
	assert.True(t, strings.HasPrefix(f.lastSent(t), string(motion.CommandOpen)))
}

func TestSession_StatusUpdatesState(t *testing.T) {
	f := newSessionFixture(t, KindVenetian)
	f.connect(t)

	f.notify(t, statusFrame(statusOptions{up: true, down: true, favorite: true, position: 72, tilt: 90, speed: 3, battery: 28}))

	st := f.session.State()
	assert.True(t, st.EndPositionsKnown)
	assert.Equal(t, EndPositionInfo{Up: true, Down: true, Favorite: true}, st.EndPositions)
	assert.Equal(t, Calibrated, st.Calibration)
	assert.True(t, st.PositionKnown)
	assert.InDelta(t, 0.28, st.Position, 1e-9)
	assert.True(t, st.TiltKnown)
	assert.InDelta(t, 0.5, st.Tilt, 1e-9)
	assert.Equal(t, motion.SpeedHigh, st.Speed)
	assert.Equal(t, 28, st.Battery)
}

func TestSession_RollerHasNoTilt(t *testing.T) {
	f := newSessionFixture(t, KindRoller)
	f.connect(t)
	f.notify(t, statusFrame(statusOptions{up: true, position: 10, tilt: 90}))

	st := f.session.State()
	assert.True(t, st.PositionKnown)
	assert.False(t, st.TiltKnown)

	err := f.session.SetTilt(context.Background(), 0.5)
	assert.ErrorIs(t, err, ErrUnsupportedControl)
}

func TestSession_MalformedNotificationLeavesStateUnchanged(t *testing.T) {
	f := newSessionFixture(t, KindRoller)
	f.connect(t)
	f.notify(t, statusFrame(statusOptions{up: true, position: 30, battery: 50}))

	before := f.session.State()
	for _, length := range []int{1, 15, 17, 33} {
		f.peripheral().notification.notify(make([]byte, length))
	}
	assert.Equal(t, before, f.session.State())
}

func TestSession_PreCalibratedBlind(t *testing.T) {
	f := newSessionFixture(t, KindVertical)
	f.connect(t)

	f.notify(t, statusFrame(statusOptions{down: true}))

	err := f.session.SetPosition(context.Background(), 0.5)
	assert.ErrorIs(t, err, ErrNotCalibrated)
	assert.Equal(t, Uncalibrated, f.session.State().Calibration)
	assert.Len(t, f.sentTags(t), 2, "nothing sent after the handshake")

	f.notify(t, statusFrame(statusOptions{up: true, down: true}))

	require.NoError(t, f.session.SetPosition(context.Background(), 0.5))
	assert.True(t, strings.HasPrefix(f.lastSent(t), string(motion.CommandPercent)+"3200"))
	assert.Equal(t, Calibrated, f.session.State().Calibration)
}

func TestSession_EndPositionsRequired(t *testing.T) {
	f := newSessionFixture(t, KindRoller)
	f.connect(t)
	f.notify(t, statusFrame(statusOptions{}))

	assert.ErrorIs(t, f.session.MoveDown(context.Background()), ErrEndPositionsUnset)
	assert.ErrorIs(t, f.session.GoFavorite(context.Background()), ErrEndPositionsUnset)

	// stop needs no end positions
	require.NoError(t, f.session.Stop(context.Background()))
	assert.True(t, strings.HasPrefix(f.lastSent(t), string(motion.CommandStop)))
}

func TestSession_CurtainCalibratesOnDemand(t *testing.T) {
	f := newSessionFixture(t, KindCurtain, func(c *Config) {
		c.DisconnectAfter = time.Hour
		c.CalibrationWindow = 3 * time.Hour
	})
	f.connect(t)
	f.notify(t, statusFrame(statusOptions{}))

	require.NoError(t, f.session.MoveDown(context.Background()))
	st := f.session.State()
	assert.Equal(t, Calibrating, st.Calibration)
	assert.WithinDuration(t, time.Now().Add(3*time.Hour), st.DisconnectDeadline, time.Minute)

	// still calibrating when a status without the up end arrives
	f.notify(t, statusFrame(statusOptions{down: true}))
	assert.Equal(t, Calibrating, f.session.State().Calibration)

	// the motor reaches its up end and reports it
	f.notify(t, percentFrame(true, true, 0, 0))
	st = f.session.State()
	assert.Equal(t, Calibrated, st.Calibration)
	assert.True(t, st.EndPositions.Up)
	assert.WithinDuration(t, time.Now().Add(time.Hour), st.DisconnectDeadline, time.Minute,
		"the calibration window is forced back to the normal one")
}

func TestSession_InterruptedCalibrationIsDropped(t *testing.T) {
	f := newSessionFixture(t, KindCurtain)
	f.connect(t)
	f.notify(t, statusFrame(statusOptions{}))

	require.NoError(t, f.session.MoveDown(context.Background()))
	require.Equal(t, Calibrating, f.session.State().Calibration)

	require.NoError(t, f.session.Disconnect())
	assert.Equal(t, Uncalibrated, f.session.State().Calibration)

	// the first status after reconnecting has no up end either
	f.connect(t)
	f.notify(t, statusFrame(statusOptions{}))
	assert.Equal(t, Uncalibrated, f.session.State().Calibration)
}

func TestSession_CalibrationWindowExpires(t *testing.T) {
	f := newSessionFixture(t, KindCurtain)
	f.connect(t)
	f.notify(t, statusFrame(statusOptions{}))
	require.NoError(t, f.session.MoveDown(context.Background()))

	// the disconnect timer fires at the end of the calibration window
	f.session.onIdle()
	st := f.session.State()
	assert.Equal(t, Disconnected, st.Connection)
	assert.Equal(t, Uncalibrated, st.Calibration)
}

func TestSession_StatusWithUpEndFinishesCalibration(t *testing.T) {
	f := newSessionFixture(t, KindCurtain, func(c *Config) {
		c.CalibrationWindow = 3 * time.Hour
	})
	f.connect(t)
	f.notify(t, statusFrame(statusOptions{}))
	require.NoError(t, f.session.MoveUp(context.Background()))

	f.notify(t, statusFrame(statusOptions{up: true}))
	st := f.session.State()
	assert.Equal(t, Calibrated, st.Calibration)
	assert.WithinDuration(t, time.Now().Add(time.Hour), st.DisconnectDeadline, time.Minute)

	// a later status without the up end is not a calibration in progress
	f.notify(t, statusFrame(statusOptions{}))
	assert.Equal(t, Uncalibrated, f.session.State().Calibration)
}

func TestSession_FavoriteRequiresFlag(t *testing.T) {
	f := newSessionFixture(t, KindRoller)
	f.connect(t)

	f.notify(t, statusFrame(statusOptions{up: true, down: true}))
	assert.ErrorIs(t, f.session.GoFavorite(context.Background()), ErrFavoriteNotSet)

	f.notify(t, statusFrame(statusOptions{up: true, down: true, favorite: true}))
	require.NoError(t, f.session.GoFavorite(context.Background()))
	assert.True(t, strings.HasPrefix(f.lastSent(t), string(motion.CommandFavorite)))
}

func TestSession_DoubleStopGoesToFavorite(t *testing.T) {
	f := newSessionFixture(t, KindRoller)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	f.session.now = func() time.Time { return now }
	f.connect(t)
	f.notify(t, statusFrame(statusOptions{up: true, down: true, favorite: true}))

	require.NoError(t, f.session.Stop(context.Background()))
	assert.True(t, strings.HasPrefix(f.lastSent(t), string(motion.CommandStop)))

	now = now.Add(200 * time.Millisecond)
	require.NoError(t, f.session.Stop(context.Background()))
	assert.True(t, strings.HasPrefix(f.lastSent(t), string(motion.CommandFavorite)))

	// the double press was consumed
	now = now.Add(200 * time.Millisecond)
	require.NoError(t, f.session.Stop(context.Background()))
	assert.True(t, strings.HasPrefix(f.lastSent(t), string(motion.CommandStop)))

	now = now.Add(time.Second)
	require.NoError(t, f.session.Stop(context.Background()))
	assert.True(t, strings.HasPrefix(f.lastSent(t), string(motion.CommandStop)))
}

func TestSession_StatusDoesNotOverwriteActiveSlider(t *testing.T) {
	f := newSessionFixture(t, KindVenetian)
	f.connect(t)
	f.notify(t, statusFrame(statusOptions{up: true, down: true, position: 0, tilt: 0, speed: 1}))

	require.NoError(t, f.session.SetPosition(context.Background(), 0.25))
	assert.True(t, strings.HasPrefix(f.lastSent(t), string(motion.CommandPercent)+"4b00"))

	f.notify(t, statusFrame(statusOptions{up: true, down: true, position: 50, tilt: 0, speed: 2}))
	st := f.session.State()
	assert.InDelta(t, 1.0, st.Position, 1e-9, "position slider keeps the user's value")
	assert.Equal(t, motion.SpeedMedium, st.Speed)

	// PERCENT feedback always moves the slider
	f.notify(t, percentFrame(true, true, 75, 0))
	assert.InDelta(t, 0.25, f.session.State().Position, 1e-9)
}

func TestSession_SetTiltAndSpeed(t *testing.T) {
	f := newSessionFixture(t, KindDoubleRoller)
	f.connect(t)
	f.notify(t, statusFrame(statusOptions{up: true, down: true}))

	require.NoError(t, f.session.SetTilt(context.Background(), 0.25))
	assert.True(t, strings.HasPrefix(f.lastSent(t), string(motion.CommandAngle)+"0087"))

	require.NoError(t, f.session.SetSpeed(context.Background(), motion.SpeedLow))
	assert.True(t, strings.HasPrefix(f.lastSent(t), string(motion.CommandSpeed)+"01"))

	assert.ErrorIs(t, f.session.SetSpeed(context.Background(), motion.SpeedUnknown), motion.ErrInvalidArgument)
}

func TestSession_InvalidArgumentsRejectedBeforeConnecting(t *testing.T) {
	f := newSessionFixture(t, KindVenetian)

	assert.ErrorIs(t, f.session.SetPosition(context.Background(), 1.5), motion.ErrInvalidArgument)
	assert.ErrorIs(t, f.session.SetTilt(context.Background(), -0.1), motion.ErrInvalidArgument)
	assert.Equal(t, 0, f.transport.findCount())

	tiltOnly := newSessionFixture(t, KindVenetianTiltOnly)
	assert.ErrorIs(t, tiltOnly.session.SetPosition(context.Background(), 0.5), ErrUnsupportedControl)
}

func TestSession_DisconnectKeepsEndPositions(t *testing.T) {
	f := newSessionFixture(t, KindRoller)
	f.connect(t)
	f.notify(t, statusFrame(statusOptions{up: true, down: true, position: 20, speed: 2, battery: 90}))

	require.NoError(t, f.session.Disconnect())
	st := f.session.State()
	assert.Equal(t, Disconnected, st.Connection)
	assert.False(t, st.PositionKnown)
	assert.Equal(t, motion.SpeedUnknown, st.Speed)
	assert.True(t, st.DisconnectDeadline.IsZero())
	assert.True(t, st.EndPositionsKnown)
	assert.True(t, st.EndPositions.Up)
	assert.Equal(t, 90, st.Battery)
	assert.False(t, f.peripheral().IsConnected())

	// idempotent
	require.NoError(t, f.session.Disconnect())
	assert.Equal(t, 1, f.peripheral().disconnectCount())
}

func TestSession_PeripheralDropsLink(t *testing.T) {
	f := newSessionFixture(t, KindRoller)
	f.connect(t)

	require.NoError(t, f.peripheral().Disconnect())
	assert.Equal(t, Disconnected, f.session.State().Connection)
	assert.False(t, f.session.IsConnected())

	// the next intent reconnects
	f.connect(t)
	assert.Equal(t, 2, f.transport.findCount())
}

func TestSession_IdleDisconnect(t *testing.T) {
	f := newSessionFixture(t, KindRoller, func(c *Config) {
		c.DisconnectAfter = 20 * time.Millisecond
	})
	f.connect(t)

	require.Eventually(t, func() bool {
		return f.session.State().Connection == Disconnected
	}, 2*time.Second, 5*time.Millisecond)
	assert.False(t, f.peripheral().IsConnected())
}

func TestSession_RefreshDisconnectTimer(t *testing.T) {
	f := newSessionFixture(t, KindRoller)
	f.connect(t)

	assert.False(t, f.session.RefreshDisconnectTimer(time.Minute, false), "an earlier deadline needs force")
	assert.True(t, f.session.RefreshDisconnectTimer(time.Minute, true))
	assert.WithinDuration(t, time.Now().Add(time.Minute), f.session.State().DisconnectDeadline, 10*time.Second)
}

func TestSession_ClosedRejectsIntents(t *testing.T) {
	f := newSessionFixture(t, KindRoller)
	require.NoError(t, f.session.Close())

	_, err := f.session.Connect(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, f.session.MoveUp(context.Background()), ErrSessionClosed)
}

func TestNewSession_Validation(t *testing.T) {
	cipher, err := motion.NewCipher(testKey)
	require.NoError(t, err)
	clock, err := motion.NewClock("UTC")
	require.NoError(t, err)
	encoder, decoder := motion.NewEncoder(cipher, clock), motion.NewDecoder(cipher)

	_, err = NewSession(Config{Kind: KindRoller}, newFakeTransport(), encoder, decoder, newTestLogger(t))
	assert.ErrorIs(t, err, motion.ErrInvalidArgument)

	_, err = NewSession(Config{PeripheralID: "x", Kind: "awning"}, newFakeTransport(), encoder, decoder, newTestLogger(t))
	assert.ErrorIs(t, err, motion.ErrInvalidArgument)

	assert.Panics(t, func() {
		_, _ = NewSession(Config{PeripheralID: "x", Kind: KindRoller}, newFakeTransport(), encoder, decoder, nil)
	})
}

func TestConversions(t *testing.T) {
	assert.Equal(t, 100, PercentageFromPosition(0))
	assert.Equal(t, 0, PercentageFromPosition(1))
	assert.Equal(t, 93, PercentageFromPosition(0.07))
	assert.Equal(t, 71, PercentageFromPosition(0.29))
	assert.Equal(t, 180, AngleFromTilt(0))
	assert.Equal(t, 0, AngleFromTilt(1))
	assert.Equal(t, 90, AngleFromTilt(0.5))
}

func TestBlindKind(t *testing.T) {
	kind, err := ParseBlindKind("Double-Roller")
	require.NoError(t, err)
	assert.Equal(t, KindDoubleRoller, kind)

	_, err = ParseBlindKind("awning")
	assert.ErrorIs(t, err, motion.ErrInvalidArgument)

	for _, kind := range AllKinds {
		assert.Equal(t, kind != KindVenetianTiltOnly, kind.SupportsPosition(), kind)
	}
	assert.True(t, KindVenetian.SupportsTilt())
	assert.False(t, KindRoman.SupportsTilt())
	assert.Equal(t, PolicyCalibrateOnDemand, KindCurtain.CalibrationPolicy())
	assert.Equal(t, PolicyPreCalibrated, KindVertical.CalibrationPolicy())
	assert.Equal(t, PolicyEndPositionsRequired, KindHoneycomb.CalibrationPolicy())
}
