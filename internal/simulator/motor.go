package simulator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/blind"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/go_func_utils"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/motion"
)

var ErrPeerNotFound = errors.New("simulated peripheral not found")

// maxWrittenValues bounds the write history kept for inspection
const maxWrittenValues = 100

// timestampBytes is the length of the timestamp trailing every command
const timestampBytes = 8

// Verify Motor implements blind.Transport
var _ blind.Transport = (*Motor)(nil)

// WrittenValue records a command written to the motor
type WrittenValue struct {
	Timestamp          time.Time `json:"timestamp"`
	CharacteristicUUID string    `json:"characteristicUuid"`
	Data               []byte    `json:"data"`
	PlaintextHex       string    `json:"plaintextHex"`
	Description        string    `json:"description"`
}

// MotorState is the simulated motor as seen by the web API
type MotorState struct {
	ID              string `json:"id"`
	LocalName       string `json:"localName"`
	Connected       bool   `json:"connected"`
	Reachable       bool   `json:"reachable"`
	RSSI            int16  `json:"rssi"`
	Position        uint8  `json:"position"`
	Tilt            uint8  `json:"tilt"`
	Speed           uint8  `json:"speed"`
	Battery         uint8  `json:"battery"`
	EndPositionUp   bool   `json:"endPositionUp"`
	EndPositionDown bool   `json:"endPositionDown"`
	Favorite        bool   `json:"favorite"`
	FavoritePercent uint8  `json:"favoritePercent"`
}

// Config holds the initial state of a simulated motor.
// Position and FavoritePercent are closed percentages, Tilt is the slat angle.
type Config struct {
	ID              string
	LocalName       string
	RSSI            int16
	Position        uint8
	Tilt            uint8
	Speed           motion.SpeedLevel
	Battery         uint8
	EndPositionUp   bool
	EndPositionDown bool
	Favorite        bool
	FavoritePercent uint8

	// AutoCalibrate makes the first movement set both end positions, the way
	// a curtain motor learns its track
	AutoCalibrate bool

	// ServerPort enables the web API when non zero
	ServerPort int
}

// Motor is an in-process motor reachable through the blind.Transport interface.
// It decrypts the commands written to it and answers with encrypted notifications.
type Motor struct {
	logger *log.Logger
	cipher *motion.Cipher

	mu            sync.RWMutex
	id            string
	state         MotorState
	autoCalibrate bool
	link          *link

	writtenValues   []WrittenValue
	writtenValuesMu sync.RWMutex

	server     *http.Server
	serverPort int
	wg         sync.WaitGroup
}

func NewMotor(logger *log.Logger, cipher *motion.Cipher, config Config) *Motor {
	if logger == nil {
		panic("Motor: logger cannot be nil")
	}
	if cipher == nil {
		panic("Motor: cipher cannot be nil")
	}
	if config.LocalName == "" {
		config.LocalName = motion.AdvertisementNamePrefix + "_SIM"
	}
	if config.RSSI == 0 {
		config.RSSI = -60
	}
	if !config.Speed.Valid() {
		config.Speed = motion.SpeedMedium
	}
	id := normalizeID(config.ID)

	return &Motor{
		logger:        logger,
		cipher:        cipher,
		id:            id,
		autoCalibrate: config.AutoCalibrate,
		serverPort:    config.ServerPort,
		writtenValues: make([]WrittenValue, 0),
		state: MotorState{
			ID:              id,
			LocalName:       config.LocalName,
			Reachable:       true,
			RSSI:            config.RSSI,
			Position:        min(config.Position, motion.MaxPercentage),
			Tilt:            min(config.Tilt, motion.MaxAngle),
			Speed:           uint8(config.Speed),
			Battery:         min(config.Battery, 100),
			EndPositionUp:   config.EndPositionUp,
			EndPositionDown: config.EndPositionDown,
			Favorite:        config.Favorite,
			FavoritePercent: min(config.FavoritePercent, motion.MaxPercentage),
		},
	}
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// Start starts the web API when a port was configured
func (m *Motor) Start() error {
	m.logger.Printf("Motor: Starting simulated motor %s (%s)", m.state.LocalName, m.id)
	if m.serverPort == 0 {
		return nil
	}

	m.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", m.serverPort),
		Handler: m.Handler(),
	}

	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		m.logger.Printf("Motor: Web server starting on http://localhost:%d", m.serverPort)
		if err := m.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			m.logger.Printf("Motor: Web server error: %v", err)
		}
	})
	return nil
}

// Shutdown drops the link and stops the web API
func (m *Motor) Shutdown() {
	m.logger.Printf("Motor: Shutting down")
	m.DropLink()

	if m.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.server.Shutdown(ctx); err != nil {
			m.logger.Printf("Motor: Error shutting down web server: %v", err)
		}
	}

	m.wg.Wait()
	m.logger.Printf("Motor: Shutdown complete")
}

func (m *Motor) State() MotorState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// SetReachable controls whether scans can see the motor
func (m *Motor) SetReachable(reachable bool) {
	m.mu.Lock()
	m.state.Reachable = reachable
	m.mu.Unlock()
	m.logger.Printf("Motor: Reachable=%v", reachable)
}

// Update changes the motor state and reports it with a STATUS notification
func (m *Motor) Update(fn func(st *MotorState)) {
	m.mu.Lock()
	fn(&m.state)
	m.state.Position = min(m.state.Position, motion.MaxPercentage)
	m.state.Tilt = min(m.state.Tilt, motion.MaxAngle)
	m.mu.Unlock()
	m.TriggerStatusNotification()
}

// DropLink closes the link from the motor side
func (m *Motor) DropLink() {
	m.mu.Lock()
	l := m.link
	m.link = nil
	m.state.Connected = false
	m.mu.Unlock()

	if l != nil {
		m.logger.Printf("Motor: Dropping link")
		l.close()
	}
}

// WrittenValues returns the most recent commands, oldest first
func (m *Motor) WrittenValues() []WrittenValue {
	m.writtenValuesMu.RLock()
	defer m.writtenValuesMu.RUnlock()
	writes := make([]WrittenValue, len(m.writtenValues))
	copy(writes, m.writtenValues)
	return writes
}

// --- blind.Transport implementation ---

func (m *Motor) FindPeer(ctx context.Context, id string, timeout time.Duration) (blind.Advertisement, error) {
	m.mu.RLock()
	st := m.state
	m.mu.RUnlock()

	want := normalizeID(id)
	if want == m.id && st.Reachable {
		m.logger.Printf("Motor: Advertised to scan for %s", want)
		return blind.Advertisement{ID: m.id, LocalName: st.LocalName, RSSI: st.RSSI}, nil
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return blind.Advertisement{}, ctx.Err()
	case <-timer.C:
		return blind.Advertisement{}, fmt.Errorf("%w: %s not seen within %v", ErrPeerNotFound, want, timeout)
	}
}

func (m *Motor) Connect(ctx context.Context, adv blind.Advertisement) (blind.Peripheral, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if normalizeID(adv.ID) != m.id {
		return nil, fmt.Errorf("%w: %s", ErrPeerNotFound, adv.ID)
	}

	l := newLink(m)
	m.mu.Lock()
	previous := m.link
	m.link = l
	m.state.Connected = true
	m.mu.Unlock()

	// the motor serves one central at a time
	if previous != nil {
		previous.close()
	}
	m.logger.Printf("Motor: Connected")
	return l, nil
}

// --- Command handling ---

var commandTypes = []motion.CommandType{
	motion.CommandOpen,
	motion.CommandClose,
	motion.CommandStop,
	motion.CommandFavorite,
	motion.CommandPercent,
	motion.CommandAngle,
	motion.CommandSetKey,
	motion.CommandSpeed,
	motion.CommandStatusQuery,
}

// parseCommand splits a decrypted command into its type and parameters
func parseCommand(plaintext []byte) (motion.CommandType, []byte, error) {
	for _, t := range commandTypes {
		tag, _ := hex.DecodeString(string(t))
		if !strings.HasPrefix(string(plaintext), string(tag)) {
			continue
		}
		if len(plaintext) < len(tag)+timestampBytes {
			return t, nil, fmt.Errorf("%s command has %d bytes", t, len(plaintext))
		}
		return t, plaintext[len(tag) : len(plaintext)-timestampBytes], nil
	}
	return "", nil, fmt.Errorf("unknown command %x", plaintext)
}

func describeCommand(t motion.CommandType, params []byte) string {
	switch t {
	case motion.CommandPercent:
		if len(params) >= 1 {
			return fmt.Sprintf("Move to %d%% closed", params[0])
		}
	case motion.CommandAngle:
		if len(params) >= 2 {
			return fmt.Sprintf("Tilt to %d degrees", params[1])
		}
	case motion.CommandSpeed:
		if len(params) >= 1 {
			return fmt.Sprintf("Set speed %s", motion.SpeedLevel(params[0]))
		}
	}
	return t.String()
}

func (m *Motor) handleWrite(l *link, data []byte) error {
	plaintext, err := m.cipher.DecryptBytes(data)
	if err != nil {
		m.logger.Printf("Motor: Rejecting undecryptable write (%d bytes): %v", len(data), err)
		return fmt.Errorf("decrypt command: %w", err)
	}
	commandType, params, parseErr := parseCommand(plaintext)

	description := "invalid"
	if parseErr == nil {
		description = describeCommand(commandType, params)
	}
	m.writtenValuesMu.Lock()
	m.writtenValues = append(m.writtenValues, WrittenValue{
		Timestamp:          time.Now(),
		CharacteristicUUID: motion.CharUUIDCommand,
		Data:               data,
		PlaintextHex:       hex.EncodeToString(plaintext),
		Description:        description,
	})
	// Keep only the most recent writes
	if len(m.writtenValues) > maxWrittenValues {
		m.writtenValues = m.writtenValues[len(m.writtenValues)-maxWrittenValues:]
	}
	m.writtenValuesMu.Unlock()

	if parseErr != nil {
		m.logger.Printf("Motor: Ignoring command: %v", parseErr)
		return nil
	}
	m.logger.Printf("Motor: Received %s", description)

	reply := m.apply(commandType, params)
	switch reply {
	case motion.NotificationStatus:
		l.enqueue(m.statusFrame())
	case motion.NotificationPercent:
		l.enqueue(m.percentFrame())
	}
	return nil
}

// apply executes a command and returns the notification the motor answers with
func (m *Motor) apply(t motion.CommandType, params []byte) motion.NotificationType {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := &m.state

	move := func(position uint8) {
		if !st.EndPositionUp && m.autoCalibrate {
			st.EndPositionUp, st.EndPositionDown = true, true
			m.logger.Printf("Motor: Learned end positions")
		}
		st.Position = position
	}

	switch t {
	case motion.CommandSetKey:
		return motion.NotificationUnknown
	case motion.CommandStatusQuery:
		return motion.NotificationStatus
	case motion.CommandOpen:
		move(0)
	case motion.CommandClose:
		move(motion.MaxPercentage)
	case motion.CommandStop:
	case motion.CommandFavorite:
		if !st.Favorite {
			return motion.NotificationUnknown
		}
		move(st.FavoritePercent)
	case motion.CommandPercent:
		if len(params) < 1 {
			return motion.NotificationUnknown
		}
		move(min(params[0], motion.MaxPercentage))
	case motion.CommandAngle:
		if len(params) < 2 {
			return motion.NotificationUnknown
		}
		st.Tilt = min(params[1], motion.MaxAngle)
	case motion.CommandSpeed:
		if len(params) < 1 || !motion.SpeedLevel(params[0]).Valid() {
			return motion.NotificationUnknown
		}
		st.Speed = params[0]
		return motion.NotificationStatus
	}
	return motion.NotificationPercent
}

// --- Notifications ---

func endPositionFlags(st MotorState) byte {
	var b byte
	if st.EndPositionUp {
		b |= 0x08
	}
	if st.EndPositionDown {
		b |= 0x04
	}
	return b
}

func (m *Motor) statusFrame() []byte {
	st := m.State()
	b := make([]byte, 18)
	copy(b, []byte{0x12, 0x04, 0x0f, 0x02})
	b[4] = endPositionFlags(st)
	b[6] = st.Position
	b[7] = st.Tilt
	b[12] = st.Speed
	if st.Favorite {
		b[14] = 0x80
	}
	b[17] = st.Battery
	return b
}

func (m *Motor) percentFrame() []byte {
	st := m.State()
	return []byte{0x07, 0x04, 0x04, 0x02, endPositionFlags(st), 0x00, st.Position, st.Tilt}
}

// TriggerStatusNotification sends a STATUS notification over the current link
func (m *Motor) TriggerStatusNotification() {
	m.mu.RLock()
	l := m.link
	m.mu.RUnlock()
	if l == nil {
		return
	}
	l.enqueue(m.statusFrame())
}

// InjectRaw sends raw bytes as a notification without encrypting them
func (m *Motor) InjectRaw(buf []byte) {
	m.mu.RLock()
	l := m.link
	m.mu.RUnlock()
	if l == nil {
		return
	}
	l.deliver(buf)
}
