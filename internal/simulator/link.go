package simulator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/blind"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/go_func_utils"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/motion"
)

var errLinkClosed = errors.New("link closed")

// notificationQueueSize bounds the notifications waiting for the subscriber
const notificationQueueSize = 32

// link is one connection to the motor. Notifications are delivered in order
// on their own goroutine, as a BLE stack would.
type link struct {
	motor *Motor

	mu           sync.Mutex
	connected    bool
	onDisconnect []func()
	onNotify     func([]byte)

	queue chan []byte
	done  chan struct{}
}

var (
	_ blind.Peripheral     = (*link)(nil)
	_ blind.Service        = (*link)(nil)
	_ blind.Characteristic = (*characteristic)(nil)
)

func newLink(motor *Motor) *link {
	return &link{
		motor:     motor,
		connected: true,
		queue:     make(chan []byte, notificationQueueSize),
		done:      make(chan struct{}),
	}
}

func (l *link) IsConnected() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.connected
}

func (l *link) OnDisconnect(fn func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onDisconnect = append(l.onDisconnect, fn)
}

// Disconnect closes the link from the central side
func (l *link) Disconnect() error {
	l.motor.mu.Lock()
	if l.motor.link == l {
		l.motor.link = nil
		l.motor.state.Connected = false
	}
	l.motor.mu.Unlock()

	l.close()
	return nil
}

// close marks the link disconnected and runs the disconnect handlers once
func (l *link) close() {
	l.mu.Lock()
	if !l.connected {
		l.mu.Unlock()
		return
	}
	l.connected = false
	handlers := l.onDisconnect
	l.onDisconnect = nil
	close(l.done)
	l.mu.Unlock()

	l.motor.logger.Printf("Motor: Link closed")
	for _, fn := range handlers {
		fn()
	}
}

func (l *link) Service(uuid string) (blind.Service, error) {
	if !l.IsConnected() {
		return nil, errLinkClosed
	}
	if uuid != motion.ServiceUUIDControl {
		return nil, fmt.Errorf("service %v not found on device", uuid)
	}
	return l, nil
}

func (l *link) Characteristic(uuid string) (blind.Characteristic, error) {
	if !l.IsConnected() {
		return nil, errLinkClosed
	}
	switch uuid {
	case motion.CharUUIDCommand, motion.CharUUIDNotification:
		return &characteristic{link: l, uuid: uuid}, nil
	default:
		return nil, fmt.Errorf("characteristic %v not found in service %v", uuid, motion.ServiceUUIDControl)
	}
}

// enqueue encrypts a plaintext frame and queues it for the subscriber
func (l *link) enqueue(plaintext []byte) {
	buf, err := l.motor.cipher.EncryptBytes(plaintext)
	if err != nil {
		l.motor.logger.Printf("Motor: Error encrypting notification: %v", err)
		return
	}
	l.deliver(buf)
}

func (l *link) deliver(buf []byte) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected || l.onNotify == nil {
		return
	}
	select {
	case l.queue <- buf:
	default:
		l.motor.logger.Printf("Motor: Notification queue full, dropping %d bytes", len(buf))
	}
}

func (l *link) subscribe(onNotify func([]byte)) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.connected {
		return errLinkClosed
	}
	if l.onNotify != nil {
		l.onNotify = onNotify
		return nil
	}
	l.onNotify = onNotify

	l.motor.wg.Add(1)
	go_func_utils.SafeGo(l.motor.logger, func() {
		defer l.motor.wg.Done()
		l.pump()
	})
	return nil
}

func (l *link) pump() {
	for {
		select {
		case <-l.done:
			return
		case buf := <-l.queue:
			l.mu.Lock()
			fn := l.onNotify
			l.mu.Unlock()
			fn(buf)
		}
	}
}

type characteristic struct {
	link *link
	uuid string
}

func (c *characteristic) Write(data []byte) error {
	if c.uuid != motion.CharUUIDCommand {
		return fmt.Errorf("characteristic %s is not writable", c.uuid)
	}
	if !c.link.IsConnected() {
		return errLinkClosed
	}
	return c.link.motor.handleWrite(c.link, data)
}

func (c *characteristic) Subscribe(onNotify func(buf []byte)) error {
	if c.uuid != motion.CharUUIDNotification {
		return fmt.Errorf("characteristic %s does not notify", c.uuid)
	}
	return c.link.subscribe(onNotify)
}
