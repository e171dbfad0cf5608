package bt

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/blind"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/go_func_utils"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/safe_map"

	"tinygo.org/x/bluetooth"
)

var ErrPeerNotFound = errors.New("peripheral not found")

// stopScanRetry is how often StopScan is retried while a scan is still starting up
const stopScanRetry = 100 * time.Millisecond

// Verify BTManager implements blind.Transport
var _ blind.Transport = (*BTManager)(nil)

// BTManager is the Bluetooth LE transport for motors
type BTManager struct {
	adapter *bluetooth.Adapter
	logger  *log.Logger

	// the adapter runs one scan at a time
	scanMu sync.Mutex

	addressesByID     *safe_map.SafeMap[string, bluetooth.Address]
	peripheralsByAddr *safe_map.SafeMap[string, *btPeripheral]

	wg sync.WaitGroup
}

func NewBTManager(adapter *bluetooth.Adapter, logger *log.Logger) *BTManager {
	if logger == nil {
		panic("BTManager: logger cannot be nil")
	}
	if adapter == nil {
		panic("BTManager: adapter cannot be nil")
	}
	return &BTManager{
		adapter:           adapter,
		logger:            logger,
		addressesByID:     safe_map.NewSafeMap[string, bluetooth.Address](),
		peripheralsByAddr: safe_map.NewSafeMap[string, *btPeripheral](),
	}
}

func normalizeID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func (m *BTManager) Enable() error {
	// Set up connection handler to track disconnections the peripheral initiates
	m.adapter.SetConnectHandler(func(device bluetooth.Device, connected bool) {
		addressStr := device.Address.String()
		if connected {
			m.logger.Printf("BTManager: Device connected: %s", addressStr)
			return
		}
		m.logger.Printf("BTManager: Device disconnected: %s", addressStr)
		if p, ok := m.peripheralsByAddr.LoadAndDelete(normalizeID(addressStr)); ok {
			p.markDisconnected()
		}
	})

	return m.adapter.Enable()
}

// FindPeer scans until the peripheral with the given address is seen
func (m *BTManager) FindPeer(ctx context.Context, id string, timeout time.Duration) (blind.Advertisement, error) {
	m.scanMu.Lock()
	defer m.scanMu.Unlock()

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	want := normalizeID(id)
	found := make(chan bluetooth.ScanResult, 1)
	scanDone := make(chan error, 1)

	m.logger.Printf("BTManager: Scanning for %s (timeout %v)", want, timeout)
	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		scanDone <- m.adapter.Scan(func(adapter *bluetooth.Adapter, result bluetooth.ScanResult) {
			if normalizeID(result.Address.String()) != want {
				return
			}
			select {
			case found <- result:
				if err := adapter.StopScan(); err != nil {
					m.logger.Printf("BTManager: Error stopping scan: %v", err)
				}
			default:
			}
		})
	})

	select {
	case result := <-found:
		if err := <-scanDone; err != nil {
			m.logger.Printf("BTManager: Scan ended with: %v", err)
		}
		m.addressesByID.Store(want, result.Address)
		name := result.LocalName()
		m.logger.Printf("BTManager: Found device: %s (%s) [RSSI: %d]", name, want, result.RSSI)
		return blind.Advertisement{ID: want, LocalName: name, RSSI: result.RSSI}, nil

	case err := <-scanDone:
		if err != nil {
			return blind.Advertisement{}, fmt.Errorf("scan: %w", err)
		}
		return blind.Advertisement{}, fmt.Errorf("%w: scan stopped before %s was seen", ErrPeerNotFound, want)

	case <-ctx.Done():
		m.stopScan(scanDone)
		if parent.Err() != nil {
			return blind.Advertisement{}, parent.Err()
		}
		return blind.Advertisement{}, fmt.Errorf("%w: %s not seen within %v", ErrPeerNotFound, want, timeout)
	}
}

// stopScan stops the running scan and waits for its goroutine to return
func (m *BTManager) stopScan(scanDone <-chan error) {
	for {
		if err := m.adapter.StopScan(); err != nil {
			m.logger.Printf("BTManager: Error stopping scan: %v", err)
		}
		select {
		case <-scanDone:
			return
		case <-time.After(stopScanRetry):
		}
	}
}

// Connect opens a link to a peripheral previously found by FindPeer
func (m *BTManager) Connect(ctx context.Context, adv blind.Advertisement) (blind.Peripheral, error) {
	key := normalizeID(adv.ID)
	address, ok := m.addressesByID.Load(key)
	if !ok {
		return nil, fmt.Errorf("%w: %s was not found by a scan", ErrPeerNotFound, adv.ID)
	}

	m.logger.Printf("BTManager: Attempting to connect to device: %s", key)

	type connectResult struct {
		device bluetooth.Device
		err    error
	}
	done := make(chan connectResult, 1)
	m.wg.Add(1)
	go_func_utils.SafeGo(m.logger, func() {
		defer m.wg.Done()
		device, err := m.adapter.Connect(address, bluetooth.ConnectionParams{})
		done <- connectResult{device, err}
	})

	select {
	case r := <-done:
		if r.err != nil {
			m.logger.Printf("BTManager: Connection error: %v", r.err)
			return nil, fmt.Errorf("connect %s: %w", key, r.err)
		}
		p := newBTPeripheral(m.logger, key, r.device)
		m.peripheralsByAddr.Store(key, p)
		m.logger.Printf("BTManager: Connected to device: %s", key)
		return p, nil

	case <-ctx.Done():
		// the adapter call cannot be interrupted; drop the link once it completes
		m.wg.Add(1)
		go_func_utils.SafeGo(m.logger, func() {
			defer m.wg.Done()
			r := <-done
			if r.err == nil {
				if err := r.device.Disconnect(); err != nil {
					m.logger.Printf("BTManager: Error dropping abandoned link to %s: %v", key, err)
				}
			}
		})
		return nil, ctx.Err()
	}
}

// Shutdown disconnects every open link and waits for background work to finish
func (m *BTManager) Shutdown() {
	m.logger.Println("BTManager: Shutting down")
	m.peripheralsByAddr.Range(func(key string, p *btPeripheral) bool {
		if err := p.Disconnect(); err != nil {
			m.logger.Printf("BTManager: Error disconnecting from %v: %v", key, err)
		} else {
			m.logger.Printf("BTManager: Disconnected from %v", key)
		}
		return true
	})
	m.peripheralsByAddr.Clear()
	m.wg.Wait()
	m.logger.Println("BTManager: Shutdown complete")
}
