package bt

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/blind"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/safe_map"

	"tinygo.org/x/bluetooth"
)

var errNotConnected = errors.New("no connected device")

// btPeripheral is an open link to a motor
type btPeripheral struct {
	address string
	device  *bluetooth.Device
	logger  *log.Logger

	mu           sync.Mutex
	connected    bool
	onDisconnect []func()

	bleMu                  sync.Mutex // Serializes BLE operations (discovery, notifications, writes)
	serviceByUuid          *safe_map.SafeMap[string, *bluetooth.DeviceService]
	characteristicByUuid   *safe_map.SafeMap[string, *bluetooth.DeviceCharacteristic]
	serviceCharsDiscovered *safe_map.SafeMap[string, bool] // tracks which services have had all characteristics discovered
	allServicesDiscovered  bool
}

var _ blind.Peripheral = (*btPeripheral)(nil)

func newBTPeripheral(logger *log.Logger, address string, device bluetooth.Device) *btPeripheral {
	if logger == nil {
		panic("logger must be non nil")
	}
	return &btPeripheral{
		address:                address,
		device:                 &device,
		logger:                 logger,
		connected:              true,
		serviceByUuid:          safe_map.NewSafeMap[string, *bluetooth.DeviceService](),
		characteristicByUuid:   safe_map.NewSafeMap[string, *bluetooth.DeviceCharacteristic](),
		serviceCharsDiscovered: safe_map.NewSafeMap[string, bool](),
	}
}

func (p *btPeripheral) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

func (p *btPeripheral) OnDisconnect(fn func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDisconnect = append(p.onDisconnect, fn)
}

// markDisconnected runs the disconnect handlers once
func (p *btPeripheral) markDisconnected() {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return
	}
	p.connected = false
	handlers := p.onDisconnect
	p.onDisconnect = nil
	p.mu.Unlock()

	for _, fn := range handlers {
		fn()
	}
}

func (p *btPeripheral) Disconnect() error {
	if !p.IsConnected() {
		return nil
	}
	p.bleMu.Lock()
	err := p.device.Disconnect()
	p.bleMu.Unlock()

	p.markDisconnected()
	if err != nil {
		return fmt.Errorf("disconnect %s: %w", p.address, err)
	}
	return nil
}

func (p *btPeripheral) Service(uuidStr string) (blind.Service, error) {
	serviceUuid, err := bluetooth.ParseUUID(uuidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", uuidStr, err)
	}

	p.bleMu.Lock()
	defer p.bleMu.Unlock()
	if _, err := p.getDeviceService(serviceUuid); err != nil {
		return nil, err
	}
	return &btService{peripheral: p, uuid: serviceUuid}, nil
}

func (p *btPeripheral) getDeviceService(serviceUuid bluetooth.UUID) (*bluetooth.DeviceService, error) {
	if !p.IsConnected() {
		return nil, errNotConnected
	}

	serviceUuidStr := serviceUuid.String()

	service, ok := p.serviceByUuid.Load(serviceUuidStr)
	if ok {
		return service, nil
	}

	// Discover all services at once; discovering single services repeatedly
	// interrupts services already in use
	if !p.allServicesDiscovered {
		p.logger.Printf("BTDevice: Discovering all services for %s", p.address)
		deviceServices, err := p.device.DiscoverServices(nil)
		if err != nil {
			return nil, fmt.Errorf("error discovering services: %w", err)
		}

		for i := range deviceServices {
			svc := &deviceServices[i]
			svcUuidStr := svc.UUID().String()
			p.serviceByUuid.Store(svcUuidStr, svc)
			p.logger.Printf("BTDevice: Cached service %s", svcUuidStr)
		}

		p.allServicesDiscovered = true
	}

	service, ok = p.serviceByUuid.Load(serviceUuidStr)
	if !ok {
		return nil, fmt.Errorf("service %v not found on device", serviceUuidStr)
	}
	return service, nil
}

func (p *btPeripheral) getDeviceCharacteristic(serviceUuid bluetooth.UUID, charUuid bluetooth.UUID) (*bluetooth.DeviceCharacteristic, error) {
	serviceUuidStr := serviceUuid.String()
	charUuidStr := charUuid.String()
	comboUuidStr := fmt.Sprintf("%s_%s", serviceUuidStr, charUuidStr)

	characteristic, ok := p.characteristicByUuid.Load(comboUuidStr)
	if ok {
		return characteristic, nil
	}

	if discovered, _ := p.serviceCharsDiscovered.Load(serviceUuidStr); !discovered {
		service, err := p.getDeviceService(serviceUuid)
		if err != nil {
			return nil, err
		}

		p.logger.Printf("BTDevice: Discovering all characteristics for service %s", serviceUuidStr)
		discoveredCharacteristics, err := service.DiscoverCharacteristics(nil)
		if err != nil {
			return nil, fmt.Errorf("could not discover characteristics for service %v: %w", serviceUuidStr, err)
		}

		for i := range discoveredCharacteristics {
			char := &discoveredCharacteristics[i]
			charKey := fmt.Sprintf("%s_%s", serviceUuidStr, char.UUID().String())
			p.characteristicByUuid.Store(charKey, char)
			p.logger.Printf("BTDevice: Cached characteristic %s", char.UUID().String())
		}

		p.serviceCharsDiscovered.Store(serviceUuidStr, true)
	}

	characteristic, ok = p.characteristicByUuid.Load(comboUuidStr)
	if !ok {
		return nil, fmt.Errorf("characteristic %v not found in service %v", charUuidStr, serviceUuidStr)
	}
	return characteristic, nil
}

type btService struct {
	peripheral *btPeripheral
	uuid       bluetooth.UUID
}

func (s *btService) Characteristic(uuidStr string) (blind.Characteristic, error) {
	charUuid, err := bluetooth.ParseUUID(uuidStr)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", uuidStr, err)
	}

	s.peripheral.bleMu.Lock()
	defer s.peripheral.bleMu.Unlock()
	char, err := s.peripheral.getDeviceCharacteristic(s.uuid, charUuid)
	if err != nil {
		return nil, err
	}
	return &btCharacteristic{peripheral: s.peripheral, char: char, uuid: uuidStr}, nil
}

type btCharacteristic struct {
	peripheral *btPeripheral
	char       *bluetooth.DeviceCharacteristic
	uuid       string
}

func (c *btCharacteristic) Write(data []byte) error {
	c.peripheral.bleMu.Lock()
	defer c.peripheral.bleMu.Unlock()

	if !c.peripheral.IsConnected() {
		return errNotConnected
	}
	if _, err := c.char.Write(data); err != nil {
		return fmt.Errorf("failed to write characteristic %s: %w", c.uuid, err)
	}
	return nil
}

func (c *btCharacteristic) Subscribe(onNotify func(buf []byte)) error {
	c.peripheral.bleMu.Lock()
	defer c.peripheral.bleMu.Unlock()

	c.peripheral.logger.Printf("BTDevice: Enabling notifications for %s", c.uuid)
	if err := c.char.EnableNotifications(onNotify); err != nil {
		c.peripheral.logger.Printf("BTDevice: EnableNotifications failed: %v", err)
		return fmt.Errorf("failed to enable notifications: %w", err)
	}
	return nil
}
