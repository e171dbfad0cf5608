package blind

import (
	"context"
	"time"
)

// Advertisement is what a scan learned about a peer
type Advertisement struct {
	ID        string
	LocalName string
	RSSI      int16
}

// Transport finds and opens links to motors
type Transport interface {
	// FindPeer scans for the peer with the given id until it is seen or timeout elapses
	FindPeer(ctx context.Context, id string, timeout time.Duration) (Advertisement, error)
	Connect(ctx context.Context, adv Advertisement) (Peripheral, error)
}

// Peripheral is an open link to a motor
type Peripheral interface {
	Service(uuid string) (Service, error)
	IsConnected() bool
	// OnDisconnect registers fn to run once when the link drops for any reason
	OnDisconnect(fn func())
	Disconnect() error
}

type Service interface {
	Characteristic(uuid string) (Characteristic, error)
}

type Characteristic interface {
	Write(data []byte) error
	Subscribe(onNotify func(buf []byte)) error
}
