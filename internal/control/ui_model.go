package control

import (
	"context"
	"log"
	"sync"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/blind"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/events"
	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/go_func_utils"
)

// UIModel holds what the views render: the blind state and the log tail
type UIModel struct {
	logEvent              *events.ChannelEvent[string]
	blindStateEvent       *events.ChannelEvent[blind.State]
	closeApplicationEvent *events.ChannelEvent[struct{}]
	blindState            blind.State
	logLines              []string
	logMu                 sync.RWMutex
	mu                    sync.RWMutex
	unregisterBlind       func()
	persistence           *uiModelPersistence
	ctx                   context.Context
	cancel                context.CancelFunc
	wg                    sync.WaitGroup
	logger                *log.Logger
}

// NewUIModel follows b and reads log lines from uiLogChan. The last known
// position of each blind is kept in statePath; an empty path keeps nothing.
func NewUIModel(b Blind, logger *log.Logger, uiLogChan <-chan string, statePath string) *UIModel {
	if logger == nil {
		panic("UIModel: logger cannot be nil")
	}
	if b == nil {
		panic("UIModel: blind cannot be nil")
	}
	if uiLogChan == nil {
		panic("UIModel: uiLogChan cannot be nil")
	}
	ctx, cancel := context.WithCancel(context.Background())
	model := &UIModel{
		logEvent:              events.NewChannelEvent[string](false),
		blindStateEvent:       events.NewChannelEvent[blind.State](true),
		closeApplicationEvent: events.NewChannelEvent[struct{}](true),
		blindState:            b.State(),
		logLines:              make([]string, 0, maxLogLines),
		ctx:                   ctx,
		cancel:                cancel,
		logger:                logger,
	}
	if statePath != "" {
		model.persistence = newUIModelPersistence(logger, statePath)
	}

	model.unregisterBlind = b.Listen(model.setBlindState)

	// Read from the UI log channel and populate logLines
	model.wg.Add(1)
	go_func_utils.SafeGo(model.logger, func() { model.readFromLogChannel(ctx, uiLogChan) })

	return model
}

// Shutdown stops all goroutines and waits for them to finish
func (m *UIModel) Shutdown() {
	m.logger.Println("UIModel: Shutting down")
	m.unregisterBlind()
	m.cancel()
	m.wg.Wait()
	m.logger.Println("UIModel: Shutdown complete")
}

func (m *UIModel) setBlindState(st blind.State) {
	m.mu.Lock()
	m.blindState = st
	m.mu.Unlock()
	if m.persistence != nil {
		m.persistence.record(st)
	}
	m.blindStateEvent.Notify(st)
}

// GetLastKnown returns what was recorded for the blind during an earlier connection
func (m *UIModel) GetLastKnown() (LastKnownState, bool) {
	if m.persistence == nil {
		return LastKnownState{}, false
	}
	return m.persistence.getLastKnown(m.GetBlindState().ID)
}

// GetBlindState returns the last blind state seen
func (m *UIModel) GetBlindState() blind.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.blindState
}

// ListenToBlindState registers a channel to receive blind state changes
// Returns a deregistration function that can be called to remove the listener
func (m *UIModel) ListenToBlindState(ch chan<- blind.State) func() {
	return m.blindStateEvent.Listen(ch)
}

// ListenToLog registers a channel to receive log messages
// Returns a deregistration function that can be called to remove the listener
func (m *UIModel) ListenToLog(ch chan<- string) func() {
	return m.logEvent.Listen(ch)
}

// ListenToCloseApplication registers a channel to receive close application signals
func (m *UIModel) ListenToCloseApplication(ch chan<- struct{}) func() {
	return m.closeApplicationEvent.Listen(ch)
}

// RequestCloseApplication signals that the application should close
func (m *UIModel) RequestCloseApplication() {
	m.closeApplicationEvent.Notify(struct{}{})
}

// readFromLogChannel reads log lines from the channel and populates logLines
func (m *UIModel) readFromLogChannel(ctx context.Context, logChan <-chan string) {
	defer m.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-logChan:
			if !ok {
				return
			}

			m.logMu.Lock()
			m.logLines = append(m.logLines, line)
			if len(m.logLines) > maxLogLines {
				// Keep the most recent maxLogLines
				m.logLines = m.logLines[len(m.logLines)-maxLogLines:]
			}
			m.logMu.Unlock()

			m.logEvent.Notify(line)
		}
	}
}

// GetLogTail returns the last n log lines
func (m *UIModel) GetLogTail(n int) []string {
	m.logMu.RLock()
	defer m.logMu.RUnlock()

	if n <= 0 {
		return []string{}
	}
	if n > len(m.logLines) {
		n = len(m.logLines)
	}
	result := make([]string, n)
	copy(result, m.logLines[len(m.logLines)-n:])
	return result
}
