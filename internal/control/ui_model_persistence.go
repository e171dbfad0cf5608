package control

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/lowaak/motion-blinds/motion-blinds-app/internal/blind"
)

// LastKnownState is what the panel remembers about a blind between runs
type LastKnownState struct {
	Kind          blind.BlindKind       `json:"kind"`
	Position      float64               `json:"position"`
	PositionKnown bool                  `json:"position_known"`
	Tilt          float64               `json:"tilt"`
	TiltKnown     bool                  `json:"tilt_known"`
	EndPositions  blind.EndPositionInfo `json:"end_positions"`
	Battery       int                   `json:"battery"`
	Updated       time.Time             `json:"updated"`
}

// sameReading ignores the timestamp
func (s LastKnownState) sameReading(o LastKnownState) bool {
	s.Updated, o.Updated = time.Time{}, time.Time{}
	return s == o
}

type uiModelPersistenceData struct {
	LastKnownByBlind map[string]LastKnownState `json:"last_known_by_blind"`
}

type uiModelPersistence struct {
	mu       sync.Mutex
	filePath string
	data     uiModelPersistenceData
	logger   *log.Logger
}

// DefaultStatePath is where the control panel keeps its state
func DefaultStatePath() string {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		homeDir = "."
	}
	return filepath.Join(homeDir, ".motion-blinds", "ui_state.json")
}

func newUIModelPersistence(logger *log.Logger, filePath string) *uiModelPersistence {
	p := &uiModelPersistence{
		filePath: filePath,
		logger:   logger,
	}
	p.load()
	return p
}

func (p *uiModelPersistence) getLastKnown(id string) (LastKnownState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	st, ok := p.data.LastKnownByBlind[id]
	return st, ok
}

// record stores what a connected blind reported; unchanged readings are not written again
func (p *uiModelPersistence) record(st blind.State) {
	if st.Connection != blind.Connected || !(st.PositionKnown || st.TiltKnown) {
		return
	}
	next := LastKnownState{
		Kind:          st.Kind,
		Position:      st.Position,
		PositionKnown: st.PositionKnown,
		Tilt:          st.Tilt,
		TiltKnown:     st.TiltKnown,
		EndPositions:  st.EndPositions,
		Battery:       st.Battery,
		Updated:       time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if prev, ok := p.data.LastKnownByBlind[st.ID]; ok && prev.sameReading(next) {
		return
	}
	p.data.LastKnownByBlind[st.ID] = next
	p.save()
}

func (p *uiModelPersistence) load() {
	p.data = uiModelPersistenceData{
		LastKnownByBlind: make(map[string]LastKnownState),
	}
	raw, err := os.ReadFile(p.filePath)
	if err != nil {
		p.logger.Printf("UIModelPersistence: load %s (no existing file)", p.filePath)
		return
	}
	if err := json.Unmarshal(raw, &p.data); err != nil {
		p.logger.Printf("UIModelPersistence: load %s failed to parse: %v", p.filePath, err)
		return
	}
	if p.data.LastKnownByBlind == nil {
		p.data.LastKnownByBlind = make(map[string]LastKnownState)
	}
	p.logger.Printf("UIModelPersistence: load %s -> %d blinds", p.filePath, len(p.data.LastKnownByBlind))
}

// save must be called with mu held
func (p *uiModelPersistence) save() {
	if err := os.MkdirAll(filepath.Dir(p.filePath), 0755); err != nil {
		p.logger.Printf("UIModelPersistence: save mkdir failed: %v", err)
		return
	}
	raw, err := json.MarshalIndent(p.data, "", "  ")
	if err != nil {
		p.logger.Printf("UIModelPersistence: save marshal failed: %v", err)
		return
	}
	if err := os.WriteFile(p.filePath, raw, 0644); err != nil {
		p.logger.Printf("UIModelPersistence: save %s failed: %v", p.filePath, err)
	}
}
