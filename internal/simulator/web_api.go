package simulator

import (
	"encoding/json"
	"net/http"
	"strconv"
)

// Handler serves the web API used to inspect and steer the motor
func (m *Motor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/state", m.handleGetState)
	mux.HandleFunc("/api/set", m.handleSetValues)
	mux.HandleFunc("/api/writes", m.handleGetWrites)
	mux.HandleFunc("/api/trigger-notification", m.handleTriggerNotification)
	mux.HandleFunc("/api/drop-link", m.handleDropLink)
	return mux
}

func (m *Motor) handleGetState(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.State())
}

func (m *Motor) handleSetValues(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	query := r.URL.Query()
	parseUint8 := func(name string, limit uint8, dst *uint8) bool {
		s := query.Get(name)
		if s == "" {
			return true
		}
		v, err := strconv.ParseUint(s, 10, 8)
		if err != nil || uint8(v) > limit {
			http.Error(w, "invalid "+name, http.StatusBadRequest)
			return false
		}
		*dst = uint8(v)
		return true
	}
	parseBool := func(name string, dst *bool) bool {
		s := query.Get(name)
		if s == "" {
			return true
		}
		v, err := strconv.ParseBool(s)
		if err != nil {
			http.Error(w, "invalid "+name, http.StatusBadRequest)
			return false
		}
		*dst = v
		return true
	}

	next := m.State()
	ok := parseUint8("position", 100, &next.Position) &&
		parseUint8("tilt", 180, &next.Tilt) &&
		parseUint8("speed", 3, &next.Speed) &&
		parseUint8("battery", 100, &next.Battery) &&
		parseUint8("favoritePercent", 100, &next.FavoritePercent) &&
		parseBool("endPositionUp", &next.EndPositionUp) &&
		parseBool("endPositionDown", &next.EndPositionDown) &&
		parseBool("favorite", &next.Favorite) &&
		parseBool("reachable", &next.Reachable)
	if !ok {
		return
	}

	m.Update(func(st *MotorState) {
		st.Position, st.Tilt, st.Speed, st.Battery = next.Position, next.Tilt, next.Speed, next.Battery
		st.FavoritePercent = next.FavoritePercent
		st.EndPositionUp, st.EndPositionDown = next.EndPositionUp, next.EndPositionDown
		st.Favorite, st.Reachable = next.Favorite, next.Reachable
	})
	w.WriteHeader(http.StatusOK)
}

func (m *Motor) handleGetWrites(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.WrittenValues())
}

func (m *Motor) handleTriggerNotification(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.TriggerStatusNotification()
	w.WriteHeader(http.StatusOK)
}

func (m *Motor) handleDropLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.DropLink()
	w.WriteHeader(http.StatusOK)
}
