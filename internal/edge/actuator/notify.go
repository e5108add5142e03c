package actuator

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	mood "workspace-mood-monitor/internal/mood/domain"
	"workspace-mood-monitor/internal/observability/metrics"
)

const maxNotificationBytes = 64 << 10

// ParseNotification extracts a lamp update from a subscription notification.
// Switch and color attributes are accepted at the top level, under
// m2m:sgn.nev.rep, or inside a content instance's con. verification is true
// for the subscription handshake.
func ParseNotification(raw []byte) (update Update, verification bool, err error) {
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return Update{}, false, err
	}
	if body == nil {
		return Update{}, false, errors.New("actuator: notification is not an object")
	}
	if sgn, ok := body["m2m:sgn"].(map[string]any); ok {
		if vrq, _ := sgn["vrq"].(bool); vrq {
			return Update{}, true, nil
		}
		if nev, ok := sgn["nev"].(map[string]any); ok {
			if rep, ok := nev["rep"].(map[string]any); ok {
				body = rep
			}
		}
	}
	if cin, ok := body["m2m:cin"].(map[string]any); ok {
		body = contentOf(cin["con"])
	}
	return extractUpdate(body), false, nil
}

func contentOf(con any) map[string]any {
	switch v := con.(type) {
	case map[string]any:
		return v
	case string:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(v), &decoded); err == nil {
			return decoded
		}
	}
	return nil
}

func extractUpdate(body map[string]any) Update {
	var u Update
	if sw, ok := body["cod:binSh"].(map[string]any); ok {
		if state, ok := sw["state"].(bool); ok {
			u.On = &state
		}
	}
	if c, ok := body["cod:color"].(map[string]any); ok {
		color := mood.Color{Red: channel(c["red"]), Green: channel(c["green"]), Blue: channel(c["blue"])}
		u.Color = &color
	}
	return u
}

func channel(v any) int {
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	switch {
	case f < 0:
		return 0
	case f > 255:
		return 255
	}
	return int(f)
}

// NotifyHandler applies subscription notifications to the lamp state.
type NotifyHandler struct {
	state  *State
	logger *log.Logger
}

// NewNotifyHandler constructs a NotifyHandler.
func NewNotifyHandler(state *State, logger *log.Logger) (*NotifyHandler, error) {
	if state == nil {
		return nil, errors.New("actuator: nil state")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &NotifyHandler{state: state, logger: logger}, nil
}

// ServeHTTP handles POST /notify.
func (h *NotifyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxNotificationBytes))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	update, verification, err := ParseNotification(raw)
	if err != nil {
		metrics.IncEdgeNotification("invalid")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	switch {
	case verification:
		metrics.IncEdgeNotification("verification")
	case h.state.Apply(update):
		metrics.IncEdgeNotification("applied")
	default:
		metrics.IncEdgeNotification("ignored")
	}
	w.WriteHeader(http.StatusOK)
}

// NewRouter mounts the notification handler with panic recovery and access logging.
func NewRouter(notify http.Handler, logger *log.Logger) http.Handler {
	if logger == nil {
		logger = log.Default()
	}
	router := mux.NewRouter()
	router.Handle("/notify", notify).Methods(http.MethodPost)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)

	recovery := handlers.RecoveryHandler(handlers.RecoveryLogger(logger), handlers.PrintRecoveryStack(false))
	return recovery(handlers.CombinedLoggingHandler(logger.Writer(), router))
}
