package feedback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"workspace-mood-monitor/internal/edge/actuator"
	moodevents "workspace-mood-monitor/internal/mood/application/events"
	mood "workspace-mood-monitor/internal/mood/domain"
	"workspace-mood-monitor/internal/onem2m"
)

var quiet = log.New(io.Discard, "", 0)

type scriptedUpdater struct {
	errs  []error
	calls []string
}

func (s *scriptedUpdater) Update(ctx context.Context, path string, body any, out any) error {
	s.calls = append(s.calls, path)
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func newTestDispatcher(t *testing.T, client Updater, cfg Config) *Dispatcher {
	t.Helper()
	d, err := NewDispatcher(client, cfg, quiet)
	require.NoError(t, err)
	d.sleep = func(ctx context.Context, _ time.Duration) error { return ctx.Err() }
	return d
}

func record() mood.MoodRecord {
	return mood.MoodRecord{Room: "room1", Desk: "desk1", Score: 90, Label: mood.LabelFocus, LEDColor: "#33FF00"}
}

func TestDispatch_RetriesTransientErrors(t *testing.T) {
	client := &scriptedUpdater{errs: []error{
		&onem2m.TransientError{StatusCode: http.StatusServiceUnavailable, Err: errors.New("busy")},
	}}
	d := newTestDispatcher(t, client, Config{CSEID: "cse", AE: "ae"})

	require.NoError(t, d.Dispatch(context.Background(), record()))
	assert.Equal(t, []string{"/~/cse/-/ae/room1/desk1/lamp/color", "/~/cse/-/ae/room1/desk1/lamp/color"}, client.calls)
}

func TestDispatch_GivesUpAfterMaxAttempts(t *testing.T) {
	transient := &onem2m.TransientError{Err: errors.New("timeout")}
	client := &scriptedUpdater{errs: []error{transient, transient, transient, transient}}
	d := newTestDispatcher(t, client, Config{MaxAttempts: 3})

	err := d.Dispatch(context.Background(), record())
	require.Error(t, err)
	assert.True(t, onem2m.IsTransient(err))
	assert.Len(t, client.calls, 3)
}

func TestDispatch_PermanentErrorIsNotRetried(t *testing.T) {
	client := &scriptedUpdater{errs: []error{&onem2m.PermanentError{StatusCode: http.StatusNotFound, Err: errors.New("no lamp")}}}
	d := newTestDispatcher(t, client, Config{})

	err := d.Dispatch(context.Background(), record())
	var permanent *onem2m.PermanentError
	require.True(t, errors.As(err, &permanent))
	assert.Len(t, client.calls, 1)
}

func TestDispatch_MissingDeskIsPermanent(t *testing.T) {
	client := &scriptedUpdater{}
	d := newTestDispatcher(t, client, Config{})

	rec := record()
	rec.Desk = ""
	err := d.Dispatch(context.Background(), rec)
	assert.ErrorIs(t, err, ErrMissingTarget)
	assert.Empty(t, client.calls)
}

func TestDispatch_SwitchesLampOnFirst(t *testing.T) {
	client := &scriptedUpdater{}
	d := newTestDispatcher(t, client, Config{CSEID: "cse", AE: "ae", SwitchOn: true})

	require.NoError(t, d.Dispatch(context.Background(), record()))
	assert.Equal(t, []string{"/~/cse/-/ae/room1/desk1/lamp/switch", "/~/cse/-/ae/room1/desk1/lamp/color"}, client.calls)
}

// The CSE fails once, then relays the accepted update to the edge as a
// subscription notification.
func TestDispatch_TransientThenSuccessSetsEdgeStateOnce(t *testing.T) {
	state := actuator.NewState()
	notify, err := actuator.NewNotifyHandler(state, quiet)
	require.NoError(t, err)
	edge := httptest.NewServer(actuator.NewRouter(notify, quiet))
	defer edge.Close()

	var requests atomic.Int32
	cse := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requests.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		var rep map[string]any
		if err := json.NewDecoder(r.Body).Decode(&rep); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		sgn, _ := json.Marshal(map[string]any{"m2m:sgn": map[string]any{"nev": map[string]any{"rep": rep, "net": 1}}})
		resp, err := http.Post(edge.URL+"/notify", "application/json", bytes.NewReader(sgn))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		resp.Body.Close()
		w.WriteHeader(http.StatusOK)
	}))
	defer cse.Close()

	client, err := onem2m.NewClient(onem2m.Config{BaseURL: cse.URL})
	require.NoError(t, err)
	d := newTestDispatcher(t, client, Config{})

	require.NoError(t, d.Dispatch(context.Background(), record()))
	snap := state.Snapshot()
	assert.Equal(t, uint64(1), snap.Version)
	assert.Equal(t, mood.Color{Red: 0x33, Green: 0xFF}, snap.Color)
	assert.Equal(t, int32(2), requests.Load())
}

func TestHandleMoodScored_QueuesForRun(t *testing.T) {
	client := &scriptedUpdater{}
	d := newTestDispatcher(t, client, Config{QueueSize: 1})

	require.NoError(t, d.HandleMoodScored(context.Background(), moodevents.MoodScored{Record: record()}))
	require.NoError(t, d.HandleMoodScored(context.Background(), &moodevents.MoodScored{Record: record()}))
	assert.ErrorIs(t, d.HandleMoodScored(context.Background(), "nope"), moodevents.ErrUnexpectedEvent)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool { return len(d.queue) == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.Len(t, client.calls, 1)
}

func TestNewDispatcher_RequiresClient(t *testing.T) {
	_, err := NewDispatcher(nil, Config{}, nil)
	assert.Error(t, err)
}
