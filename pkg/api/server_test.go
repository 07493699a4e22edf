package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vjranagit/bouncedash/pkg/client"
	"github.com/vjranagit/bouncedash/pkg/dashboard"
	"github.com/vjranagit/bouncedash/pkg/events"
	"github.com/vjranagit/bouncedash/pkg/storage"
	"github.com/vjranagit/bouncedash/pkg/validation"
)

const bounceBody = `{"data":{"true_ins":[10,10,10],"bounce_ins":[12,8,10],"date":["00:00","08:00","16:00"]}}`

type testEnv struct {
	server   *Server
	sessions *dashboard.Manager
}

func newTestEnv(t *testing.T, bounce http.HandlerFunc) *testEnv {
	upstream := httptest.NewServer(bounce)
	t.Cleanup(upstream.Close)

	store, err := storage.NewSnapshotStore(nil)
	require.NoError(t, err)

	bus := events.NewBus(zerolog.Nop())
	sessions := dashboard.NewManager(dashboard.Config{
		CapacityBaseline:     1210.0 / 6,
		FetchTimeout:         2 * time.Second,
		NotificationDuration: time.Minute,
	}, client.NewClient(upstream.URL, zerolog.Nop()), store, bus, zerolog.Nop())

	picker := validation.NewPicker(time.Date(2024, 5, 15, 0, 0, 0, 0, time.UTC), time.UTC)
	srv := NewServer(":0", sessions, bus, picker, Options{HeartbeatInterval: time.Hour}, zerolog.Nop())

	t.Cleanup(func() {
		srv.closeStreams()
		sessions.Close()
		store.Close()
	})

	return &testEnv{server: srv, sessions: sessions}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) createSession(t *testing.T) string {
	rec := e.do(t, http.MethodPost, "/api/v1/sessions", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	var status dashboard.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	require.NotEmpty(t, status.Session)
	return status.Session
}

func okBounce(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(bounceBody))
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, okBounce)
	env.createSession(t)

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, float64(1), body["sessions"])
}

func TestUnknownSession(t *testing.T) {
	env := newTestEnv(t, okBounce)

	rec := env.do(t, http.MethodGet, "/api/v1/sessions/nope/state", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSubmitRange_EndToEnd(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2024-06-01 00:00:00", r.URL.Query().Get("start"))
		assert.Equal(t, "2024-06-02 00:00:00", r.URL.Query().Get("end"))
		okBounce(w, r)
	})
	id := env.createSession(t)
	base := "/api/v1/sessions/" + id

	rec := env.do(t, http.MethodGet, base+"/chart.png", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, base+"/range", `{"start":"2024-06-01 00:00","end":"2024-06-02 00:00"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"accepted":true}`, rec.Body.String())

	ctrl, err := env.sessions.Get(id)
	require.NoError(t, err)
	ctrl.Wait()

	rec = env.do(t, http.MethodGet, base+"/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var state struct {
		State        string `json:"state"`
		Busy         bool   `json:"busy"`
		Notification struct {
			Kind string `json:"kind"`
			Text string `json:"text"`
		} `json:"notification"`
		Metrics *MetricsResponse `json:"metrics"`
		Chart   *struct {
			Categories []string `json:"categories"`
		} `json:"chart"`
		UpdatedAt *time.Time `json:"updated_at"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))

	assert.Equal(t, "succeeded", state.State)
	assert.False(t, state.Busy)
	assert.Equal(t, "success", state.Notification.Kind)
	require.NotNil(t, state.Metrics)
	assert.Equal(t, 66.67, state.Metrics.AdequacyRate)
	assert.Equal(t, 95.04, state.Metrics.SavingsRate)
	assert.Equal(t, "66.67%", state.Metrics.AdequacyRateText)
	assert.Equal(t, "95.04%", state.Metrics.SavingsRateText)
	require.NotNil(t, state.Chart)
	assert.Equal(t, []string{"00:00", "08:00", "16:00"}, state.Chart.Categories)
	assert.NotNil(t, state.UpdatedAt)

	rec = env.do(t, http.MethodGet, base+"/chart.png", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestSubmitRange_Rejections(t *testing.T) {
	env := newTestEnv(t, okBounce)
	id := env.createSession(t)
	path := "/api/v1/sessions/" + id + "/range"

	t.Run("incomplete range is ignored", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, path, `{"start":"2024-06-01 00:00"}`)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"accepted":false}`, rec.Body.String())
	})

	t.Run("disabled date", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, path, `{"start":"2024-05-15 10:00","end":"2024-06-01 00:00"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unparseable date", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, path, `{"start":"June 1st","end":"2024-06-02 00:00"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad body", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, path, `{"start":`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("oversized value", func(t *testing.T) {
		rec := env.do(t, http.MethodPost, path, `{"start":"`+strings.Repeat("9", 40)+`","end":""}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	ctrl, err := env.sessions.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "idle", ctrl.State().State.String())
}

func TestSubmitRange_UpstreamFailure(t *testing.T) {
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusBadGateway)
	})
	id := env.createSession(t)
	base := "/api/v1/sessions/" + id

	rec := env.do(t, http.MethodPost, base+"/range", `{"start":"2024-06-01 00:00","end":"2024-06-02 00:00"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	ctrl, err := env.sessions.Get(id)
	require.NoError(t, err)
	ctrl.Wait()

	rec = env.do(t, http.MethodGet, base+"/state", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var state map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	assert.Equal(t, "failed", state["state"])
	assert.Nil(t, state["metrics"])
	assert.Nil(t, state["chart"])
}

func TestCancelAndDeleteSession(t *testing.T) {
	release := make(chan struct{})
	env := newTestEnv(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	})
	defer close(release)

	id := env.createSession(t)
	base := "/api/v1/sessions/" + id

	rec := env.do(t, http.MethodPost, base+"/range", `{"start":"2024-06-01 00:00","end":"2024-06-02 00:00"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	rec = env.do(t, http.MethodDelete, base+"/range", "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	ctrl, err := env.sessions.Get(id)
	require.NoError(t, err)
	ctrl.Wait()
	assert.Equal(t, "failed", ctrl.State().State.String())

	rec = env.do(t, http.MethodDelete, base, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, 0, env.sessions.Len())

	rec = env.do(t, http.MethodGet, base+"/state", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestEventStream(t *testing.T) {
	env := newTestEnv(t, okBounce)
	id := env.createSession(t)

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/sessions/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	names := make(chan string, 16)
	go func() {
		defer close(names)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				names <- name
			}
		}
	}()

	require.Equal(t, "connected", <-names)

	rec := env.do(t, http.MethodPost, "/api/v1/sessions/"+id+"/range", `{"start":"2024-06-01 00:00","end":"2024-06-02 00:00"}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var got []string
	for name := range names {
		got = append(got, name)
		if name == string(events.SnapshotPublished) {
			break
		}
	}
	cancel()

	assert.Equal(t, []string{
		string(events.StateChanged),
		string(events.NotificationChanged),
		string(events.StateChanged),
		string(events.NotificationChanged),
		string(events.SnapshotPublished),
	}, got)
}

func TestEventStreamEndsWhenSessionDeleted(t *testing.T) {
	env := newTestEnv(t, okBounce)
	id := env.createSession(t)

	ts := httptest.NewServer(env.server.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/api/v1/sessions/"+id+"/events", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	names := make(chan string, 16)
	go func() {
		defer close(names)
		scanner := bufio.NewScanner(resp.Body)
		for scanner.Scan() {
			if name, ok := strings.CutPrefix(scanner.Text(), "event: "); ok {
				names <- name
			}
		}
	}()

	require.Equal(t, "connected", <-names)

	rec := env.do(t, http.MethodDelete, "/api/v1/sessions/"+id, "")
	require.Equal(t, http.StatusNoContent, rec.Code)

	assert.Equal(t, "closed", <-names)

	// The server ends the response, so the reader sees EOF before the deadline
	_, open := <-names
	assert.False(t, open)
	assert.NoError(t, ctx.Err())
}

func TestWriteJSONEncodeFailure(t *testing.T) {
	env := newTestEnv(t, okBounce)

	rec := httptest.NewRecorder()
	env.server.writeJSON(rec, http.StatusOK, map[string]float64{"savings_rate": math.Inf(1)})

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"error":"failed to encode response"}`, rec.Body.String())
}
