package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dkeye/sfuclient/internal/app"
	"github.com/dkeye/sfuclient/internal/app/orch"
	"github.com/dkeye/sfuclient/internal/app/relay"
	"github.com/dkeye/sfuclient/internal/config"
	"github.com/dkeye/sfuclient/internal/core/coretest"
	"github.com/dkeye/sfuclient/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*gin.Engine, *orch.Orchestrator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	sfu := coretest.NewSFU()
	sfu.ProducersExist = true
	sfu.Producers = []domain.ProducerID{"p2", "p3"}
	o := &orch.Orchestrator{
		Session: app.NewSession(sfu, coretest.NewEngine(), app.Options{Peer: "peer-1"}),
		Signal:  sfu,
		Relays:  relay.NewManager(),
	}
	t.Cleanup(func() { o.Close(context.Background()) })
	return SetupRouter(&config.Config{Mode: "test"}, "peer-1", o), o
}

func join(t *testing.T, o *orch.Orchestrator) {
	t.Helper()
	track, err := webrtc.NewTrackLocalStaticSample(webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8}, "video", "camera")
	require.NoError(t, err)
	require.NoError(t, o.Join(context.Background(), "main", track))
}

func do(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	r, _ := setup(t)
	w := do(r, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	require.NotEmpty(t, w.Header().Get(requestIDHeader))
}

func TestSessionStatus(t *testing.T) {
	r, o := setup(t)

	w := do(r, http.MethodGet, "/api/session")
	require.Equal(t, http.StatusOK, w.Code)
	var st SessionStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	require.False(t, st.Joined)

	join(t, o)
	w = do(r, http.MethodGet, "/api/session")
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &st))
	require.True(t, st.Joined)
	require.Equal(t, domain.RoomID("main"), st.Room)
	require.Equal(t, domain.ProducerID("p1"), st.ProducerID)
	require.Equal(t, 2, st.Participants)
}

func TestParticipants(t *testing.T) {
	r, o := setup(t)
	join(t, o)

	w := do(r, http.MethodGet, "/api/participants")
	require.Equal(t, http.StatusOK, w.Code)
	var entries []app.EntryInfo
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &entries))
	require.Len(t, entries, 2)
	require.Equal(t, domain.ProducerID("p2"), entries[0].ProducerID)

	w = do(r, http.MethodGet, "/api/relays")
	require.Equal(t, http.StatusOK, w.Code)
	var relays []relay.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &relays))
	require.Len(t, relays, 2)

	w = do(r, http.MethodDelete, "/api/participants/p2")
	require.Equal(t, http.StatusNoContent, w.Code)
	require.Equal(t, 1, o.Session.Registry().Len())

	w = do(r, http.MethodDelete, "/api/participants/p2")
	require.Equal(t, http.StatusNotFound, w.Code)
}
