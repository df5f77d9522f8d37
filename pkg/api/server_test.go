package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ethan/sfu-client/pkg/logger"
	"github.com/ethan/sfu-client/pkg/media"
	"github.com/ethan/sfu-client/pkg/negotiation"
	"github.com/ethan/sfu-client/pkg/session"
	"github.com/ethan/sfu-client/pkg/stats"
)

type fakeClient struct {
	status     session.Status
	publishErr error
	published  []webrtc.RTPCodecType
	reports    []stats.Report
}

func (f *fakeClient) Status(context.Context) (session.Status, error) {
	return f.status, nil
}

func (f *fakeClient) Publish(_ context.Context, kind webrtc.RTPCodecType) error {
	f.published = append(f.published, kind)
	return f.publishErr
}

func (f *fakeClient) CollectStats(context.Context) ([]stats.Report, error) {
	return f.reports, nil
}

func do(t *testing.T, h http.Handler, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	h := NewServer(&fakeClient{}, logger.Discard()).Handler()

	rec := do(t, h, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestStatus(t *testing.T) {
	client := &fakeClient{status: session.Status{
		ClientID:      "abc",
		Connected:     true,
		SessionID:     5,
		ParticipantID: 2,
		Receivers:     []session.ConnectionStatus{{ParticipantID: 4, Role: "recv", State: "stable"}},
	}}
	h := NewServer(client, logger.Discard()).Handler()

	rec := do(t, h, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var got session.Status
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, client.status, got)
}

func TestStats(t *testing.T) {
	h := NewServer(&fakeClient{}, logger.Discard()).Handler()

	rec := do(t, h, http.MethodGet, "/api/stats")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reports":[]}`, rec.Body.String())
}

func TestPublish(t *testing.T) {
	tests := []struct {
		name string
		path string
		err  error
		code int
	}{
		{name: "video", path: "/api/publish/video", code: http.StatusAccepted},
		{name: "audio", path: "/api/publish/audio", code: http.StatusAccepted},
		{name: "unknown kind", path: "/api/publish/screen", code: http.StatusBadRequest},
		{name: "not connected", path: "/api/publish/video", err: session.ErrNotConnected, code: http.StatusServiceUnavailable},
		{name: "no device", path: "/api/publish/audio", err: fmt.Errorf("get audio track: %w", media.ErrNoDevice), code: http.StatusNotFound},
		{name: "already sending", path: "/api/publish/video", err: negotiation.ErrAlreadySending, code: http.StatusConflict},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &fakeClient{publishErr: tt.err}
			h := NewServer(client, logger.Discard()).Handler()

			rec := do(t, h, http.MethodPost, tt.path)
			assert.Equal(t, tt.code, rec.Code)
			if tt.code == http.StatusBadRequest {
				assert.Empty(t, client.published)
			}
		})
	}
}
