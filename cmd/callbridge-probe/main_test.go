package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/opd-ai/callbridge/av/bridge"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{"missing call", []string{}, true},
		{"negative duration", []string{"--call", "c1", "--duration", "-1s"}, true},
		{"valid", []string{"--call", "c1", "--duration", "2s"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := parseFlags(tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "c1", cfg.CallID)
			assert.Equal(t, 2*time.Second, cfg.Duration)
			assert.Equal(t, "/media-stream", cfg.PrimaryPath)
		})
	}
}

func TestProbeCountsEvents(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		callID := r.URL.Query().Get("callId")
		_ = conn.WriteJSON(bridge.NewStateMessage(callID, "ringing"))
		_ = conn.WriteJSON(bridge.NewAudioMessage(bridge.EventRingbackAudio, callID, []int16{1, 2}, 8000))
		_ = conn.WriteJSON(bridge.NewStateMessage(callID, "connected"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := &ProbeConfig{
		BaseURL:     "ws" + strings.TrimPrefix(srv.URL, "http"),
		CallID:      "c1",
		PrimaryPath: "/media-stream",
	}
	sum, err := probe(ctx, cfg)

	// The server closes the channel after its three messages.
	require.Error(t, err)
	require.NotNil(t, sum)
	assert.Equal(t, 2, sum.events[bridge.EventCallState])
	assert.Equal(t, 1, sum.events[bridge.EventRingbackAudio])
	assert.Equal(t, []string{"ringing", "connected"}, sum.states)
}
