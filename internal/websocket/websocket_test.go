package websocket

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUpgraderOrigins(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"empty list allows all", nil, "http://evil.test", true},
		{"listed origin", []string{"https://exam.school.id"}, "https://exam.school.id", true},
		{"case insensitive", []string{"https://Exam.School.id"}, "https://exam.school.id", true},
		{"unlisted origin", []string{"https://exam.school.id"}, "http://evil.test", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			up := NewUpgrader(tt.allowed)
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.Header.Set("Origin", tt.origin)
			assert.Equal(t, tt.want, up.CheckOrigin(r))
		})
	}
}

func TestConnRoundTrip(t *testing.T) {
	up := NewUpgrader(nil)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn := Wrap(raw)
		defer conn.Close()

		var req Request
		if err := conn.Read(&req); err != nil {
			return
		}
		if req.Action == ActionPing {
			conn.WriteTyped(PongResponse{Event: EventPong})
		}
		conn.WriteError(req.Action, "attempt is not in progress")
	}))
	defer srv.Close()

	client, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteJSON(Request{Action: ActionPing, QuestionID: uuid.New()}))

	var pong PongResponse
	require.NoError(t, client.ReadJSON(&pong))
	assert.Equal(t, EventPong, pong.Event)

	var errRes ErrorResponse
	require.NoError(t, client.ReadJSON(&errRes))
	assert.Equal(t, EventError, errRes.Event)
	assert.Equal(t, ActionPing, errRes.Action)
	assert.Equal(t, "attempt is not in progress", errRes.Error)
}
