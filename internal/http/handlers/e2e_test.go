package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"rtcore/internal/config"
	"rtcore/internal/event"
	"rtcore/internal/models"
	"rtcore/internal/store"
	"rtcore/internal/testhelpers"
	"rtcore/internal/ws"
)

const testSecret = "e2e-secret"

type server struct {
	*httptest.Server
	hub *ws.Hub
	st  *store.Store
}

func newServer(t *testing.T) *server {
	gin.SetMode(gin.TestMode)
	st := store.New(testhelpers.NewDB(t))
	hub := ws.NewHub(st, st, zerolog.Nop(), ws.Options{SendBuffer: 32})
	cfg := config.Config{JWTSecret: testSecret, WSInsecureSkipVerify: true}

	srv := httptest.NewServer(NewRouter(cfg, st, hub, zerolog.Nop()))
	t.Cleanup(func() {
		hub.Shutdown()
		srv.Close()
	})
	return &server{Server: srv, hub: hub, st: st}
}

func token(t *testing.T, user string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user,
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

type peer struct {
	t    *testing.T
	ctx  context.Context
	user string
	conn *websocket.Conn
}

type inbound struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// dial connects user and waits until the server has bound the connection.
func (s *server) dial(ctx context.Context, t *testing.T, user string) *peer {
	t.Helper()
	url := "ws" + strings.TrimPrefix(s.URL, "http") + "/ws?token=" + token(t, user)
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	p := &peer{t: t, ctx: ctx, user: user, conn: conn}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })

	p.send(event.UserOnline, user)
	var st event.Status
	for {
		p.expect(event.UserStatus, &st)
		if st.UserID == user && st.Online {
			return p
		}
	}
}

func (p *peer) send(typ string, data interface{}) {
	p.t.Helper()
	raw, err := json.Marshal(data)
	require.NoError(p.t, err)
	require.NoError(p.t, wsjson.Write(p.ctx, p.conn, event.Envelope{Type: typ, Data: raw}))
}

// expect reads until an event of typ arrives, skipping everything else.
func (p *peer) expect(typ string, out interface{}) {
	p.t.Helper()
	for {
		var ev inbound
		require.NoError(p.t, wsjson.Read(p.ctx, p.conn, &ev), "waiting for %s", typ)
		if ev.Type != typ {
			continue
		}
		if out != nil {
			require.NoError(p.t, json.Unmarshal(ev.Data, out))
		}
		return
	}
}

func (s *server) get(t *testing.T, user, path string, out interface{}) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, s.URL+path, nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token(t, user))
	res, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer res.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(res.Body).Decode(out))
	}
	return res.StatusCode
}

func TestWS_RejectsMissingToken(t *testing.T) {
	s := newServer(t)
	res, err := http.Get(s.URL + "/ws")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)

	res, err = http.Get(s.URL + "/ws?token=nope")
	require.NoError(t, err)
	res.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, res.StatusCode)
}

func TestWS_MessagingAndCallFlow(t *testing.T) {
	s := newServer(t)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	alice := s.dial(ctx, t, "alice")
	bob := s.dial(ctx, t, "bob")

	var presence struct {
		Data []string `json:"data"`
	}
	assert.Equal(t, http.StatusOK, s.get(t, "alice", "/api/v1/presence", &presence))
	assert.Equal(t, []string{"alice", "bob"}, presence.Data)

	// message
	alice.send(event.SendMessage, event.SendMessagePayload{Receiver: "bob", Text: "hi bob"})
	var received, confirmed models.Message
	bob.expect(event.ReceiveMessage, &received)
	alice.expect(event.MessageSent, &confirmed)
	assert.Equal(t, "hi bob", received.Text)
	assert.Equal(t, confirmed.ID, received.ID)
	assert.Equal(t, "alice_bob", received.ConversationID)

	var history struct {
		Data []models.Message `json:"data"`
	}
	assert.Equal(t, http.StatusOK, s.get(t, "bob", "/api/v1/messages/alice", &history))
	require.Len(t, history.Data, 1)
	assert.Equal(t, received.ID, history.Data[0].ID)

	var convs struct {
		Data   []store.ConversationSummary `json:"data"`
		Unread int64                       `json:"unread"`
	}
	assert.Equal(t, http.StatusOK, s.get(t, "bob", "/api/v1/conversations", &convs))
	require.Len(t, convs.Data, 1)
	assert.Equal(t, "alice", convs.Data[0].OtherUser)
	assert.EqualValues(t, 1, convs.Data[0].UnreadCount)
	assert.EqualValues(t, 1, convs.Unread)

	// call: alice rings bob, bob answers, then bob's connection drops
	alice.send(event.CallUser, event.CallUserPayload{UserToCall: "bob", Kind: "video", SignalData: json.RawMessage(`{"sdp":"offer"}`)})
	var incoming struct {
		From   string          `json:"from"`
		Kind   string          `json:"kind"`
		Signal json.RawMessage `json:"signal"`
	}
	bob.expect(event.IncomingCall, &incoming)
	assert.Equal(t, "alice", incoming.From)
	assert.Equal(t, "video", incoming.Kind)
	assert.JSONEq(t, `{"sdp":"offer"}`, string(incoming.Signal))

	bob.send(event.AnswerCall, event.AnswerCallPayload{To: "alice", Signal: json.RawMessage(`{"sdp":"answer"}`)})
	alice.expect(event.CallAccepted, nil)

	require.NoError(t, bob.conn.Close(websocket.StatusNormalClosure, "leaving"))
	var ended struct {
		From string `json:"from"`
	}
	alice.expect(event.CallEnded, &ended)
	assert.Equal(t, "bob", ended.From)

	// the record is written right after call-ended is pushed
	var calls struct {
		Data []models.CallRecord `json:"data"`
	}
	require.Eventually(t, func() bool {
		calls.Data = nil
		return s.get(t, "alice", "/api/v1/calls", &calls) == http.StatusOK && len(calls.Data) == 1
	}, 2*time.Second, 20*time.Millisecond)
	assert.Equal(t, models.CallCompleted, calls.Data[0].Status)
	assert.Equal(t, "alice", calls.Data[0].CallerID)
	assert.GreaterOrEqual(t, calls.Data[0].Duration, 0)

	var online struct {
		Data struct {
			Online bool `json:"online"`
		} `json:"data"`
	}
	assert.Equal(t, http.StatusOK, s.get(t, "alice", "/api/v1/presence/bob", &online))
	assert.False(t, online.Data.Online)

	// bob is gone, so a new call fails at once
	alice.send(event.CallUser, event.CallUserPayload{UserToCall: "bob"})
	var failed struct {
		Reason string `json:"reason"`
	}
	alice.expect(event.CallFailed, &failed)
	assert.Equal(t, "unreachable", failed.Reason)
}
