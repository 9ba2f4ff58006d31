package socket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	config "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Config"
	logger "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Logger"
)

const testSecret = "test-secret"

func testHub(commander Commander) *Hub {
	l := zerolog.Nop()
	cfg := &config.SocketConfig{
		JWTSecret:    testSecret,
		PingInterval: 30 * time.Second,
		WriteTimeout: 10 * time.Second,
		SendBuffer:   4,
	}
	return NewHub(cfg, commander, &logger.Logger{Logger: &l})
}

func testClient(h *Hub, email string, buffer int) *Client {
	return &Client{
		hub:   h,
		email: email,
		send:  make(chan []byte, buffer),
		rooms: make(map[string]struct{}),
	}
}

func signToken(t *testing.T, claims handshakeClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return token
}

func TestVerifyToken(t *testing.T) {
	email, err := verifyToken(testSecret, signToken(t, handshakeClaims{Email: "owner@example.com"}))
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", email)
}

func TestVerifyTokenSubjectFallback(t *testing.T) {
	claims := handshakeClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "owner@example.com"},
	}
	email, err := verifyToken(testSecret, signToken(t, claims))
	require.NoError(t, err)
	assert.Equal(t, "owner@example.com", email)
}

func TestVerifyTokenRejectsBadSignature(t *testing.T) {
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, handshakeClaims{Email: "x@example.com"}).
		SignedString([]byte("other-secret"))
	require.NoError(t, err)

	_, err = verifyToken(testSecret, token)
	assert.Error(t, err)
}

func TestVerifyTokenRejectsMissingIdentity(t *testing.T) {
	_, err := verifyToken(testSecret, signToken(t, handshakeClaims{}))
	assert.ErrorIs(t, err, errNoIdentity)
}

func TestBroadcastToUserReachesAllSockets(t *testing.T) {
	h := testHub(nil)
	c1 := testClient(h, "owner@example.com", 4)
	c2 := testClient(h, "owner@example.com", 4)
	other := testClient(h, "other@example.com", 4)
	h.join(c1, userRoom("owner@example.com"))
	h.join(c2, userRoom("owner@example.com"))
	h.join(other, userRoom("other@example.com"))

	h.BroadcastToUser("owner@example.com", "DEVICE_DISCONNECTED", map[string]string{"device": "aa:bb"})

	for _, c := range []*Client{c1, c2} {
		select {
		case frame := <-c.send:
			var env envelope
			require.NoError(t, json.Unmarshal(frame, &env))
			assert.Equal(t, "DEVICE_DISCONNECTED", env.Event)
		default:
			t.Fatal("expected a frame in the send buffer")
		}
	}
	assert.Empty(t, other.send)
}

func TestBroadcastDropsFramesForSlowConsumer(t *testing.T) {
	h := testHub(nil)
	slow := testClient(h, "owner@example.com", 1)
	h.join(slow, userRoom("owner@example.com"))

	// second frame must be dropped, not block
	done := make(chan struct{})
	go func() {
		h.BroadcastToUser("owner@example.com", "E1", nil)
		h.BroadcastToUser("owner@example.com", "E2", nil)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a full send buffer")
	}
	assert.Len(t, slow.send, 1)
}

func TestUnregisterLeavesAllRooms(t *testing.T) {
	h := testHub(nil)
	c := testClient(h, "owner@example.com", 4)
	h.join(c, userRoom("owner@example.com"))
	h.join(c, DeviceRoom("aa:bb"))
	require.Equal(t, 1, h.RoomSize(DeviceRoom("aa:bb")))

	h.unregister(c)

	assert.Zero(t, h.RoomSize(userRoom("owner@example.com")))
	assert.Zero(t, h.RoomSize(DeviceRoom("aa:bb")))
}

type fakeCommander struct {
	hubID   string
	payload []byte
	ok      bool
}

func (f *fakeCommander) SendCommand(hubID string, payload []byte) bool {
	f.hubID = hubID
	f.payload = payload
	return f.ok
}

func TestHandleFrameSubscribeAndControl(t *testing.T) {
	commander := &fakeCommander{ok: true}
	h := testHub(commander)
	c := testClient(h, "owner@example.com", 4)
	h.join(c, userRoom("owner@example.com"))

	c.handleFrame([]byte(`{"event":"SUBSCRIBE_DEVICE","payload":{"device":"aa:bb"}}`))
	assert.Equal(t, 1, h.RoomSize(DeviceRoom("aa:bb")))

	c.handleFrame([]byte(`{"event":"CONTROL_REQUEST","payload":{"hub":"hub1","command":"blink:aa:bb"}}`))
	assert.Equal(t, "hub1", commander.hubID)
	assert.Equal(t, []byte("blink:aa:bb"), commander.payload)

	c.handleFrame([]byte(`{"event":"UNSUBSCRIBE_DEVICE","payload":{"device":"aa:bb"}}`))
	assert.Zero(t, h.RoomSize(DeviceRoom("aa:bb")))

	// malformed frames are ignored
	c.handleFrame([]byte(`not json`))
	c.handleFrame([]byte(`{"event":"CONTROL_REQUEST","payload":{}}`))
	assert.Equal(t, "hub1", commander.hubID)
}
