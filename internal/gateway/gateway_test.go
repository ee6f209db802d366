package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/callguard/internal/auth"
	"github.com/yoockh/callguard/internal/cache"
	"github.com/yoockh/callguard/internal/models"
	"github.com/yoockh/callguard/internal/utils"
)

type fakeConn struct {
	mu       sync.Mutex
	frames   [][]byte
	pings    int
	pingErr  error
	writeErr error
	closed   bool
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.frames = append(c.frames, append([]byte(nil), data...))
	return nil
}

func (c *fakeConn) WriteControl(messageType int, _ []byte, _ time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if messageType == websocket.PingMessage {
		c.pings++
	}
	return c.pingErr
}

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) events(t *testing.T) []models.AlertEvent {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.AlertEvent, 0, len(c.frames))
	for _, f := range c.frames {
		var ev models.AlertEvent
		require.NoError(t, json.Unmarshal(f, &ev))
		out = append(out, ev)
	}
	return out
}

func (c *fakeConn) frameCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.frames)
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type staticVerifier map[string]int64

func (v staticVerifier) Verify(raw string) (auth.Identity, error) {
	if uid, ok := v[raw]; ok {
		return auth.Identity{UserID: uid, Role: "user"}, nil
	}
	return auth.Identity{}, errors.New("bad token")
}

func newTestGateway(t *testing.T, opts Options) (*Gateway, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	log, _ := test.NewNullLogger()
	gw := New(staticVerifier{"tok-1": 1, "tok-2": 2}, cache.NewRedisCache(rdb), opts, log)
	t.Cleanup(gw.Shutdown)
	return gw, mr
}

func TestConnect_RejectsBadToken(t *testing.T) {
	gw, _ := newTestGateway(t, Options{})
	_, err := gw.Connect(context.Background(), "nope", &fakeConn{})
	assert.True(t, utils.IsCode(err, utils.CodeUnauthorized))
	assert.Equal(t, 0, gw.Count())
}

func TestConnect_ReplacePolicyEvictsOldSession(t *testing.T) {
	gw, _ := newTestGateway(t, Options{})
	first := &fakeConn{}
	second := &fakeConn{}

	s1, err := gw.Connect(context.Background(), "tok-1", first)
	require.NoError(t, err)
	s2, err := gw.Connect(context.Background(), "tok-1", second)
	require.NoError(t, err)

	assert.True(t, first.isClosed())
	assert.Equal(t, 1, gw.Count())

	// late teardown of the evicted session must not remove the new one
	gw.Remove(s1)
	cur, ok := gw.Session(1)
	require.True(t, ok)
	assert.Same(t, s2, cur)
}

func TestConnect_RejectPolicy(t *testing.T) {
	gw, _ := newTestGateway(t, Options{SessionPolicy: PolicyReject})

	_, err := gw.Connect(context.Background(), "tok-1", &fakeConn{})
	require.NoError(t, err)
	_, err = gw.Connect(context.Background(), "tok-1", &fakeConn{})
	assert.ErrorIs(t, err, utils.ErrDuplicateSession)
	assert.Equal(t, 409, utils.HTTPStatus(err))
}

func TestDeliver_OfflineIsIdempotent(t *testing.T) {
	gw, _ := newTestGateway(t, Options{})
	ev := models.AlertEvent{Type: models.EventAlert, CallID: 1}

	for i := 0; i < 3; i++ {
		assert.False(t, gw.Deliver(99, ev))
	}
}

func TestDeliver_ReachesClient(t *testing.T) {
	gw, _ := newTestGateway(t, Options{})
	conn := &fakeConn{}
	_, err := gw.Connect(context.Background(), "tok-2", conn)
	require.NoError(t, err)

	assert.True(t, gw.Deliver(2, models.AlertEvent{Type: models.EventAlert, CallID: 8, RiskLevel: models.RiskHigh}))

	require.Eventually(t, func() bool { return conn.frameCount() == 1 }, time.Second, 5*time.Millisecond)
	ev := conn.events(t)[0]
	assert.Equal(t, int64(8), ev.CallID)
	assert.Equal(t, models.RiskHigh, ev.RiskLevel)
}

func TestDeliver_AfterDisconnect(t *testing.T) {
	gw, _ := newTestGateway(t, Options{})
	conn := &fakeConn{}
	_, err := gw.Connect(context.Background(), "tok-1", conn)
	require.NoError(t, err)

	gw.Disconnect(1)
	gw.Disconnect(1)

	assert.True(t, conn.isClosed())
	assert.False(t, gw.Deliver(1, models.AlertEvent{Type: models.EventInfo}))
}

func TestSetDefenseLevel_TwiceSendsTwoSyncs(t *testing.T) {
	gw, _ := newTestGateway(t, Options{})
	conn := &fakeConn{}
	s, err := gw.Connect(context.Background(), "tok-1", conn)
	require.NoError(t, err)

	cfg := map[string]any{"video_sample_fps": float64(5)}
	require.NoError(t, gw.SetDefenseLevel(context.Background(), 1, 2, cfg))
	require.NoError(t, gw.SetDefenseLevel(context.Background(), 1, 2, cfg))

	require.Eventually(t, func() bool { return conn.frameCount() == 2 }, time.Second, 5*time.Millisecond)
	evs := conn.events(t)
	assert.Equal(t, evs[0].Action, evs[1].Action)
	for _, ev := range evs {
		assert.Equal(t, models.EventControl, ev.Type)
		assert.Equal(t, models.ActionLevelSync, ev.Action)
		require.NotNil(t, ev.TargetLevel)
		assert.Equal(t, 2, *ev.TargetLevel)
		assert.Equal(t, cfg, ev.Config)
	}
	assert.Equal(t, 2, s.DefenseLevel())
}

func TestSetDefenseLevel_DowngradeAndPersistence(t *testing.T) {
	gw, mr := newTestGateway(t, Options{LevelTTL: time.Minute})

	require.NoError(t, gw.SetDefenseLevel(context.Background(), 1, 2, nil))
	require.NoError(t, gw.SetDefenseLevel(context.Background(), 1, 0, nil))

	val, err := mr.Get(cache.DefenseLevelKey(1))
	require.NoError(t, err)
	assert.Equal(t, "0", val)
	assert.Equal(t, time.Minute, mr.TTL(cache.DefenseLevelKey(1)))

	require.NoError(t, gw.SetDefenseLevel(context.Background(), 1, 1, nil))
	s, err := gw.Connect(context.Background(), "tok-1", &fakeConn{})
	require.NoError(t, err)
	assert.Equal(t, 1, s.DefenseLevel(), "new session picks up the stored level")
}

func TestSetDefenseLevel_RejectsOutOfRange(t *testing.T) {
	gw, _ := newTestGateway(t, Options{})
	err := gw.SetDefenseLevel(context.Background(), 1, 3, nil)
	assert.True(t, utils.IsCode(err, utils.CodeInvalidArgument))
}

func TestProbe_DropsOnlyDeadSessions(t *testing.T) {
	gw, _ := newTestGateway(t, Options{})
	alive := &fakeConn{}
	dead := &fakeConn{pingErr: errors.New("broken pipe")}

	_, err := gw.Connect(context.Background(), "tok-1", alive)
	require.NoError(t, err)
	_, err = gw.Connect(context.Background(), "tok-2", dead)
	require.NoError(t, err)

	assert.Equal(t, 1, gw.Probe())
	assert.Equal(t, 1, gw.Count())
	_, ok := gw.Session(1)
	assert.True(t, ok)
	assert.True(t, dead.isClosed())
	assert.False(t, alive.isClosed())
}

func TestRunHeartbeat_UsesInterval(t *testing.T) {
	gw, _ := newTestGateway(t, Options{HeartbeatInterval: 10 * time.Millisecond})
	dead := &fakeConn{pingErr: errors.New("half closed")}
	_, err := gw.Connect(context.Background(), "tok-1", dead)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go gw.RunHeartbeat(ctx)

	require.Eventually(t, func() bool { return gw.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestWriteFailureDropsSession(t *testing.T) {
	gw, _ := newTestGateway(t, Options{})
	conn := &fakeConn{writeErr: errors.New("reset by peer")}
	_, err := gw.Connect(context.Background(), "tok-1", conn)
	require.NoError(t, err)

	gw.Deliver(1, models.AlertEvent{Type: models.EventInfo})
	require.Eventually(t, func() bool { return gw.Count() == 0 }, time.Second, 5*time.Millisecond)
}

func TestDeliver_FullBufferReturnsFalse(t *testing.T) {
	gw, _ := newTestGateway(t, Options{SendBuffer: 1})
	s := newSession(5, &fakeConn{}, 1, time.Second)
	gw.mu.Lock()
	gw.sessions[5] = s
	gw.mu.Unlock()

	// no writer goroutine, so the buffer fills
	assert.True(t, gw.Deliver(5, models.AlertEvent{Type: models.EventInfo}))
	assert.False(t, gw.Deliver(5, models.AlertEvent{Type: models.EventInfo}))
}
