package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"rtcore/internal/apperr"
	"rtcore/internal/event"
	"rtcore/internal/models"
	"rtcore/internal/presence"
	"rtcore/internal/testhelpers"
)

type recorderMock struct {
	mock.Mock
}

func (m *recorderMock) RecordCall(ctx context.Context, rec *models.CallRecord) error {
	args := m.Called(ctx, rec)
	return args.Error(0)
}

type manualClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *manualClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *manualClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fixture struct {
	coord    *Coordinator
	registry *presence.Registry
	recorder *recorderMock
	clock    *manualClock
	conns    map[string]*testhelpers.Conn
}

func newFixture(t *testing.T, online ...string) *fixture {
	f := &fixture{
		registry: presence.NewRegistry(nil),
		recorder: &recorderMock{},
		clock:    &manualClock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)},
		conns:    map[string]*testhelpers.Conn{},
	}
	f.coord = New(f.registry, f.recorder, zerolog.Nop(), WithClock(f.clock.now))
	for _, u := range online {
		c := testhelpers.NewConn("conn-" + u)
		f.conns[u] = c
		f.registry.Register(u, c)
	}
	t.Cleanup(func() { f.recorder.AssertExpectations(t) })
	return f
}

func offer() json.RawMessage  { return json.RawMessage(`{"type":"offer","sdp":"v=0"}`) }
func answer() json.RawMessage { return json.RawMessage(`{"type":"answer","sdp":"v=0"}`) }

func (f *fixture) expectRecord(status models.CallStatus, duration int) *mock.Call {
	return f.recorder.On("RecordCall", mock.Anything, mock.MatchedBy(func(rec *models.CallRecord) bool {
		return rec.Status == status && rec.Duration == duration
	})).Return(nil).Once()
}

func TestCall_AcceptedThenEnded(t *testing.T) {
	f := newFixture(t, "A", "B")

	require.NoError(t, f.coord.Initiate("A", "B", models.CallVideo, offer()))
	active := f.coord.Active("A")
	require.Len(t, active, 1)
	assert.Equal(t, Ringing, active[0].State)

	var incoming IncomingCall
	testhelpers.Decode(t, f.conns["B"].Last(t, event.IncomingCall), &incoming)
	assert.Equal(t, "A", incoming.From)
	assert.Equal(t, models.CallVideo, incoming.Kind)
	assert.JSONEq(t, string(offer()), string(incoming.Signal))

	require.NoError(t, f.coord.Accept("B", "A", answer()))
	assert.Equal(t, Accepted, f.coord.Active("B")[0].State)

	var accepted Answer
	testhelpers.Decode(t, f.conns["A"].Last(t, event.CallAccepted), &accepted)
	assert.Equal(t, "B", accepted.From)
	assert.JSONEq(t, string(answer()), string(accepted.Signal))

	f.clock.advance(95 * time.Second)
	f.recorder.On("RecordCall", mock.Anything, mock.MatchedBy(func(rec *models.CallRecord) bool {
		return rec.CallerID == "A" && rec.ReceiverID == "B" &&
			rec.Kind == models.CallVideo &&
			rec.Status == models.CallCompleted &&
			rec.Duration == 95
	})).Return(nil).Once()

	require.NoError(t, f.coord.HangUp(context.Background(), "A", "B"))
	assert.Empty(t, f.coord.Active("A"))

	var ended PeerEvent
	testhelpers.Decode(t, f.conns["B"].Last(t, event.CallEnded), &ended)
	assert.Equal(t, "A", ended.From)
}

func TestCall_OfflineCallee(t *testing.T) {
	f := newFixture(t, "A")

	err := f.coord.Initiate("A", "C", models.CallVoice, offer())
	assert.ErrorIs(t, err, apperr.ErrPeerUnreachable)
	assert.Empty(t, f.coord.Active("A"))

	var failed CallFailed
	testhelpers.Decode(t, f.conns["A"].Last(t, event.CallFailed), &failed)
	assert.Equal(t, CallFailed{To: "C", Reason: ReasonUnreachable, Message: "user is not online"}, failed)

	f.recorder.AssertNotCalled(t, "RecordCall", mock.Anything, mock.Anything)
}

func TestCall_CalleeDisconnectsWhileRinging(t *testing.T) {
	f := newFixture(t, "A", "B")
	require.NoError(t, f.coord.Initiate("A", "B", models.CallVideo, offer()))

	f.clock.advance(30 * time.Second)
	f.recorder.On("RecordCall", mock.Anything, mock.MatchedBy(func(rec *models.CallRecord) bool {
		return rec.CallerID == "A" && rec.Status == models.CallMissed && rec.Duration == 0
	})).Return(nil).Once()

	assert.Equal(t, 1, f.coord.Disconnect(context.Background(), "B"))
	assert.Empty(t, f.coord.Active("A"))
	assert.Contains(t, f.conns["A"].Types(), event.CallEnded)
}

func TestCall_Rejected(t *testing.T) {
	f := newFixture(t, "A", "B")
	require.NoError(t, f.coord.Initiate("A", "B", models.CallVoice, offer()))

	f.expectRecord(models.CallRejected, 0)
	require.NoError(t, f.coord.Reject(context.Background(), "B", "A"))

	var rejected PeerEvent
	testhelpers.Decode(t, f.conns["A"].Last(t, event.CallRejected), &rejected)
	assert.Equal(t, "B", rejected.From)
	assert.Empty(t, f.coord.Active("B"))
}

func TestCall_CallerCancelsWhileRinging(t *testing.T) {
	f := newFixture(t, "A", "B")
	require.NoError(t, f.coord.Initiate("A", "B", models.CallVideo, offer()))

	f.expectRecord(models.CallMissed, 0)
	require.NoError(t, f.coord.HangUp(context.Background(), "A", "B"))
	assert.Contains(t, f.conns["B"].Types(), event.CallEnded)
}

func TestCall_BusyPair(t *testing.T) {
	f := newFixture(t, "A", "B")
	require.NoError(t, f.coord.Initiate("A", "B", models.CallVideo, offer()))

	err := f.coord.Initiate("B", "A", models.CallVoice, offer())
	assert.ErrorIs(t, err, apperr.ErrBusy)

	var failed CallFailed
	testhelpers.Decode(t, f.conns["B"].Last(t, event.CallFailed), &failed)
	assert.Equal(t, ReasonBusy, failed.Reason)

	// the original attempt is untouched
	active := f.coord.Active("A")
	require.Len(t, active, 1)
	assert.Equal(t, "A", active[0].Caller)
	assert.Equal(t, Ringing, active[0].State)
}

func TestCall_SeparatePairsIndependent(t *testing.T) {
	f := newFixture(t, "A", "B", "C")
	require.NoError(t, f.coord.Initiate("A", "B", models.CallVideo, offer()))
	require.NoError(t, f.coord.Initiate("C", "A", models.CallVideo, offer()))
	assert.Len(t, f.coord.Active("A"), 2)

	f.expectRecord(models.CallMissed, 0).Twice()
	assert.Equal(t, 2, f.coord.Disconnect(context.Background(), "A"))
	assert.Contains(t, f.conns["B"].Types(), event.CallEnded)
	assert.Contains(t, f.conns["C"].Types(), event.CallEnded)
}

func TestCall_InvalidTransitions(t *testing.T) {
	f := newFixture(t, "A", "B")
	ctx := context.Background()

	assert.ErrorIs(t, f.coord.Accept("B", "A", answer()), apperr.ErrNoActiveCall)
	assert.ErrorIs(t, f.coord.Reject(ctx, "B", "A"), apperr.ErrNoActiveCall)
	assert.ErrorIs(t, f.coord.HangUp(ctx, "A", "B"), apperr.ErrNoActiveCall)

	require.NoError(t, f.coord.Initiate("A", "B", models.CallVideo, offer()))

	// the caller cannot answer their own call
	assert.ErrorIs(t, f.coord.Accept("A", "B", answer()), apperr.ErrInvalidTransition)
	assert.ErrorIs(t, f.coord.Reject(ctx, "A", "B"), apperr.ErrInvalidTransition)

	require.NoError(t, f.coord.Accept("B", "A", answer()))
	assert.ErrorIs(t, f.coord.Accept("B", "A", answer()), apperr.ErrInvalidTransition)
	assert.ErrorIs(t, f.coord.Reject(ctx, "B", "A"), apperr.ErrInvalidTransition)
	assert.Equal(t, Accepted, f.coord.Active("A")[0].State)

	f.expectRecord(models.CallCompleted, 0)
	require.NoError(t, f.coord.HangUp(ctx, "B", "A"))
	assert.ErrorIs(t, f.coord.HangUp(ctx, "A", "B"), apperr.ErrNoActiveCall)
}

func TestCall_InvalidInitiation(t *testing.T) {
	f := newFixture(t, "A", "B")

	assert.ErrorIs(t, f.coord.Initiate("A", "A", models.CallVideo, offer()), apperr.ErrSelfTarget)
	assert.ErrorIs(t, f.coord.Initiate("A", "B", "hologram", offer()), apperr.ErrInvalidCallKind)
	assert.Empty(t, f.coord.Active("A"))

	require.NoError(t, f.coord.Initiate("A", "B", "", offer()))
	assert.Equal(t, models.CallVideo, f.coord.Active("A")[0].Kind)
}

func TestCall_Candidates(t *testing.T) {
	f := newFixture(t, "A", "B")
	cand := json.RawMessage(`{"candidate":"candidate:1 1 udp 1 10.0.0.1 5000 typ host"}`)

	assert.ErrorIs(t, f.coord.Candidate("A", "B", cand), apperr.ErrNoActiveCall)

	require.NoError(t, f.coord.Initiate("A", "B", models.CallVideo, offer()))
	require.NoError(t, f.coord.Candidate("A", "B", cand))
	require.NoError(t, f.coord.Candidate("B", "A", cand))

	var got Candidate
	testhelpers.Decode(t, f.conns["B"].Last(t, event.IceCandidate), &got)
	assert.Equal(t, "A", got.From)
	assert.JSONEq(t, string(cand), string(got.Candidate))
}

func TestCall_RecordFailureReported(t *testing.T) {
	f := newFixture(t, "A", "B")
	require.NoError(t, f.coord.Initiate("A", "B", models.CallVideo, offer()))
	require.NoError(t, f.coord.Accept("B", "A", answer()))

	f.recorder.On("RecordCall", mock.Anything, mock.Anything).
		Return(apperr.ErrPersistFailed(errors.New("db down"))).Once()

	err := f.coord.HangUp(context.Background(), "B", "A")
	require.Error(t, err)

	var failure event.Failure
	testhelpers.Decode(t, f.conns["B"].Last(t, event.Error), &failure)
	assert.Equal(t, string(apperr.CodeInternal), failure.Code)

	// the session is gone regardless, the pair can call again
	assert.Empty(t, f.coord.Active("A"))
	require.NoError(t, f.coord.Initiate("A", "B", models.CallVoice, offer()))
}

func TestTransitionTable(t *testing.T) {
	allowed := map[[2]State]bool{
		{Idle, Calling}:     true,
		{Calling, Ringing}:  true,
		{Calling, Ended}:    true,
		{Ringing, Accepted}: true,
		{Ringing, Rejected}: true,
		{Ringing, Ended}:    true,
		{Accepted, Ended}:   true,
	}
	states := []State{Idle, Calling, Ringing, Accepted, Rejected, Ended}
	for _, from := range states {
		for _, to := range states {
			assert.Equal(t, allowed[[2]State{from, to}], canTransition(from, to), "%s -> %s", from, to)
		}
	}
	assert.True(t, Rejected.Terminal())
	assert.True(t, Ended.Terminal())
	assert.False(t, Accepted.Terminal())
}
