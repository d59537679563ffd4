package bridge

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/arzzra/faxbridge/pkg/channel"
	"github.com/arzzra/faxbridge/pkg/channel/channeltest"
	"github.com/arzzra/faxbridge/pkg/engine"
	"github.com/arzzra/faxbridge/pkg/engine/enginetest"
	"github.com/arzzra/faxbridge/pkg/faxopts"
	"github.com/arzzra/faxbridge/pkg/format"
)

func newTestSession(factory engine.Factory, direction engine.Direction) *Session {
	return New(Config{SessionID: "test", Direction: direction, Factory: factory})
}

func TestRunSuccess(t *testing.T) {
	ch := channeltest.New("SIP/peer-1", channel.FormatULAW)
	ch.PushVoice(10, 160)
	factory := &enginetest.Factory{Script: enginetest.Script{
		CompleteAfter: 3,
		StopAfter:     3,
		Completion:    engine.Completion{Code: engine.CodeOK, PeerIdent: "5551212"},
	}}

	res := newTestSession(factory, engine.DirectionSend).Run(context.Background(), ch, "/tmp/doc.tif")

	assert.Equal(t, 0, res.Code)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, "5551212", res.PeerIdent)
	assert.Equal(t, StopEngine, res.Reason)
	assert.NoError(t, res.Err)

	vars := ch.Vars()
	assert.Equal(t, "SUCCESS", vars[channel.VarTxFaxResult])
	assert.Equal(t, "5551212", vars[channel.VarRemoteStationID])

	eng := factory.Last()
	assert.Equal(t, engine.RoleAnswerer, eng.Config.Role)
	assert.Equal(t, "/tmp/doc.tif", eng.Config.FilePath)
	feeds, _, terminations := eng.Snapshot()
	assert.Len(t, feeds, 3)
	assert.Equal(t, 1, terminations)

	// Два полных цикла записали по кадру, третий остановился на feed
	assert.Len(t, ch.Written(), 2)
	assert.Equal(t, channel.FormatULAW, ch.ReadFormat())
	assert.Equal(t, channel.FormatULAW, ch.WriteFormat())
}

func TestRunProtocolError(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	ch := channeltest.New("SIP/peer-2", channel.FormatALAW)
	ch.PushVoice(5, 160)
	factory := &enginetest.Factory{Script: enginetest.Script{
		CompleteAfter: 2,
		StopAfter:     2,
		Completion:    engine.Completion{Code: engine.CodeCannotTrain, PeerIdent: "ignored"},
	}}

	s := New(Config{Factory: factory, Logger: zap.New(core)})
	res := s.Run(context.Background(), ch, "/tmp/doc.tif|caller|debug")

	assert.Equal(t, 0, res.Code)
	assert.Equal(t, OutcomeError, res.Outcome)
	assert.Equal(t, engine.CodeCannotTrain, res.Completion)
	assert.Empty(t, res.PeerIdent)
	assert.ErrorIs(t, res.Err, ErrProtocolOutcome)

	vars := ch.Vars()
	assert.Equal(t, "ERROR", vars[channel.VarTxFaxResult])
	_, published := vars[channel.VarRemoteStationID]
	assert.False(t, published)

	diag := logs.FilterMessage("передача факса не удалась").All()
	require.Len(t, diag, 1)
	assert.EqualValues(t, engine.CodeCannotTrain, diag[0].ContextMap()["result"])
	assert.Equal(t, engine.CodeCannotTrain.String(), diag[0].ContextMap()["reason"])
	assert.Equal(t, "/tmp/doc.tif|caller|debug", diag[0].ContextMap()["args"])

	cfg := factory.Last().Config
	assert.Equal(t, engine.RoleOriginator, cfg.Role)
	assert.True(t, cfg.Verbose)
}

func TestRunEmptyArgument(t *testing.T) {
	ch := channeltest.New("SIP/peer-3", channel.FormatULAW)
	ch.SetState(channel.StateRinging)
	factory := &enginetest.Factory{}

	res := newTestSession(factory, engine.DirectionSend).Run(context.Background(), ch, "")

	assert.Equal(t, -1, res.Code)
	assert.ErrorIs(t, res.Err, ErrInvalidArgument)
	assert.ErrorIs(t, res.Err, faxopts.ErrInvalidArgument)
	assert.Empty(t, ch.Mutations())
	assert.Nil(t, factory.Last())
}

func TestRunHangupBeforeCompletion(t *testing.T) {
	ch := channeltest.New("SIP/peer-4", channel.FormatULAW)
	ch.PushVoice(4, 160)
	factory := &enginetest.Factory{}

	res := newTestSession(factory, engine.DirectionSend).Run(context.Background(), ch, "/tmp/doc.tif")

	assert.Equal(t, -1, res.Code)
	assert.Equal(t, OutcomeIndeterminate, res.Outcome)
	assert.Equal(t, StopHangup, res.Reason)
	assert.ErrorIs(t, res.Err, ErrStreamEnded)
	assert.ErrorIs(t, res.Err, channel.ErrHangup)

	assert.NotContains(t, ch.Vars(), channel.VarTxFaxResult)
	assert.NotContains(t, ch.Vars(), channel.VarRemoteStationID)
	assert.Equal(t, channel.FormatULAW, ch.ReadFormat())
	assert.Equal(t, channel.FormatULAW, ch.WriteFormat())

	_, _, terminations := factory.Last().Snapshot()
	assert.Equal(t, 1, terminations)
	assert.Len(t, ch.Written(), 4)
}

func TestRunOutboundNeverExceedsInbound(t *testing.T) {
	ch := channeltest.New("SIP/peer-5", channel.FormatSLINEAR)
	sizes := []int{160, 320, 80, 240, 500, 1}
	for _, n := range sizes {
		ch.Push(channel.NewVoiceFrame(make([]int16, n)))
	}
	factory := &enginetest.Factory{}

	res := newTestSession(factory, engine.DirectionSend).Run(context.Background(), ch, "doc.tif")
	require.Equal(t, -1, res.Code)

	_, drains, _ := factory.Last().Snapshot()
	assert.Equal(t, []int{160, 240, 80, 240, 240, 1}, drains)

	written := ch.Written()
	require.Len(t, written, len(sizes))
	for i, f := range written {
		assert.LessOrEqual(t, len(f.Samples), sizes[i])
		assert.LessOrEqual(t, len(f.Samples), engine.MaxBlockSize)
		assert.Equal(t, channel.FrameVoice, f.Type)
		assert.Equal(t, channel.FormatSLINEAR, f.Format)
	}
}

func TestRunEmptyDrainSkipsWrite(t *testing.T) {
	ch := channeltest.New("SIP/peer-6", channel.FormatULAW)
	ch.PushVoice(6, 160)
	factory := &enginetest.Factory{Script: enginetest.Script{
		Output: func(call, max int) []int16 {
			if call%2 == 0 {
				return nil
			}
			return make([]int16, max/2)
		},
	}}

	newTestSession(factory, engine.DirectionSend).Run(context.Background(), ch, "doc.tif")

	written := ch.Written()
	require.Len(t, written, 3)
	for _, f := range written {
		assert.Len(t, f.Samples, 80)
	}
}

func TestRunSkipsNonVoiceFrames(t *testing.T) {
	ch := channeltest.New("SIP/peer-7", channel.FormatULAW)
	ch.Push(
		&channel.Frame{Type: channel.FrameControl},
		channel.NewVoiceFrame(make([]int16, 160)),
		&channel.Frame{Type: channel.FrameDTMF, Payload: []byte{5, 0x80, 0, 160}},
		channel.NewVoiceFrame(make([]int16, 160)),
	)
	factory := &enginetest.Factory{}

	newTestSession(factory, engine.DirectionSend).Run(context.Background(), ch, "doc.tif")

	feeds, _, _ := factory.Last().Snapshot()
	assert.Equal(t, []int{160, 160}, feeds)
}

func TestRunWriteFailure(t *testing.T) {
	ch := channeltest.New("SIP/peer-8", channel.FormatULAW)
	ch.PushVoice(10, 160)
	ch.WriteErr = errors.New("broken pipe")
	ch.WriteErrFrom = 3
	factory := &enginetest.Factory{}

	res := newTestSession(factory, engine.DirectionSend).Run(context.Background(), ch, "doc.tif")

	assert.Equal(t, 0, res.Code)
	assert.Equal(t, OutcomeIndeterminate, res.Outcome)
	assert.Equal(t, StopWriteFailure, res.Reason)
	assert.ErrorIs(t, res.Err, ErrWriteFailure)
	assert.NotContains(t, ch.Vars(), channel.VarTxFaxResult)
	assert.Len(t, ch.Written(), 2)

	feeds, _, terminations := factory.Last().Snapshot()
	assert.Len(t, feeds, 3)
	assert.Equal(t, 1, terminations)
	assert.Equal(t, channel.FormatULAW, ch.WriteFormat())
}

func TestRunAnswersChannel(t *testing.T) {
	ch := channeltest.New("SIP/peer-9", channel.FormatULAW)
	ch.SetState(channel.StateRinging)
	ch.PushVoice(1, 160)

	newTestSession(&enginetest.Factory{}, engine.DirectionSend).Run(context.Background(), ch, "doc.tif")

	require.NotEmpty(t, ch.Mutations())
	assert.Equal(t, "answer", ch.Mutations()[0])
	assert.Equal(t, channel.StateUp, ch.State())
}

func TestRunChannelNotReady(t *testing.T) {
	ch := channeltest.New("SIP/peer-10", channel.FormatULAW)
	ch.SetState(channel.StateRinging)
	ch.AnswerErr = errors.New("488 not acceptable")
	factory := &enginetest.Factory{}

	res := newTestSession(factory, engine.DirectionSend).Run(context.Background(), ch, "doc.tif")

	assert.Equal(t, -1, res.Code)
	assert.ErrorIs(t, res.Err, ErrChannelNotReady)
	assert.Equal(t, []string{"answer"}, ch.Mutations())
	assert.Nil(t, factory.Last())
}

func TestRunFormatNegotiationFailure(t *testing.T) {
	ch := channeltest.New("SIP/peer-11", channel.FormatULAW)
	ch.SetWriteErr = func(channel.Format) error { return errors.New("no translator") }
	factory := &enginetest.Factory{}

	res := newTestSession(factory, engine.DirectionSend).Run(context.Background(), ch, "doc.tif")

	assert.Equal(t, -1, res.Code)
	assert.ErrorIs(t, res.Err, ErrFormatNegotiation)
	assert.ErrorIs(t, res.Err, format.ErrFormatNegotiation)
	assert.Equal(t, channel.FormatULAW, ch.ReadFormat())
	assert.Nil(t, factory.Last())
}

func TestRunEngineStartFailure(t *testing.T) {
	ch := channeltest.New("SIP/peer-12", channel.FormatULAW)
	factory := &enginetest.Factory{Err: enginetest.ErrCreate}

	res := newTestSession(factory, engine.DirectionSend).Run(context.Background(), ch, "missing.tif")

	assert.Equal(t, -1, res.Code)
	assert.ErrorIs(t, res.Err, ErrEngineStart)
	assert.ErrorIs(t, res.Err, enginetest.ErrCreate)
	assert.Equal(t, []string{"read=slin", "write=slin", "read=ulaw", "write=ulaw"}, ch.Mutations())
}

func TestRunReceiveDirection(t *testing.T) {
	ch := channeltest.New("SIP/peer-13", channel.FormatULAW)
	ch.PushVoice(3, 160)
	factory := &enginetest.Factory{Script: enginetest.Script{
		CompleteAfter: 1,
		StopAfter:     1,
		Completion:    engine.Completion{Code: engine.CodeOK, PeerIdent: "REMOTE"},
	}}

	res := newTestSession(factory, engine.DirectionReceive).Run(context.Background(), ch, "/var/spool/in.tif")

	assert.Equal(t, 0, res.Code)
	assert.Equal(t, engine.DirectionReceive, factory.Last().Config.Direction)
	assert.Equal(t, "SUCCESS", ch.Vars()[channel.VarRxFaxResult])
	assert.NotContains(t, ch.Vars(), channel.VarTxFaxResult)
}

func TestRunContextCancelled(t *testing.T) {
	ch := channeltest.New("SIP/peer-14", channel.FormatULAW)
	ch.PushVoice(3, 160)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res := newTestSession(&enginetest.Factory{}, engine.DirectionSend).Run(ctx, ch, "doc.tif")

	assert.Equal(t, -1, res.Code)
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Equal(t, channel.FormatULAW, ch.ReadFormat())
}

func TestRunMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)

	ch := channeltest.New("SIP/peer-15", channel.FormatULAW)
	ch.PushVoice(2, 160)
	factory := &enginetest.Factory{Script: enginetest.Script{
		CompleteAfter: 2,
		StopAfter:     2,
		Completion:    engine.Completion{Code: engine.CodeOK},
	}}

	s := New(Config{Factory: factory, Metrics: metrics})
	s.Run(context.Background(), ch, "doc.tif")
	s.Run(context.Background(), channeltest.New("SIP/peer-16", channel.FormatULAW), "")

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.sessionsTotal.WithLabelValues("send", "success")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.sessionsActive))
	assert.Equal(t, 2.0, testutil.ToFloat64(metrics.framesTotal.WithLabelValues("in")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.framesTotal.WithLabelValues("out")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.errorsTotal.WithLabelValues("InvalidArgument")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.stateTransitions.WithLabelValues(StateFeed, StateTerminating)))
}
