package engine_test

import (
	"testing"

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
)

func TestStartDefaults(t *testing.T) {
	factory := &enginetest.Factory{}
	ch := channeltest.New("SIP/a", channel.FormatULAW)

	a, err := engine.Start(factory, engine.StartOptions{
		Request: faxopts.Request{FilePath: "/tmp/doc.tif"},
		Vars:    ch,
	})
	require.NoError(t, err)

	cfg := factory.Last().Config
	assert.Equal(t, engine.RoleAnswerer, cfg.Role)
	assert.Equal(t, engine.DirectionSend, cfg.Direction)
	assert.False(t, cfg.Verbose)
	assert.Equal(t, "/tmp/doc.tif", cfg.FilePath)
	assert.True(t, cfg.ECM)
	assert.Equal(t, engine.CompressionT4_1D|engine.CompressionT4_2D|engine.CompressionT6, cfg.Compressions)
	assert.Empty(t, cfg.LocalIdent)
	assert.Empty(t, cfg.HeaderInfo)
	assert.Nil(t, cfg.OnComplete)
	require.NotNil(t, cfg.Log)

	// функции не сравниваются через reflect.DeepEqual
	got := a.Config()
	require.NotNil(t, got.Log)
	cfg.Log, got.Log = nil, nil
	assert.Equal(t, cfg, got)
}

func TestStartCallerDebugAndStationVars(t *testing.T) {
	factory := &enginetest.Factory{}
	ch := channeltest.New("SIP/b", channel.FormatULAW)
	ch.SetVar(channel.VarLocalStationID, "+1 555 0100 0000 0000 0000")
	ch.SetVar(channel.VarLocalHeaderInfo, "ACME Corp")

	var got []engine.Completion
	_, err := engine.Start(factory, engine.StartOptions{
		Request:    faxopts.Request{FilePath: "in.tif", Caller: true, Debug: true},
		Direction:  engine.DirectionReceive,
		Vars:       ch,
		OnComplete: func(c engine.Completion) { got = append(got, c) },
	})
	require.NoError(t, err)

	cfg := factory.Last().Config
	assert.Equal(t, engine.RoleOriginator, cfg.Role)
	assert.Equal(t, engine.DirectionReceive, cfg.Direction)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, "+1 555 0100 0000 000", cfg.LocalIdent)
	assert.Equal(t, "ACME Corp", cfg.HeaderInfo)

	require.NotNil(t, cfg.OnComplete)
	cfg.OnComplete(engine.Completion{Code: engine.CodeOK, PeerIdent: "123456789012345678901234"})
	require.Len(t, got, 1)
	assert.Equal(t, "12345678901234567890", got[0].PeerIdent)
}

func TestStartFactoryError(t *testing.T) {
	_, err := engine.Start(&enginetest.Factory{Err: enginetest.ErrCreate}, engine.StartOptions{})
	assert.ErrorIs(t, err, enginetest.ErrCreate)

	_, err = engine.Start(nil, engine.StartOptions{})
	assert.Error(t, err)
}

func TestAdapterDrainCap(t *testing.T) {
	factory := &enginetest.Factory{}
	a, err := engine.Start(factory, engine.StartOptions{})
	require.NoError(t, err)

	assert.Len(t, a.Drain(160), 160)
	assert.Len(t, a.Drain(1000), engine.MaxBlockSize)
	assert.Empty(t, a.Drain(0))

	_, drains, _ := factory.Last().Snapshot()
	assert.Equal(t, []int{160, engine.MaxBlockSize}, drains)
}

func TestAdapterDrainContractViolation(t *testing.T) {
	factory := &enginetest.Factory{Script: enginetest.Script{
		Output: func(_, max int) []int16 { return make([]int16, max+1) },
	}}
	a, err := engine.Start(factory, engine.StartOptions{})
	require.NoError(t, err)

	assert.Panics(t, func() { a.Drain(80) })
}

func TestAdapterTerminateIdempotent(t *testing.T) {
	factory := &enginetest.Factory{}
	a, err := engine.Start(factory, engine.StartOptions{})
	require.NoError(t, err)

	require.NoError(t, a.Terminate())
	require.NoError(t, a.Terminate())

	_, _, terminations := factory.Last().Snapshot()
	assert.Equal(t, 1, terminations)

	assert.True(t, a.Feed(make([]int16, 160)))
	assert.Nil(t, a.Drain(160))
}

func TestLogFuncSeverityMapping(t *testing.T) {
	tests := []struct {
		name    string
		verbose bool
		level   engine.Level
		want    zapcore.Level
		dropped bool
	}{
		{"ошибка", false, engine.LevelError, zapcore.ErrorLevel, false},
		{"предупреждение", false, engine.LevelWarning, zapcore.WarnLevel, false},
		{"протокол без debug", false, engine.LevelProtocol, 0, true},
		{"поток без debug", false, engine.LevelFlow, 0, true},
		{"протокол с debug", true, engine.LevelProtocol, zapcore.DebugLevel, false},
		{"поток с debug", true, engine.LevelFlow, zapcore.DebugLevel, false},
		{"отладка", false, engine.LevelDebug, zapcore.DebugLevel, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zapcore.DebugLevel)
			engine.NewLogFunc(zap.New(core), tt.verbose)(tt.level, "msg")

			if tt.dropped {
				assert.Equal(t, 0, logs.Len())
				return
			}
			require.Equal(t, 1, logs.Len())
			assert.Equal(t, tt.want, logs.All()[0].Level)
		})
	}
}
