package ipc

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arzzra/faxbridge/pkg/engine"
)

// fakePeer внешний движок на другой стороне net.Pipe
type fakePeer struct {
	t      *testing.T
	conn   net.Conn
	handle func(req Request) *Response

	mu       sync.Mutex
	requests []Request
	done     chan struct{}
}

func startPeer(t *testing.T, handle func(req Request) *Response) (*fakePeer, net.Conn) {
	t.Helper()
	client, server := net.Pipe()
	p := &fakePeer{t: t, conn: server, handle: handle, done: make(chan struct{})}
	go p.serve()
	t.Cleanup(func() {
		_ = client.Close()
		_ = server.Close()
		<-p.done
	})
	return p, client
}

func (p *fakePeer) serve() {
	defer close(p.done)
	dec := NewFrameDecoder(p.conn)
	enc := NewFrameEncoder(p.conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		p.mu.Lock()
		p.requests = append(p.requests, req)
		p.mu.Unlock()

		resp := p.handle(req)
		if resp == nil {
			continue
		}
		if resp.Type == "" {
			resp.Type = TypeAck
		}
		if resp.Seq == 0 {
			resp.Seq = req.Seq
		}
		if err := enc.Encode(resp); err != nil {
			return
		}
	}
}

func (p *fakePeer) Requests() []Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Request(nil), p.requests...)
}

// scriptedHandler отвечает как простой движок: на третьем feed сообщает
// результат и просит остановку
func scriptedHandler(req Request) *Response {
	switch req.Type {
	case TypeFeed:
		if req.Seq == 4 {
			return &Response{
				Stop:       true,
				Completion: &CompletionRecord{Code: int(engine.CodeOK), PeerIdent: "5551212"},
				Logs:       []LogRecord{{Level: int(engine.LevelFlow), Message: "phase E"}},
			}
		}
		return &Response{}
	case TypeDrain:
		return &Response{Samples: make([]int16, req.Max)}
	default:
		return &Response{}
	}
}

type logEntry struct {
	level engine.Level
	msg   string
}

func TestEngineSession(t *testing.T) {
	peer, conn := startPeer(t, scriptedHandler)

	var (
		completions []engine.Completion
		logs        []logEntry
	)
	cfg := engine.Config{
		Role:         engine.RoleOriginator,
		Direction:    engine.DirectionSend,
		Verbose:      true,
		LocalIdent:   "LOCAL",
		FilePath:     "/tmp/doc.tif",
		ECM:          true,
		Compressions: engine.DefaultCompressions,
		OnComplete:   func(c engine.Completion) { completions = append(completions, c) },
		Log:          func(l engine.Level, m string) { logs = append(logs, logEntry{l, m}) },
	}

	e, err := NewEngine(conn, cfg, time.Second)
	require.NoError(t, err)

	assert.False(t, e.Feed(make([]int16, 160)))
	assert.Len(t, e.Drain(160), 160)
	assert.Empty(t, completions)

	assert.True(t, e.Feed(make([]int16, 160)))
	require.Len(t, completions, 1)
	assert.Equal(t, engine.Completion{Code: engine.CodeOK, PeerIdent: "5551212"}, completions[0])
	assert.Contains(t, logs, logEntry{engine.LevelFlow, "phase E"})

	require.NoError(t, e.Terminate())
	require.NoError(t, e.Terminate())

	reqs := peer.Requests()
	require.Len(t, reqs, 5)
	assert.Equal(t, TypeInit, reqs[0].Type)
	require.NotNil(t, reqs[0].Init)
	assert.Equal(t, "originator", reqs[0].Init.Role)
	assert.Equal(t, "/tmp/doc.tif", reqs[0].Init.FilePath)
	assert.Equal(t, "LOCAL", reqs[0].Init.LocalIdent)
	assert.True(t, reqs[0].Init.ECM)
	assert.Equal(t, uint32(engine.DefaultCompressions), reqs[0].Init.Compressions)
	assert.Equal(t, TypeFeed, reqs[1].Type)
	assert.Len(t, reqs[1].Samples, 160)
	assert.Equal(t, TypeDrain, reqs[2].Type)
	assert.Equal(t, 160, reqs[2].Max)
	assert.Equal(t, TypeTerminate, reqs[4].Type)
	for i, r := range reqs {
		assert.Equal(t, uint32(i+1), r.Seq)
	}
}

func TestEngineInitRejected(t *testing.T) {
	_, conn := startPeer(t, func(req Request) *Response {
		return &Response{Error: "cannot open /tmp/missing.tif"}
	})

	_, err := NewEngine(conn, engine.Config{FilePath: "/tmp/missing.tif"}, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot open")
}

func TestEngineDrainClampsOversizedReply(t *testing.T) {
	_, conn := startPeer(t, func(req Request) *Response {
		if req.Type == TypeDrain {
			return &Response{Samples: make([]int16, 500)}
		}
		return &Response{}
	})

	var logs []logEntry
	e, err := NewEngine(conn, engine.Config{Log: func(l engine.Level, m string) { logs = append(logs, logEntry{l, m}) }}, time.Second)
	require.NoError(t, err)

	assert.Len(t, e.Drain(240), 240)
	require.NotEmpty(t, logs)
	assert.Equal(t, engine.LevelWarning, logs[0].level)
}

func TestEngineFailureStopsSession(t *testing.T) {
	tests := []struct {
		name   string
		handle func(req Request) *Response
	}{
		{
			name: "ошибка в ответе",
			handle: func(req Request) *Response {
				if req.Type == TypeFeed {
					return &Response{Error: "modem failure"}
				}
				return &Response{}
			},
		},
		{
			name: "чужой seq",
			handle: func(req Request) *Response {
				if req.Type == TypeFeed {
					return &Response{Seq: 99}
				}
				return &Response{}
			},
		},
		{
			name: "не ack",
			handle: func(req Request) *Response {
				if req.Type == TypeFeed {
					return &Response{Type: "event"}
				}
				return &Response{}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			peer, conn := startPeer(t, tt.handle)
			var errorsLogged int
			e, err := NewEngine(conn, engine.Config{Log: func(l engine.Level, m string) {
				if l == engine.LevelError {
					errorsLogged++
				}
			}}, time.Second)
			require.NoError(t, err)

			assert.True(t, e.Feed(make([]int16, 160)))
			assert.Nil(t, e.Drain(160))
			assert.True(t, e.Feed(make([]int16, 160)))
			assert.Equal(t, 1, errorsLogged)

			_ = e.Terminate()
			for _, r := range peer.Requests() {
				assert.NotEqual(t, TypeTerminate, r.Type)
			}
		})
	}
}

func TestEngineTimeout(t *testing.T) {
	_, conn := startPeer(t, func(req Request) *Response {
		if req.Type == TypeFeed {
			return nil
		}
		return &Response{}
	})

	e, err := NewEngine(conn, engine.Config{}, 50*time.Millisecond)
	require.NoError(t, err)

	started := time.Now()
	assert.True(t, e.Feed(make([]int16, 160)))
	assert.Less(t, time.Since(started), time.Second)
	assert.NoError(t, e.Terminate())
}

func TestFactory(t *testing.T) {
	_, conn := startPeer(t, scriptedHandler)
	f := &Factory{Connect: func() (io.ReadWriteCloser, error) { return conn, nil }, Timeout: time.Second}

	eng, err := f.New(engine.Config{})
	require.NoError(t, err)
	assert.False(t, eng.Feed(nil))
	require.NoError(t, eng.Terminate())

	dialErr := errors.New("connection refused")
	_, err = (&Factory{Connect: func() (io.ReadWriteCloser, error) { return nil, dialErr }}).New(engine.Config{})
	assert.ErrorIs(t, err, dialErr)

	_, err = (&Factory{}).New(engine.Config{})
	assert.Error(t, err)

	_, err = NewCommandFactory("", nil, 0, nil).New(engine.Config{})
	assert.Error(t, err)
}

func TestFrameDecoderErrors(t *testing.T) {
	t.Run("пустой поток", func(t *testing.T) {
		_, err := NewFrameDecoder(bytes.NewReader(nil)).ReadFrame()
		assert.ErrorIs(t, err, io.EOF)
	})

	t.Run("обрезанный префикс", func(t *testing.T) {
		_, err := NewFrameDecoder(bytes.NewReader([]byte{0, 0})).ReadFrame()
		assert.True(t, IsFatalFrameError(err))
	})

	t.Run("обрезанный payload", func(t *testing.T) {
		_, err := NewFrameDecoder(bytes.NewReader([]byte{0, 0, 0, 8, 1, 2})).ReadFrame()
		var fe *FrameError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, FrameErrorPartial, fe.Kind)
	})

	t.Run("слишком большой кадр", func(t *testing.T) {
		var prefix [LengthPrefixSize]byte
		binary.BigEndian.PutUint32(prefix[:], MaxPayloadSize+1)
		_, err := NewFrameDecoder(bytes.NewReader(prefix[:])).ReadFrame()
		var fe *FrameError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, FrameErrorTooLarge, fe.Kind)
	})

	t.Run("не msgpack", func(t *testing.T) {
		var req Request
		err := NewFrameDecoder(bytes.NewReader([]byte{0, 0, 0, 1, 0xc1})).Decode(&req)
		var fe *FrameError
		require.ErrorAs(t, err, &fe)
		assert.Equal(t, FrameErrorDecode, fe.Kind)
		assert.False(t, IsFatalFrameError(err))
	})
}
