// Package sipfax принимает SIP вызовы и запускает на них сессии факса.
//
// Вызов маршрутизируется по пользователю из Request-URI. Для каждого
// принятого INVITE создается RTP канал, а ответ 200 OK с SDP отправляется,
// когда сессия отвечает на канал. BYE от удаленной стороны кладет канал,
// завершение сессии с нашей стороны отправляет BYE.
package sipfax

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/emiago/sipgo"
	"github.com/emiago/sipgo/sip"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/arzzra/faxbridge/pkg/archive"
	"github.com/arzzra/faxbridge/pkg/bridge"
	"github.com/arzzra/faxbridge/pkg/channel"
	"github.com/arzzra/faxbridge/pkg/config"
	"github.com/arzzra/faxbridge/pkg/engine"
	"github.com/arzzra/faxbridge/pkg/rtpchan"
)

const byeTimeout = 5 * time.Second

// Server SIP сервер факсов
type Server struct {
	config  config.Config
	factory engine.Factory
	logger  *zap.Logger
	archive archive.Uploader
	metrics *bridge.Metrics
	ports   *portPool

	ctx    context.Context
	client *sipgo.Client

	mu    sync.Mutex
	calls map[string]*call
	wg    sync.WaitGroup
}

// Option настраивает Server
type Option func(*Server)

// WithLogger задает логгер
func WithLogger(logger *zap.Logger) Option {
	return func(s *Server) { s.logger = logger }
}

// WithArchive включает выгрузку принятых документов
func WithArchive(u archive.Uploader) Option {
	return func(s *Server) { s.archive = u }
}

// WithMetrics подключает метрики сессий
func WithMetrics(m *bridge.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// NewServer создает сервер. factory создает движок для каждой сессии.
func NewServer(cfg config.Config, factory engine.Factory, opts ...Option) (*Server, error) {
	if factory == nil {
		return nil, errors.New("sipfax: фабрика движка не задана")
	}
	ports, err := newPortPool(cfg.RTP.MinPort, cfg.RTP.MaxPort)
	if err != nil {
		return nil, fmt.Errorf("sipfax: %w", err)
	}

	s := &Server{
		config:  cfg,
		factory: factory,
		logger:  zap.NewNop(),
		ports:   ports,
		ctx:     context.Background(),
		calls:   make(map[string]*call),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.Named("sipfax")
	return s, nil
}

// Serve слушает SIP до отмены ctx. При остановке все активные вызовы
// кладутся, Serve ждет завершения их сессий.
func (s *Server) Serve(ctx context.Context) error {
	ua, err := sipgo.NewUA(sipgo.WithUserAgent(s.config.SIP.UserAgent))
	if err != nil {
		return fmt.Errorf("sipfax: ошибка создания User Agent: %w", err)
	}
	defer ua.Close()

	srv, err := sipgo.NewServer(ua)
	if err != nil {
		return fmt.Errorf("sipfax: ошибка создания сервера: %w", err)
	}
	client, err := sipgo.NewClient(ua)
	if err != nil {
		return fmt.Errorf("sipfax: ошибка создания клиента: %w", err)
	}

	s.ctx = ctx
	s.client = client

	srv.OnInvite(s.handleInvite)
	srv.OnAck(s.handleAck)
	srv.OnBye(s.handleBye)
	srv.OnCancel(s.handleCancel)

	s.logger.Info("запуск SIP сервера",
		zap.String("transport", s.config.SIP.Transport),
		zap.String("address", s.config.SIP.ListenAddr),
		zap.Int("routes", len(s.config.Routes)))

	err = srv.ListenAndServe(ctx, s.config.SIP.Transport, s.config.SIP.ListenAddr)

	s.hangupAll()
	s.wg.Wait()

	if ctx.Err() != nil {
		return nil
	}
	return err
}

// ActiveCalls количество активных вызовов
func (s *Server) ActiveCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *Server) handleInvite(req *sip.Request, tx sip.ServerTransaction) {
	callIDHdr := req.CallID()
	if callIDHdr == nil {
		s.respond(tx, req, sip.StatusBadRequest, "Missing Call-ID", nil)
		return
	}
	callID := callIDHdr.Value()
	logger := s.logger.With(zap.String("call_id", callID))

	if tag, _ := req.To().Params.Get("tag"); tag != "" {
		if s.lookup(callID) != nil {
			// re-INVITE (например, переход на T.38) не поддерживается
			s.respond(tx, req, sip.StatusNotAcceptableHere, "Not Acceptable Here", nil)
		} else {
			s.respond(tx, req, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist", nil)
		}
		return
	}
	if s.lookup(callID) != nil {
		return
	}

	user := req.Recipient.User
	route, ok := s.config.Route(user)
	if !ok {
		logger.Info("нет маршрута для вызова", zap.String("user", user))
		s.respond(tx, req, sip.StatusNotFound, "Not Found", nil)
		return
	}

	s.respond(tx, req, sip.StatusTrying, "Trying", nil)

	offer, err := negotiateOffer(req.Body())
	if err != nil {
		logger.Info("SDP предложение отклонено", zap.Error(err))
		s.respond(tx, req, sip.StatusNotAcceptableHere, "Not Acceptable Here", nil)
		return
	}

	port, err := s.ports.allocate()
	if err != nil {
		logger.Warn("нет свободных RTP портов", zap.Error(err))
		s.respond(tx, req, sip.StatusServiceUnavailable, "Service Unavailable", nil)
		return
	}

	id := uuid.NewString()
	c := &call{
		id:       id,
		callID:   *callIDHdr,
		route:    route,
		req:      req,
		tx:       tx,
		port:     port,
		localTag: uuid.NewString()[:8],
		server:   s,
		logger:   logger.With(zap.String("session_id", id)),
	}

	ptime := s.config.RTP.Ptime
	if offer.Ptime > 0 {
		ptime = offer.Ptime
	}
	ch, err := rtpchan.New(rtpchan.Config{
		Name:        fmt.Sprintf("SIP/%s-%s", user, id[:8]),
		LocalAddr:   net.JoinHostPort(s.config.RTP.Host, strconv.Itoa(port)),
		RemoteAddr:  offer.RemoteAddr,
		PayloadType: offer.PayloadType,
		Ptime:       ptime,
		DSCP:        s.config.RTP.DSCP,
		OnAnswer:    c.answer,
	}, c.logger)
	if err != nil {
		s.ports.release(port)
		logger.Error("не удалось создать RTP канал", zap.Error(err))
		s.respond(tx, req, sip.StatusInternalServerError, "Server Internal Error", nil)
		return
	}
	c.ch = ch

	c.answerSDP, err = buildAnswer(answerParams{
		Host:           s.config.AdvertiseHost(),
		Port:           port,
		PayloadType:    offer.PayloadType,
		TelephoneEvent: offer.TelephoneEvent,
		Ptime:          ptime,
		SessionID:      uint64(time.Now().Unix()),
		SessionName:    s.config.SIP.UserAgent,
	})
	if err != nil {
		_ = ch.Close()
		s.ports.release(port)
		logger.Error("не удалось сформировать SDP ответ", zap.Error(err))
		s.respond(tx, req, sip.StatusInternalServerError, "Server Internal Error", nil)
		return
	}

	if s.config.Station.LocalIdent != "" {
		ch.SetVar(channel.VarLocalStationID, s.config.Station.LocalIdent)
	}
	if s.config.Station.HeaderInfo != "" {
		ch.SetVar(channel.VarLocalHeaderInfo, s.config.Station.HeaderInfo)
	}

	s.mu.Lock()
	s.calls[callID] = c
	s.mu.Unlock()

	c.logger.Info("входящий вызов принят",
		zap.String("user", user),
		zap.String("from", req.From().Address.String()),
		zap.String("direction", route.Direction),
		zap.Stringer("codec", ch.NativeFormat()),
		zap.Int("rtp_port", port))

	s.wg.Add(1)
	go s.runCall(c)
}

func (s *Server) handleAck(req *sip.Request, tx sip.ServerTransaction) {
	if id := req.CallID(); id != nil {
		s.logger.Debug("получен ACK", zap.String("call_id", id.Value()))
	}
}

func (s *Server) handleBye(req *sip.Request, tx sip.ServerTransaction) {
	callIDHdr := req.CallID()
	if callIDHdr == nil {
		s.respond(tx, req, sip.StatusBadRequest, "Missing Call-ID", nil)
		return
	}
	c := s.lookup(callIDHdr.Value())
	if c == nil {
		s.respond(tx, req, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist", nil)
		return
	}

	c.logger.Info("удаленная сторона завершила вызов")
	c.remoteHangup()
	s.respond(tx, req, sip.StatusOK, "OK", nil)
}

func (s *Server) handleCancel(req *sip.Request, tx sip.ServerTransaction) {
	callIDHdr := req.CallID()
	if callIDHdr == nil {
		s.respond(tx, req, sip.StatusBadRequest, "Missing Call-ID", nil)
		return
	}
	c := s.lookup(callIDHdr.Value())
	if c == nil {
		s.respond(tx, req, sip.StatusCallTransactionDoesNotExists, "Call/Transaction Does Not Exist", nil)
		return
	}

	s.respond(tx, req, sip.StatusOK, "OK", nil)
	if c.cancel() {
		s.respond(c.tx, c.req, sip.StatusRequestTerminated, "Request Terminated", nil)
	}
}

// runCall выполняет сессию факса вызова и освобождает его ресурсы
func (s *Server) runCall(c *call) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.calls, c.callID.Value())
		s.mu.Unlock()
		_ = c.ch.Close()
		s.ports.release(c.port)
	}()

	direction := directionFor(c.route)
	session := bridge.New(bridge.Config{
		SessionID: c.id,
		Direction: direction,
		Factory:   s.factory,
		Logger:    s.logger.Named("bridge"),
		Metrics:   s.metrics,
	})
	res := session.Run(s.ctx, c.ch, c.route.Expand(c.id))

	switch c.finish() {
	case finishBye:
		s.sendBye(c)
	case finishReject:
		s.respond(c.tx, c.req, sip.StatusTemporarilyUnavailable, "Temporarily Unavailable", nil)
	}

	s.archiveResult(c.id, direction, res)
}

// archiveResult выгружает успешно принятый документ
func (s *Server) archiveResult(id string, direction engine.Direction, res bridge.Result) {
	if s.archive == nil || direction != engine.DirectionReceive || res.Outcome != bridge.OutcomeSuccess {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	_, err := s.archive.Upload(ctx, res.Request.FilePath, archive.Metadata{
		SessionID:       id,
		RemoteStationID: res.PeerIdent,
		Direction:       direction.String(),
	})
	if err != nil {
		s.logger.Error("не удалось выгрузить документ в архив",
			zap.String("session_id", id),
			zap.String("file", res.Request.FilePath),
			zap.Error(err))
	}
}

// sendBye завершает диалог с нашей стороны
func (s *Server) sendBye(c *call) {
	if s.client == nil {
		return
	}
	bye := c.buildBye()

	ctx, cancel := context.WithTimeout(context.Background(), byeTimeout)
	defer cancel()
	res, err := s.client.Do(ctx, bye)
	if err != nil {
		c.logger.Warn("ошибка отправки BYE", zap.Error(err))
		return
	}
	c.logger.Debug("ответ на BYE", zap.Int("status", res.StatusCode))
}

func (s *Server) hangupAll() {
	s.mu.Lock()
	calls := make([]*call, 0, len(s.calls))
	for _, c := range s.calls {
		calls = append(calls, c)
	}
	s.mu.Unlock()

	for _, c := range calls {
		c.ch.Hangup()
	}
}

func (s *Server) lookup(callID string) *call {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[callID]
}

func (s *Server) respond(tx sip.ServerTransaction, req *sip.Request, code int, reason string, body []byte) {
	res := sip.NewResponseFromRequest(req, code, reason, body)
	if err := tx.Respond(res); err != nil {
		s.logger.Warn("не удалось отправить ответ",
			zap.Int("status", code),
			zap.String("method", req.Method.String()),
			zap.Error(err))
	}
}

func directionFor(r config.Route) engine.Direction {
	if r.Direction == config.DirectionReceive {
		return engine.DirectionReceive
	}
	return engine.DirectionSend
}
