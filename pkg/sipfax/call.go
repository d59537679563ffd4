package sipfax

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/emiago/sipgo/sip"
	"go.uber.org/zap"

	"github.com/arzzra/faxbridge/pkg/config"
	"github.com/arzzra/faxbridge/pkg/rtpchan"
)

var errCallCancelled = errors.New("sipfax: вызов отменен")

// finishAction действие сигнализации после завершения сессии
type finishAction int

const (
	finishNone finishAction = iota
	// finishBye вызов отвечен и не завершен удаленной стороной
	finishBye
	// finishReject INVITE так и не получил финальный ответ
	finishReject
)

// call один входящий SIP вызов
type call struct {
	id        string
	callID    sip.CallIDHeader
	route     config.Route
	req       *sip.Request
	tx        sip.ServerTransaction
	ch        *rtpchan.Channel
	port      int
	localTag  string
	answerSDP []byte
	server    *Server
	logger    *zap.Logger

	mu       sync.Mutex
	answered bool
	// hungUp вызов завершен удаленной стороной (BYE или CANCEL)
	hungUp bool
}

// answer отправляет 200 OK с SDP ответом. Вызывается из Answer канала.
func (c *call) answer(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.hungUp {
		return errCallCancelled
	}
	if c.answered {
		return nil
	}

	res := sip.NewResponseFromRequest(c.req, sip.StatusOK, "OK", c.answerSDP)
	res.ReplaceHeader(&sip.ToHeader{
		DisplayName: c.req.To().DisplayName,
		Address:     c.req.To().Address,
		Params:      sip.NewParams().Add("tag", c.localTag),
	})
	res.AppendHeader(&sip.ContactHeader{Address: c.contactURI()})
	res.AppendHeader(sip.NewHeader("Content-Type", "application/sdp"))

	if err := c.tx.Respond(res); err != nil {
		return fmt.Errorf("sipfax: ошибка отправки 200 OK: %w", err)
	}
	c.answered = true
	c.logger.Debug("вызов отвечен")
	return nil
}

// remoteHangup обрабатывает BYE удаленной стороны
func (c *call) remoteHangup() {
	c.mu.Lock()
	c.hungUp = true
	c.mu.Unlock()
	c.ch.Hangup()
}

// cancel обрабатывает CANCEL. Возвращает true, если INVITE еще ждет
// финального ответа и его нужно завершить 487.
func (c *call) cancel() bool {
	c.mu.Lock()
	pending := !c.answered && !c.hungUp
	c.hungUp = true
	c.mu.Unlock()
	c.ch.Hangup()
	return pending
}

// finish фиксирует завершение сессии и возвращает нужное действие
func (c *call) finish() finishAction {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.hungUp:
		return finishNone
	case c.answered:
		c.hungUp = true
		return finishBye
	default:
		c.hungUp = true
		return finishReject
	}
}

func (c *call) contactURI() sip.Uri {
	port := 5060
	if _, p, err := net.SplitHostPort(c.server.config.SIP.ListenAddr); err == nil {
		if n, err := strconv.Atoi(p); err == nil {
			port = n
		}
	}
	host := c.server.config.AdvertiseHost()
	if host == "0.0.0.0" || host == "" {
		host = c.req.Recipient.Host
	}
	return sip.Uri{Scheme: "sip", User: c.req.Recipient.User, Host: host, Port: port}
}

// buildBye строит BYE в диалоге UAS: From - наш To с тегом, To - From
// удаленной стороны, запрос на ее Contact.
func (c *call) buildBye() *sip.Request {
	target := c.req.From().Address
	if contact := c.req.Contact(); contact != nil {
		target = contact.Address
	}

	bye := sip.NewRequest(sip.BYE, target)
	bye.AppendHeader(&sip.FromHeader{
		Address: c.req.To().Address,
		Params:  sip.NewParams().Add("tag", c.localTag),
	})

	to := &sip.ToHeader{Address: c.req.From().Address, Params: sip.NewParams()}
	if tag, _ := c.req.From().Params.Get("tag"); tag != "" {
		to.Params = to.Params.Add("tag", tag)
	}
	bye.AppendHeader(to)

	callID := c.callID
	bye.AppendHeader(&callID)
	bye.AppendHeader(&sip.CSeqHeader{SeqNo: 1, MethodName: sip.BYE})
	bye.AppendHeader(sip.NewHeader("Max-Forwards", "70"))
	if ua := c.server.config.SIP.UserAgent; ua != "" {
		bye.AppendHeader(sip.NewHeader("User-Agent", ua))
	}
	return bye
}
