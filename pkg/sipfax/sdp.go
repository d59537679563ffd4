package sipfax

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/pion/sdp/v3"

	"github.com/arzzra/faxbridge/pkg/rtpchan"
)

var (
	// ErrNoAudio в предложении нет активного аудио потока RTP/AVP
	ErrNoAudio = errors.New("sipfax: в SDP нет аудио потока")
	// ErrNoCommonCodec удаленная сторона не предлагает PCMU/PCMA
	ErrNoCommonCodec = errors.New("sipfax: нет общего кодека")
)

// mediaOffer результат разбора SDP предложения
type mediaOffer struct {
	RemoteAddr  string
	PayloadType uint8
	// TelephoneEvent payload type RFC 4733, -1 если не предложен
	TelephoneEvent int
	Ptime          time.Duration
}

// negotiateOffer выбирает кодек G.711 из SDP предложения.
// Сохраняется порядок предпочтения удаленной стороны.
func negotiateOffer(body []byte) (mediaOffer, error) {
	if len(body) == 0 {
		return mediaOffer{}, ErrNoAudio
	}

	var desc sdp.SessionDescription
	if err := desc.Unmarshal(audioOnly(body)); err != nil {
		return mediaOffer{}, fmt.Errorf("sipfax: разбор SDP: %w", err)
	}

	for _, md := range desc.MediaDescriptions {
		if md.MediaName.Media != "audio" || md.MediaName.Port.Value == 0 {
			continue
		}
		if strings.Join(md.MediaName.Protos, "/") != "RTP/AVP" {
			continue
		}

		conn := md.ConnectionInformation
		if conn == nil {
			conn = desc.ConnectionInformation
		}
		if conn == nil || conn.Address == nil {
			return mediaOffer{}, fmt.Errorf("sipfax: в SDP нет адреса соединения")
		}

		offer := mediaOffer{
			RemoteAddr:     net.JoinHostPort(conn.Address.Address, strconv.Itoa(md.MediaName.Port.Value)),
			TelephoneEvent: -1,
		}

		codecFound := false
		for _, format := range md.MediaName.Formats {
			pt, err := strconv.Atoi(format)
			if err != nil {
				continue
			}
			if !codecFound && (pt == int(rtpchan.PayloadTypePCMU) || pt == int(rtpchan.PayloadTypePCMA)) {
				offer.PayloadType = uint8(pt)
				codecFound = true
			}
			if rtpmapCodec(md, pt) == "telephone-event" {
				offer.TelephoneEvent = pt
			}
		}
		if !codecFound {
			return mediaOffer{}, ErrNoCommonCodec
		}

		if value, ok := md.Attribute("ptime"); ok {
			if ms, err := strconv.Atoi(strings.TrimSpace(value)); err == nil && ms > 0 {
				offer.Ptime = time.Duration(ms) * time.Millisecond
			}
		}
		return offer, nil
	}

	return mediaOffer{}, ErrNoAudio
}

// rtpmapCodec возвращает имя кодека из a=rtpmap для payload type
func rtpmapCodec(md *sdp.MediaDescription, pt int) string {
	prefix := strconv.Itoa(pt) + " "
	for _, attr := range md.Attributes {
		if attr.Key != "rtpmap" || !strings.HasPrefix(attr.Value, prefix) {
			continue
		}
		name := strings.TrimPrefix(attr.Value, prefix)
		if i := strings.IndexByte(name, '/'); i >= 0 {
			name = name[:i]
		}
		return strings.ToLower(strings.TrimSpace(name))
	}
	return ""
}

// audioOnly убирает из SDP все медиа секции, кроме audio.
// pion/sdp не разбирает m=image, а шлюзы часто предлагают T.38 рядом с G.711.
func audioOnly(body []byte) []byte {
	lines := strings.Split(string(body), "\n")
	kept := make([]string, 0, len(lines))
	skip := false
	for _, line := range lines {
		if strings.HasPrefix(line, "m=") {
			skip = !strings.HasPrefix(line, "m=audio ")
		}
		if !skip {
			kept = append(kept, line)
		}
	}
	return []byte(strings.Join(kept, "\n"))
}

// answerParams параметры SDP ответа
type answerParams struct {
	Host           string
	Port           int
	PayloadType    uint8
	TelephoneEvent int
	Ptime          time.Duration
	SessionID      uint64
	SessionName    string
}

// buildAnswer формирует SDP ответ с единственным выбранным кодеком
func buildAnswer(p answerParams) ([]byte, error) {
	codec := "PCMU"
	if p.PayloadType == rtpchan.PayloadTypePCMA {
		codec = "PCMA"
	}

	desc := &sdp.SessionDescription{
		Version: 0,
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      p.SessionID,
			SessionVersion: p.SessionID,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: p.Host,
		},
		SessionName: sdp.SessionName(p.SessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: p.Host},
		},
		TimeDescriptions: []sdp.TimeDescription{
			{Timing: sdp.Timing{StartTime: 0, StopTime: 0}},
		},
	}

	media := &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: p.Port},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{strconv.Itoa(int(p.PayloadType))},
		},
		Attributes: []sdp.Attribute{
			sdp.NewAttribute("rtpmap", fmt.Sprintf("%d %s/8000", p.PayloadType, codec)),
		},
	}
	if p.TelephoneEvent >= 0 {
		media.MediaName.Formats = append(media.MediaName.Formats, strconv.Itoa(p.TelephoneEvent))
		media.Attributes = append(media.Attributes,
			sdp.NewAttribute("rtpmap", fmt.Sprintf("%d telephone-event/8000", p.TelephoneEvent)),
			sdp.NewAttribute("fmtp", fmt.Sprintf("%d 0-15", p.TelephoneEvent)))
	}
	if p.Ptime > 0 {
		media.Attributes = append(media.Attributes,
			sdp.NewAttribute("ptime", strconv.Itoa(int(p.Ptime/time.Millisecond))))
	}
	media.Attributes = append(media.Attributes, sdp.NewPropertyAttribute("sendrecv"))
	desc.MediaDescriptions = []*sdp.MediaDescription{media}

	return desc.Marshal()
}
