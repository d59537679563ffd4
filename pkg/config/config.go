// Package config загружает конфигурацию сервиса факсов из YAML файла и
// переменных окружения FAXBRIDGE_*.
package config

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Значения по умолчанию
const (
	DefaultSIPListenAddr     = "0.0.0.0:5060"
	DefaultSIPTransport      = "udp"
	DefaultUserAgent         = "faxbridge/1.0"
	DefaultRTPHost           = "0.0.0.0"
	DefaultRTPMinPort        = 20000
	DefaultRTPMaxPort        = 30000
	DefaultPtime             = 20 * time.Millisecond
	DefaultDSCP              = 46 // EF
	DefaultEngine            = "ipc"
	DefaultMetricsListenAddr = "127.0.0.1:9464"
	DefaultLogLevel          = "info"
	DefaultLogFormat         = "json"

	// IDPlaceholder подставляется в строку аргументов маршрута
	IDPlaceholder = "{id}"
)

// Направления маршрутов
const (
	DirectionSend    = "send"
	DirectionReceive = "receive"
)

// Config полная конфигурация сервиса
type Config struct {
	SIP     SIPConfig     `yaml:"sip"`
	RTP     RTPConfig     `yaml:"rtp"`
	Engine  EngineConfig  `yaml:"engine"`
	Station StationConfig `yaml:"station"`
	Routes  []Route       `yaml:"routes"`
	Archive ArchiveConfig `yaml:"archive"`
	Metrics MetricsConfig `yaml:"metrics"`
	Log     LogConfig     `yaml:"log"`
}

// SIPConfig сигнализация
type SIPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	Transport  string `yaml:"transport"`
	UserAgent  string `yaml:"user_agent"`
	// PublicHost адрес, публикуемый в SDP (если пусто - rtp.host)
	PublicHost string `yaml:"public_host"`
}

// RTPConfig медиа транспорт
type RTPConfig struct {
	Host    string        `yaml:"host"`
	MinPort int           `yaml:"min_port"` // Четный
	MaxPort int           `yaml:"max_port"` // Четный
	Ptime   time.Duration `yaml:"ptime"`
	DSCP    int           `yaml:"dscp"`
}

// EngineConfig выбор и параметры движка факсов
type EngineConfig struct {
	Name    string        `yaml:"name"`
	Command string        `yaml:"command"`
	Args    []string      `yaml:"args"`
	Timeout time.Duration `yaml:"timeout"` // Таймаут ответа внешнего движка
}

// StationConfig значения LOCALSTATIONID/LOCALHEADERINFO для новых каналов
type StationConfig struct {
	LocalIdent string `yaml:"local_ident"`
	HeaderInfo string `yaml:"header_info"`
}

// Route сопоставляет SIP пользователя с приложением факса
type Route struct {
	User      string `yaml:"user"`
	Direction string `yaml:"direction"`
	// Args строка аргументов приложения, {id} заменяется идентификатором сессии
	Args string `yaml:"args"`
}

// Expand возвращает строку аргументов для сессии id
func (r Route) Expand(id string) string {
	return strings.ReplaceAll(r.Args, IDPlaceholder, id)
}

// ArchiveConfig выгрузка принятых документов в S3
type ArchiveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"`
	PathStyle bool   `yaml:"path_style"`
}

// MetricsConfig HTTP эндпоинт Prometheus
type MetricsConfig struct {
	Enabled    bool   `yaml:"enabled"`
	ListenAddr string `yaml:"listen_addr"`
}

// LogConfig параметры логирования
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Default возвращает конфигурацию по умолчанию
func Default() Config {
	return Config{
		SIP: SIPConfig{
			ListenAddr: DefaultSIPListenAddr,
			Transport:  DefaultSIPTransport,
			UserAgent:  DefaultUserAgent,
		},
		RTP: RTPConfig{
			Host:    DefaultRTPHost,
			MinPort: DefaultRTPMinPort,
			MaxPort: DefaultRTPMaxPort,
			Ptime:   DefaultPtime,
			DSCP:    DefaultDSCP,
		},
		Engine: EngineConfig{
			Name:    DefaultEngine,
			Timeout: 5 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled:    true,
			ListenAddr: DefaultMetricsListenAddr,
		},
		Log: LogConfig{
			Level:  DefaultLogLevel,
			Format: DefaultLogFormat,
		},
	}
}

// Route ищет маршрут по SIP пользователю
func (c *Config) Route(user string) (Route, bool) {
	for _, r := range c.Routes {
		if r.User == user {
			return r, true
		}
	}
	return Route{}, false
}

// AdvertiseHost адрес для SDP
func (c *Config) AdvertiseHost() string {
	if c.SIP.PublicHost != "" {
		return c.SIP.PublicHost
	}
	return c.RTP.Host
}

// Validate проверяет корректность конфигурации
func (c *Config) Validate() error {
	if err := c.SIP.validate(); err != nil {
		return fmt.Errorf("config: sip: %w", err)
	}
	if err := c.RTP.validate(); err != nil {
		return fmt.Errorf("config: rtp: %w", err)
	}
	if c.Engine.Name == "" {
		return fmt.Errorf("config: engine: имя движка не может быть пустым")
	}
	if c.Engine.Name == DefaultEngine && c.Engine.Command == "" && len(c.Routes) > 0 {
		return fmt.Errorf("config: engine: для движка ipc требуется command")
	}

	seen := make(map[string]bool, len(c.Routes))
	for i, r := range c.Routes {
		if r.User == "" {
			return fmt.Errorf("config: routes[%d]: user не может быть пустым", i)
		}
		if seen[r.User] {
			return fmt.Errorf("config: routes[%d]: повторный user %q", i, r.User)
		}
		seen[r.User] = true
		if r.Direction != DirectionSend && r.Direction != DirectionReceive {
			return fmt.Errorf("config: routes[%d]: direction должен быть send или receive, получено %q", i, r.Direction)
		}
		if r.Args == "" {
			return fmt.Errorf("config: routes[%d]: args не может быть пустым", i)
		}
	}

	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return fmt.Errorf("config: archive: bucket обязателен при enabled")
	}
	if c.Metrics.Enabled && c.Metrics.ListenAddr == "" {
		return fmt.Errorf("config: metrics: listen_addr обязателен при enabled")
	}
	return nil
}

func (s SIPConfig) validate() error {
	if s.ListenAddr == "" {
		return fmt.Errorf("listen_addr не может быть пустым")
	}
	if _, _, err := net.SplitHostPort(s.ListenAddr); err != nil {
		return fmt.Errorf("listen_addr %q: %w", s.ListenAddr, err)
	}
	switch s.Transport {
	case "udp", "tcp":
	default:
		return fmt.Errorf("неподдерживаемый транспорт %q", s.Transport)
	}
	return nil
}

func (r RTPConfig) validate() error {
	if r.Host == "" {
		return fmt.Errorf("host не может быть пустым")
	}
	if r.MinPort <= 0 || r.MaxPort > 65535 || r.MinPort >= r.MaxPort {
		return fmt.Errorf("некорректный диапазон портов %d-%d", r.MinPort, r.MaxPort)
	}
	if r.MinPort%2 != 0 || r.MaxPort%2 != 0 {
		return fmt.Errorf("границы диапазона портов должны быть четными")
	}
	if r.Ptime < 10*time.Millisecond || r.Ptime > 60*time.Millisecond {
		return fmt.Errorf("ptime %s вне диапазона 10ms-60ms", r.Ptime)
	}
	if r.DSCP < 0 || r.DSCP > 63 {
		return fmt.Errorf("dscp %d вне диапазона 0-63", r.DSCP)
	}
	return nil
}
