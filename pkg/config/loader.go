package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Loader загружает конфигурацию из файла и окружения. Тесты подменяют
// Lookup и ReadFile детерминированными функциями.
type Loader struct {
	Lookup   func(string) (string, bool)
	ReadFile func(string) ([]byte, error)
}

// Load читает YAML файл path (если задан), применяет переопределения
// окружения и проверяет результат.
func (l Loader) Load(path string) (Config, error) {
	if l.Lookup == nil {
		l.Lookup = os.LookupEnv
	}
	if l.ReadFile == nil {
		l.ReadFile = os.ReadFile
	}

	cfg := Default()
	if path != "" {
		data, err := l.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: чтение %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: разбор %s: %w", path, err)
		}
	}

	overrideString(l.Lookup, "FAXBRIDGE_SIP_LISTEN_ADDR", &cfg.SIP.ListenAddr)
	overrideString(l.Lookup, "FAXBRIDGE_SIP_PUBLIC_HOST", &cfg.SIP.PublicHost)
	overrideString(l.Lookup, "FAXBRIDGE_RTP_HOST", &cfg.RTP.Host)
	overrideString(l.Lookup, "FAXBRIDGE_ENGINE", &cfg.Engine.Name)
	overrideString(l.Lookup, "FAXBRIDGE_ENGINE_COMMAND", &cfg.Engine.Command)
	overrideString(l.Lookup, "FAXBRIDGE_LOCAL_STATION_ID", &cfg.Station.LocalIdent)
	overrideString(l.Lookup, "FAXBRIDGE_LOCAL_HEADER_INFO", &cfg.Station.HeaderInfo)
	overrideString(l.Lookup, "FAXBRIDGE_ARCHIVE_BUCKET", &cfg.Archive.Bucket)
	overrideString(l.Lookup, "FAXBRIDGE_ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint)
	overrideString(l.Lookup, "FAXBRIDGE_METRICS_LISTEN_ADDR", &cfg.Metrics.ListenAddr)
	overrideString(l.Lookup, "FAXBRIDGE_LOG_LEVEL", &cfg.Log.Level)
	overrideString(l.Lookup, "FAXBRIDGE_LOG_FORMAT", &cfg.Log.Format)
	if err := overrideBool(l.Lookup, "FAXBRIDGE_ARCHIVE_ENABLED", &cfg.Archive.Enabled); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load загружает конфигурацию из path и окружения процесса
func Load(path string) (Config, error) {
	return Loader{}.Load(path)
}

func overrideString(lookup func(string) (string, bool), key string, target *string) {
	if value, ok := lookup(key); ok && strings.TrimSpace(value) != "" {
		*target = strings.TrimSpace(value)
	}
}

func overrideBool(lookup func(string) (string, bool), key string, target *bool) error {
	value, ok := lookup(key)
	if !ok || strings.TrimSpace(value) == "" {
		return nil
	}
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return fmt.Errorf("config: %s: %w", key, err)
	}
	*target = parsed
	return nil
}
