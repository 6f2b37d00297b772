package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	KeyPort           = "APP_PORT"
	KeyDBDriver       = "DB_DRIVER"
	KeyDBDSN          = "DB_DSN"
	KeyJWTSecret      = "JWT_SECRET"
	KeyWSInsecure     = "WS_INSECURE_SKIP_VERIFY"
	KeyWSOrigins      = "WS_ORIGIN_PATTERNS"
	KeyWSSendBuffer   = "WS_SEND_BUFFER"
	KeyWSPingInterval = "WS_PING_INTERVAL"
	KeyLogLevel       = "LOG_LEVEL"
	KeyLogPretty      = "LOG_PRETTY"
)

type Config struct {
	Port                 int
	DBDriver             string
	DBDSN                string
	JWTSecret            string
	WSInsecureSkipVerify bool
	WSOriginPatterns     []string
	WSSendBuffer         int
	WSPingInterval       time.Duration
	LogLevel             string
	LogPretty            bool
}

// NewViper returns a viper instance reading, in increasing priority, the
// defaults, an optional config.yaml and the environment.
func NewViper() (*viper.Viper, error) {
	v := viper.New()

	v.SetDefault(KeyPort, 8084)
	v.SetDefault(KeyDBDriver, "mysql")
	v.SetDefault(KeyWSInsecure, false)
	v.SetDefault(KeyWSSendBuffer, 64)
	v.SetDefault(KeyWSPingInterval, 25*time.Second)
	v.SetDefault(KeyLogLevel, "info")
	v.SetDefault(KeyLogPretty, false)

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("config")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}
	return v, nil
}

func FromViper(v *viper.Viper) Config {
	return Config{
		Port:                 v.GetInt(KeyPort),
		DBDriver:             strings.ToLower(v.GetString(KeyDBDriver)),
		DBDSN:                v.GetString(KeyDBDSN),
		JWTSecret:            v.GetString(KeyJWTSecret),
		WSInsecureSkipVerify: v.GetBool(KeyWSInsecure),
		WSOriginPatterns:     splitList(v.GetString(KeyWSOrigins)),
		WSSendBuffer:         v.GetInt(KeyWSSendBuffer),
		WSPingInterval:       v.GetDuration(KeyWSPingInterval),
		LogLevel:             v.GetString(KeyLogLevel),
		LogPretty:            v.GetBool(KeyLogPretty),
	}
}

func Load() (Config, error) {
	v, err := NewViper()
	if err != nil {
		return Config{}, err
	}
	return FromViper(v), nil
}

func (c Config) Validate() error {
	if c.DBDSN == "" {
		return errors.New("DB_DSN is required")
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	switch c.DBDriver {
	case "mysql", "sqlite":
	default:
		return errors.New("DB_DRIVER must be mysql or sqlite")
	}
	if c.WSSendBuffer <= 0 {
		return errors.New("WS_SEND_BUFFER must be positive")
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
