package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	IP   string
	Port string

	AuthUser string
	AuthPwd  string

	SSLKeyPath  string
	SSLCertPath string

	RedisAddr     string
	RedisPassword string

	PrivateEnabled bool
	PublicEnabled  bool

	AuthToken  string
	TimeToLive time.Duration

	SweepInterval time.Duration
	RelayChannel  string

	NotifyRatePerSec int

	LogLevel string
}

func Load() Config {

	cfg := Config{

		IP:   envOr("SERVER_IP", "0.0.0.0"),
		Port: envOr("SERVER_PORT", "80"),

		AuthUser: os.Getenv("SERVER_AUTH_USER"),
		AuthPwd:  os.Getenv("SERVER_AUTH_PWD"),

		SSLKeyPath:  os.Getenv("SERVER_SSL_KEY_PATH"),
		SSLCertPath: os.Getenv("SERVER_SSL_CERT_PATH"),

		RedisAddr:     envOr("SERVER_REDIS_HOST", "localhost") + ":" + envOr("SERVER_REDIS_PORT", "6379"),
		RedisPassword: os.Getenv("SERVER_REDIS_PASSWORD"),

		PrivateEnabled: envBool("SOCKET_PRIVATE", true),
		PublicEnabled:  envBool("SOCKET_PUBLIC", true),

		AuthToken: envOr("SOCKET_AUTH_TOKEN", "please-change-me"),

		// SOCKET_TIME_TO_LIVE is milliseconds, as in the original deployment.
		TimeToLive: time.Duration(envInt("SOCKET_TIME_TO_LIVE", 86400000)) * time.Millisecond,

		SweepInterval: envDuration("SWEEP_INTERVAL", 10*time.Minute),
		RelayChannel:  envOr("RELAY_CHANNEL", "notify:relay"),

		NotifyRatePerSec: envInt("NOTIFY_RATE_PER_SEC", 0),

		LogLevel: envOr("LOG_LEVEL", "info"),
	}

	return cfg

}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v != "false"
}

func envDuration(key string, def time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
