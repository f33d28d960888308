// README: Config loader with env defaults for the API base, broker, and timers.
package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	HTTP struct {
		Addr string
	}
	API struct {
		Base  string
		Token string
	}
	Redis struct {
		Addr string
	}
	Channel struct {
		Backoff time.Duration
	}
	Location struct {
		Tick time.Duration
	}
	Maps struct {
		APIKey string
	}
}

func Load() (Config, error) {
	var cfg Config
	cfg.HTTP.Addr = envOrDefault("TRIPSYNC_HTTP_ADDR", ":8080")
	cfg.API.Base = envOrDefault("TRIPSYNC_API_BASE", "http://localhost:8080")
	cfg.API.Token = os.Getenv("TRIPSYNC_API_TOKEN")
	cfg.Redis.Addr = envOrDefault("TRIPSYNC_REDIS_ADDR", "localhost:6379")
	cfg.Channel.Backoff = time.Duration(envOrDefaultInt("TRIPSYNC_RECONNECT_SECONDS", 3)) * time.Second
	cfg.Location.Tick = time.Duration(envOrDefaultInt("TRIPSYNC_LOCATION_TICK", 5)) * time.Second
	// optional; ETA display is skipped without a key
	cfg.Maps.APIKey = os.Getenv("GOOGLE_MAPS_API_KEY")
	return cfg, nil
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
