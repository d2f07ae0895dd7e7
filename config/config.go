package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pion/webrtc/v4"
)

type Config struct {
	Port           string
	Environment    string
	AllowedOrigins []string
	JWTSecret      string
	AdminPassword  string
	RelayPolicy    string
	ICEServers     []webrtc.ICEServer
	Redis          RedisConfig
}

type RedisConfig struct {
	Enabled       bool
	Host          string
	Port          string
	Password      string
	DB            int
	SessionStream string
	StreamMaxLen  int64
}

// AdminEnabled reports whether the operator API should be mounted.
func (c *Config) AdminEnabled() bool {
	return c.JWTSecret != "" && c.AdminPassword != ""
}

const defaultSTUNURLs = "stun:stun.l.google.com:19302,stun:stun1.l.google.com:19302"

func Load() (*Config, error) {
	// Parse allowed origins (comma-separated)
	origins := splitList(getEnv("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173"))

	iceServers, err := ParseICEServers(
		getEnv("STUN_URLS", defaultSTUNURLs),
		os.Getenv("TURN_URLS"),
		os.Getenv("TURN_USERNAME"),
		os.Getenv("TURN_CREDENTIAL"),
	)
	if err != nil {
		return nil, err
	}

	redisEnabled, err := strconv.ParseBool(getEnv("REDIS_ENABLED", "false"))
	if err != nil {
		return nil, fmt.Errorf("REDIS_ENABLED: %w", err)
	}
	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("REDIS_DB: %w", err)
	}
	maxLen, err := strconv.ParseInt(getEnv("SESSION_STREAM_MAXLEN", "10000"), 10, 64)
	if err != nil || maxLen <= 0 {
		return nil, fmt.Errorf("SESSION_STREAM_MAXLEN: must be a positive integer")
	}

	return &Config{
		Port:           getEnv("PORT", "8080"),
		Environment:    getEnv("ENVIRONMENT", "development"),
		AllowedOrigins: origins,
		JWTSecret:      os.Getenv("JWT_SECRET"),
		AdminPassword:  os.Getenv("ADMIN_PASSWORD"),
		RelayPolicy:    getEnv("RELAY_POLICY", "known"),
		ICEServers:     iceServers,
		Redis: RedisConfig{
			Enabled:       redisEnabled,
			Host:          getEnv("REDIS_HOST", "localhost"),
			Port:          getEnv("REDIS_PORT", "6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            redisDB,
			SessionStream: getEnv("SESSION_STREAM", "signaling:sessions"),
			StreamMaxLen:  maxLen,
		},
	}, nil
}

// ParseICEServers builds the ICE server list handed to browsers. TURN URLs
// require both a username and a credential.
func ParseICEServers(stunURLs, turnURLs, turnUsername, turnCredential string) ([]webrtc.ICEServer, error) {
	var servers []webrtc.ICEServer

	if urls := splitList(stunURLs); len(urls) > 0 {
		for _, u := range urls {
			if !strings.HasPrefix(u, "stun:") && !strings.HasPrefix(u, "stuns:") {
				return nil, fmt.Errorf("STUN_URLS: %q is not a stun: URL", u)
			}
		}
		servers = append(servers, webrtc.ICEServer{URLs: urls})
	}

	if urls := splitList(turnURLs); len(urls) > 0 {
		for _, u := range urls {
			if !strings.HasPrefix(u, "turn:") && !strings.HasPrefix(u, "turns:") {
				return nil, fmt.Errorf("TURN_URLS: %q is not a turn: URL", u)
			}
		}
		if strings.TrimSpace(turnUsername) == "" || strings.TrimSpace(turnCredential) == "" {
			return nil, fmt.Errorf("TURN_URLS requires TURN_USERNAME and TURN_CREDENTIAL")
		}
		servers = append(servers, webrtc.ICEServer{
			URLs:       urls,
			Username:   strings.TrimSpace(turnUsername),
			Credential: strings.TrimSpace(turnCredential),
		})
	}
	return servers, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
