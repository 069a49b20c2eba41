// internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Collections names the document collections the game reads and writes.
type Collections struct {
	Games   string `yaml:"games"`
	Prompts string `yaml:"prompts"`
	Answers string `yaml:"answers"`
	Users   string `yaml:"users"`
}

// GameSettings are the rules every client of a game must agree on.
type GameSettings struct {
	MinPlayers         int `yaml:"min_players"`
	MaxPlayers         int `yaml:"max_players"`
	PromptTimerSeconds int `yaml:"prompt_timer_seconds"`
	VotingTimerSeconds int `yaml:"voting_timer_seconds"`
	RoundsPerGame      int `yaml:"rounds_per_game"`

	// UseGlobalPrompts lets prompt selection fall back on the cross-game pool.
	UseGlobalPrompts bool `yaml:"use_global_prompts"`
}

// Config is the full client configuration.
type Config struct {
	Endpoint    string      `yaml:"endpoint"`
	ProjectID   string      `yaml:"project_id"`
	DatabaseID  string      `yaml:"database_id"`
	Collections Collections `yaml:"collections"`

	Game GameSettings `yaml:"game"`

	DebugMode       bool `yaml:"debug_mode"`
	ShowDebugButton bool `yaml:"show_debug_button"`

	// Backend wiring.
	StoreBackend string `yaml:"store_backend"` // memory | postgres
	DatabaseURL  string `yaml:"database_url"`
	FeedBackend  string `yaml:"feed_backend"` // memory | redis | nats | realtime
	RedisAddr    string `yaml:"redis_addr"`
	RedisDB      int    `yaml:"redis_db"`
	NatsURL      string `yaml:"nats_url"`
	RealtimeURL  string `yaml:"realtime_url"`

	// TokenExpireTime is a duration string, "never"/"0"/"" disable expiry.
	TokenExpireTime string `yaml:"token_expire_time"`
}

// Default returns the stock settings of a fresh deployment.
func Default() *Config {
	return &Config{
		Endpoint:   "https://nyc.cloud.appwrite.io/v1",
		ProjectID:  "jest",
		DatabaseID: "jestblank_db",
		Collections: Collections{
			Games:   "games",
			Prompts: "prompts",
			Answers: "answers",
			Users:   "users",
		},
		Game: GameSettings{
			MinPlayers:         2,
			MaxPlayers:         8,
			PromptTimerSeconds: 30,
			VotingTimerSeconds: 20,
			RoundsPerGame:      5,
		},
		StoreBackend: "memory",
		FeedBackend:  "memory",
		RedisAddr:    "localhost:6379",
		NatsURL:      "nats://127.0.0.1:4222",
	}
}

// FromEnv overlays environment variables on top of the defaults.
func FromEnv() *Config {
	c := Default()
	c.Endpoint = getEnv("APPWRITE_ENDPOINT", c.Endpoint)
	c.ProjectID = getEnv("APPWRITE_PROJECT_ID", c.ProjectID)
	c.DatabaseID = getEnv("DATABASE_ID", c.DatabaseID)

	c.Collections.Games = getEnv("COLLECTION_GAMES", c.Collections.Games)
	c.Collections.Prompts = getEnv("COLLECTION_PROMPTS", c.Collections.Prompts)
	c.Collections.Answers = getEnv("COLLECTION_ANSWERS", c.Collections.Answers)
	c.Collections.Users = getEnv("COLLECTION_USERS", c.Collections.Users)

	c.Game.MinPlayers = getEnvInt("MIN_PLAYERS", c.Game.MinPlayers)
	c.Game.MaxPlayers = getEnvInt("MAX_PLAYERS", c.Game.MaxPlayers)
	c.Game.PromptTimerSeconds = getEnvInt("PROMPT_TIMER_SECONDS", c.Game.PromptTimerSeconds)
	c.Game.VotingTimerSeconds = getEnvInt("VOTING_TIMER_SECONDS", c.Game.VotingTimerSeconds)
	c.Game.RoundsPerGame = getEnvInt("ROUNDS_PER_GAME", c.Game.RoundsPerGame)
	c.Game.UseGlobalPrompts = getEnvBool("USE_GLOBAL_PROMPTS", c.Game.UseGlobalPrompts)

	c.DebugMode = getEnvBool("DEBUG_MODE", c.DebugMode)
	c.ShowDebugButton = getEnvBool("SHOW_DEBUG_BUTTON", c.ShowDebugButton)

	c.StoreBackend = getEnv("STORE_BACKEND", c.StoreBackend)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.FeedBackend = getEnv("FEED_BACKEND", c.FeedBackend)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisDB = getEnvInt("REDIS_DB", c.RedisDB)
	c.NatsURL = getEnv("NATS_URL", c.NatsURL)
	c.RealtimeURL = getEnv("REALTIME_URL", c.RealtimeURL)
	c.TokenExpireTime = getEnv("TOKEN_EXPIRE_TIME", c.TokenExpireTime)
	return c
}

// Load reads the environment and, if path is non-empty, a YAML file whose
// values take precedence.
func Load(path string) (*Config, error) {
	c := FromEnv()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks the settings for internal consistency.
func (c *Config) Validate() error {
	g := c.Game
	if g.MinPlayers < 1 {
		return fmt.Errorf("min players must be at least 1, got %d", g.MinPlayers)
	}
	if g.MaxPlayers < g.MinPlayers {
		return fmt.Errorf("max players (%d) is below min players (%d)", g.MaxPlayers, g.MinPlayers)
	}
	if g.PromptTimerSeconds <= 0 || g.VotingTimerSeconds <= 0 {
		return errors.New("timers must be positive")
	}
	if g.RoundsPerGame <= 0 {
		return fmt.Errorf("rounds per game must be positive, got %d", g.RoundsPerGame)
	}
	if c.Collections.Games == "" || c.Collections.Prompts == "" || c.Collections.Answers == "" {
		return errors.New("collection names must not be empty")
	}
	switch c.StoreBackend {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("postgres store requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("unknown store backend %q", c.StoreBackend)
	}
	switch c.FeedBackend {
	case "memory", "redis", "nats":
	case "realtime":
		if c.RealtimeURL == "" {
			return errors.New("realtime feed requires REALTIME_URL")
		}
	default:
		return fmt.Errorf("unknown feed backend %q", c.FeedBackend)
	}
	return nil
}

// Debug reports whether any debug surface is enabled.
func (c *Config) Debug() bool {
	return c.DebugMode || c.ShowDebugButton
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}

func getEnvBool(key string, def bool) bool {
	s := strings.TrimSpace(os.Getenv(key))
	if s == "" {
		return def
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return def
	}
	return v
}
