package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/robfig/cron/v3"
)

// Global is ~/.wppcal/config.toml.
type Global struct {
	DefaultProfile string `toml:"default_profile"`
}

// Config is the per-profile config.toml.
type Config struct {
	Chat      ChatConfig      `toml:"chat"`
	Calendar  CalendarConfig  `toml:"calendar"`
	Session   SessionConfig   `toml:"session"`
	Projector ProjectorConfig `toml:"projector"`
	Sync      SyncConfig      `toml:"sync"`
	Scheduler SchedulerConfig `toml:"scheduler"`
	Control   ControlConfig   `toml:"control"`
}

type ChatConfig struct {
	APIURL             string `toml:"api_url"`
	InstanceID         string `toml:"instance_id"`
	Token              string `toml:"token"`
	PageSize           int    `toml:"page_size"`
	MaxMessagesPerSync int    `toml:"max_messages_per_sync"`
}

type CalendarConfig struct {
	TargetCalendarID string `toml:"target_calendar_id"`
	CredentialsFile  string `toml:"credentials_file"`
	TokenFile        string `toml:"token_file"`
}

type SessionConfig struct {
	GapMinutes              int `toml:"gap_minutes"`
	TrailingPadMinutes      int `toml:"trailing_pad_minutes"`
	MinDurationMinutes      int `toml:"min_duration_minutes"`
	MinMessages             int `toml:"min_messages"`
	MinMessagesHighPriority int `toml:"min_messages_high_priority"`
	HighPriorityThreshold   int `toml:"high_priority_threshold"`
}

type ProjectorConfig struct {
	RejectTitlePatterns []string `toml:"reject_title_patterns"`
	PreviewChars        int      `toml:"preview_chars"`
}

type SyncConfig struct {
	MaxFleetParallelism int `toml:"max_fleet_parallelism"`
	ChunkDays           int `toml:"chunk_days"`
}

type SchedulerConfig struct {
	Enabled       bool   `toml:"enabled"`
	WeeklyRunCron string `toml:"weekly_run_cron"`
}

type ControlConfig struct {
	HTTPAddr      string `toml:"http_addr"`
	TokenTTLHours int    `toml:"token_ttl_hours"`
}

// DefaultRejectTitlePatterns match the gateway's placeholder for a chat it
// cannot name, in the UI languages seen so far.
var DefaultRejectTitlePatterns = []string{
	"unknown contact",
	"איש קשר לא ידוע",
	"contacto desconocido",
	"contato desconhecido",
}

// Default returns a config with every optional key filled in. The calendar
// id and gateway credentials have no defaults.
func Default() *Config {
	return &Config{
		Chat: ChatConfig{
			APIURL:             "https://api.green-api.com",
			PageSize:           100,
			MaxMessagesPerSync: 5000,
		},
		Session: SessionConfig{
			GapMinutes:              30,
			TrailingPadMinutes:      5,
			MinDurationMinutes:      15,
			MinMessages:             2,
			MinMessagesHighPriority: 1,
			HighPriorityThreshold:   7,
		},
		Projector: ProjectorConfig{
			RejectTitlePatterns: append([]string(nil), DefaultRejectTitlePatterns...),
			PreviewChars:        200,
		},
		Sync: SyncConfig{
			MaxFleetParallelism: 1,
			ChunkDays:           7,
		},
		Scheduler: SchedulerConfig{
			Enabled:       true,
			WeeklyRunCron: "0 21 * * 6",
		},
		Control: ControlConfig{
			TokenTTLHours: 24 * 30,
		},
	}
}

// Load reads the profile config at path over the defaults, then applies
// environment overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, &Error{Field: path, Reason: err.Error()}
	}
	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	return writeTOML(path, cfg)
}

// LoadGlobal reads the global config. Returns an error if the file is missing.
func LoadGlobal(path string) (*Global, error) {
	var g Global
	if _, err := toml.DecodeFile(path, &g); err != nil {
		return nil, err
	}
	return &g, nil
}

// SaveGlobal writes the global config.
func SaveGlobal(path string, g *Global) error {
	return writeTOML(path, g)
}

func writeTOML(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(v)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Error is a configuration problem. Fatal at startup.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Validate checks required keys and ranges, returning the first problem.
func (c *Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Calendar.TargetCalendarID) == "":
		return &Error{"TARGET_CALENDAR_ID", "required"}
	case c.Chat.InstanceID == "":
		return &Error{"CHAT_INSTANCE_ID", "required"}
	case c.Chat.Token == "":
		return &Error{"CHAT_TOKEN", "required"}
	case c.Chat.APIURL == "":
		return &Error{"CHAT_API_URL", "required"}
	}
	if err := c.ValidateTunables(); err != nil {
		return err
	}
	if c.Scheduler.Enabled {
		if _, err := ParseCron(c.Scheduler.WeeklyRunCron); err != nil {
			return &Error{"WEEKLY_RUN_CRON", err.Error()}
		}
	}
	return nil
}

// ValidateTunables checks the keys that may change while the daemon runs.
func (c *Config) ValidateTunables() error {
	s := c.Session
	checks := []struct {
		field string
		ok    bool
		why   string
	}{
		{"GAP_MINUTES", s.GapMinutes > 0, "must be > 0"},
		{"TRAILING_PAD_MINUTES", s.TrailingPadMinutes >= 0, "must be >= 0"},
		{"MIN_DURATION_MINUTES", s.MinDurationMinutes > 0, "must be > 0"},
		{"MIN_MESSAGES", s.MinMessages >= 1, "must be >= 1"},
		{"MIN_MESSAGES_HIGH_PRIORITY", s.MinMessagesHighPriority >= 1, "must be >= 1"},
		{"HIGH_PRIORITY_THRESHOLD", s.HighPriorityThreshold >= 1 && s.HighPriorityThreshold <= 10, "must be in 1..10"},
		{"MAX_MESSAGES_PER_SYNC", c.Chat.MaxMessagesPerSync > 0, "must be > 0"},
		{"PAGE_SIZE", c.Chat.PageSize > 0, "must be > 0"},
		{"MAX_FLEET_PARALLELISM", c.Sync.MaxFleetParallelism >= 1 && c.Sync.MaxFleetParallelism <= 4, "must be in 1..4"},
		{"CHUNK_DAYS", c.Sync.ChunkDays >= 1 && c.Sync.ChunkDays <= 7, "must be in 1..7"},
		{"PREVIEW_CHARS", c.Projector.PreviewChars > 0, "must be > 0"},
	}
	for _, ch := range checks {
		if !ch.ok {
			return &Error{ch.field, ch.why}
		}
	}
	return nil
}

// ParseCron parses a standard five-field cron expression.
func ParseCron(expr string) (cron.Schedule, error) {
	return cron.ParseStandard(expr)
}

// Gap is the inactivity that closes a session.
func (s SessionConfig) Gap() time.Duration { return time.Duration(s.GapMinutes) * time.Minute }

func (s SessionConfig) TrailingPad() time.Duration {
	return time.Duration(s.TrailingPadMinutes) * time.Minute
}

func (s SessionConfig) MinDuration() time.Duration {
	return time.Duration(s.MinDurationMinutes) * time.Minute
}

// TokenTTL is how long an operator token issued at startup stays valid.
func (c ControlConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}
