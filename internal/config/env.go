package config

import (
	"strconv"
	"strings"
)

type envSetter func(c *Config, v string) error

func intVar(field string, dst func(c *Config) *int) envSetter {
	return func(c *Config, v string) error {
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return &Error{field, "not an integer: " + v}
		}
		*dst(c) = n
		return nil
	}
}

func strVar(dst func(c *Config) *string) envSetter {
	return func(c *Config, v string) error {
		*dst(c) = v
		return nil
	}
}

// envVars maps every recognized environment key to its config field.
var envVars = map[string]envSetter{
	"GAP_MINUTES":                intVar("GAP_MINUTES", func(c *Config) *int { return &c.Session.GapMinutes }),
	"TRAILING_PAD_MINUTES":       intVar("TRAILING_PAD_MINUTES", func(c *Config) *int { return &c.Session.TrailingPadMinutes }),
	"MIN_DURATION_MINUTES":       intVar("MIN_DURATION_MINUTES", func(c *Config) *int { return &c.Session.MinDurationMinutes }),
	"MIN_MESSAGES":               intVar("MIN_MESSAGES", func(c *Config) *int { return &c.Session.MinMessages }),
	"MIN_MESSAGES_HIGH_PRIORITY": intVar("MIN_MESSAGES_HIGH_PRIORITY", func(c *Config) *int { return &c.Session.MinMessagesHighPriority }),
	"HIGH_PRIORITY_THRESHOLD":    intVar("HIGH_PRIORITY_THRESHOLD", func(c *Config) *int { return &c.Session.HighPriorityThreshold }),
	"MAX_MESSAGES_PER_SYNC":      intVar("MAX_MESSAGES_PER_SYNC", func(c *Config) *int { return &c.Chat.MaxMessagesPerSync }),
	"MAX_FLEET_PARALLELISM":      intVar("MAX_FLEET_PARALLELISM", func(c *Config) *int { return &c.Sync.MaxFleetParallelism }),
	"TARGET_CALENDAR_ID":         strVar(func(c *Config) *string { return &c.Calendar.TargetCalendarID }),
	"CALENDAR_CREDENTIALS_FILE":  strVar(func(c *Config) *string { return &c.Calendar.CredentialsFile }),
	"CALENDAR_TOKEN_FILE":        strVar(func(c *Config) *string { return &c.Calendar.TokenFile }),
	"WEEKLY_RUN_CRON":            strVar(func(c *Config) *string { return &c.Scheduler.WeeklyRunCron }),
	"CHAT_API_URL":               strVar(func(c *Config) *string { return &c.Chat.APIURL }),
	"CHAT_INSTANCE_ID":           strVar(func(c *Config) *string { return &c.Chat.InstanceID }),
	"CHAT_TOKEN":                 strVar(func(c *Config) *string { return &c.Chat.Token }),
	"HTTP_ADDR":                  strVar(func(c *Config) *string { return &c.Control.HTTPAddr }),
}

// ApplyEnv overrides cfg with any recognized variable lookup returns.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	for key, set := range envVars {
		v, ok := lookup(key)
		if !ok {
			continue
		}
		if err := set(cfg, v); err != nil {
			return err
		}
	}
	return nil
}
