package scheduler

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	wsync "github.com/matheus3301/wppcal/internal/sync"
)

// Priority buckets used in the weekly summary.
const (
	BucketHigh   = "high"
	BucketMedium = "medium"
	BucketLow    = "low"
)

// PriorityBucket maps a 1..10 priority onto high (7-10), medium (4-6) or low (1-3).
func PriorityBucket(p int) string {
	switch {
	case p >= 7:
		return BucketHigh
	case p >= 4:
		return BucketMedium
	default:
		return BucketLow
	}
}

// Counts aggregates chat results.
type Counts struct {
	Chats    int `yaml:"chats"`
	Synced   int `yaml:"synced"`
	Failed   int `yaml:"failed"`
	Messages int `yaml:"messages_fetched"`
	Events   int `yaml:"events_created"`
}

func (c *Counts) add(r wsync.SyncReport) {
	c.Chats++
	switch r.Outcome {
	case wsync.Synced:
		c.Synced++
	case wsync.Failed:
		c.Failed++
	}
	c.Messages += r.MessagesFetched
	c.Events += r.EventsCreated
}

// Failure is one chat that did not sync.
type Failure struct {
	ChatID string `yaml:"chat_id"`
	Name   string `yaml:"name,omitempty"`
	Kind   string `yaml:"kind,omitempty"`
	Error  string `yaml:"error,omitempty"`
}

// WeeklySummary is the document written after every scheduled run.
type WeeklySummary struct {
	RunID       string            `yaml:"run_id"`
	GeneratedAt time.Time         `yaml:"generated_at"`
	WindowStart time.Time         `yaml:"window_start"`
	WindowEnd   time.Time         `yaml:"window_end"`
	Totals      Counts            `yaml:"totals"`
	ByPriority  map[string]Counts `yaml:"by_priority"`
	ByCategory  map[string]Counts `yaml:"by_category"`
	Failures    []Failure         `yaml:"failures,omitempty"`
	Cancelled   bool              `yaml:"cancelled,omitempty"`
	Aborted     bool              `yaml:"aborted,omitempty"`
	AbortKind   string            `yaml:"abort_kind,omitempty"`
}

// Summarize builds the weekly summary of a fleet report.
func Summarize(r *wsync.FleetReport, now time.Time) WeeklySummary {
	s := WeeklySummary{
		RunID:       r.RunID,
		GeneratedAt: now,
		WindowStart: r.WindowStart,
		WindowEnd:   r.WindowEnd,
		ByPriority: map[string]Counts{
			BucketHigh:   {},
			BucketMedium: {},
			BucketLow:    {},
		},
		ByCategory: make(map[string]Counts),
		Cancelled:  r.Cancelled,
		Aborted:    r.Aborted,
		AbortKind:  string(r.AbortKind),
	}
	for _, chat := range r.Chats {
		s.Totals.add(chat)

		bucket := PriorityBucket(chat.Priority)
		pc := s.ByPriority[bucket]
		pc.add(chat)
		s.ByPriority[bucket] = pc

		category := chat.Category
		if category == "" {
			category = "uncategorized"
		}
		cc := s.ByCategory[category]
		cc.add(chat)
		s.ByCategory[category] = cc

		if chat.Outcome == wsync.Failed {
			s.Failures = append(s.Failures, Failure{
				ChatID: chat.ChatID,
				Name:   chat.Name,
				Kind:   string(chat.ErrorKind),
				Error:  chat.Error,
			})
		}
	}
	sort.Slice(s.Failures, func(i, j int) bool { return s.Failures[i].ChatID < s.Failures[j].ChatID })
	return s
}

// ReportPath is where the summary generated at t is written.
func ReportPath(dir string, t time.Time) string {
	return filepath.Join(dir, fmt.Sprintf("weekly-%s.yaml", t.Local().Format(time.DateOnly)))
}

// WriteSummary writes s as YAML under dir and returns the file path. A second
// run on the same day replaces the earlier file.
func WriteSummary(dir string, s WeeklySummary) (string, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", fmt.Errorf("create report dir: %w", err)
	}
	data, err := yaml.Marshal(&s)
	if err != nil {
		return "", fmt.Errorf("marshal summary: %w", err)
	}
	path := ReportPath(dir, s.GeneratedAt)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", fmt.Errorf("write summary: %w", err)
	}
	return path, nil
}

// ReadSummary loads a summary written by WriteSummary.
func ReadSummary(path string) (*WeeklySummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var s WeeklySummary
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse summary %s: %w", path, err)
	}
	return &s, nil
}
