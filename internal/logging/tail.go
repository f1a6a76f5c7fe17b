package logging

import (
	"bufio"
	"encoding/json"
	"errors"
	"io/fs"
	"os"
	"time"
)

// Entry is one parsed line of the JSON log file.
type Entry struct {
	Time    time.Time      `json:"ts"`
	Level   string         `json:"level"`
	Message string         `json:"msg"`
	Fields  map[string]any `json:"fields,omitempty"`
}

// Tail returns the entries of the JSON log at path written at or after
// now-since, oldest first. since <= 0 returns everything. Lines that are not
// JSON objects with a parsable ts are skipped. A missing file yields no entries.
func Tail(path string, since time.Duration, now time.Time) ([]Entry, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	var cutoff time.Time
	if since > 0 {
		cutoff = now.Add(-since)
	}

	var out []Entry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		var raw map[string]any
		if err := json.Unmarshal(sc.Bytes(), &raw); err != nil {
			continue
		}
		tsStr, _ := raw["ts"].(string)
		ts, err := time.Parse(TimeLayout, tsStr)
		if err != nil {
			continue
		}
		if !cutoff.IsZero() && ts.Before(cutoff) {
			continue
		}
		e := Entry{Time: ts}
		e.Level, _ = raw["level"].(string)
		e.Message, _ = raw["msg"].(string)
		delete(raw, "ts")
		delete(raw, "level")
		delete(raw, "msg")
		if len(raw) > 0 {
			e.Fields = raw
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
