package tui

import (
	"fmt"
	"strings"
	"time"
)

// Command is a parsed ':' prompt line.
type Command struct {
	Name string
	Args []string
}

// ParseCommand splits a prompt line (without the leading ':') into a
// lowercase name and its whitespace-separated arguments.
func ParseCommand(input string) Command {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return Command{}
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}
}

// windowArgs reads "<from> [to]" local dates. A missing to means the same
// day; no arguments means the last seven days ending today.
func windowArgs(args []string, now time.Time) (from, to string, err error) {
	switch len(args) {
	case 0:
		return now.AddDate(0, 0, -6).Format(time.DateOnly), now.Format(time.DateOnly), nil
	case 1:
		return args[0], args[0], nil
	case 2:
		return args[0], args[1], nil
	default:
		return "", "", fmt.Errorf("want [from] [to] as YYYY-MM-DD")
	}
}

const commandHelp = "commands: sync [from] [to] | sync-chat [from] [to] | tag <company> [category] | filter [text] | q"
