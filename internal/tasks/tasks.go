// Package tasks reads the per-session task lists written next to the
// session logs. They are informational only and never affect
// classification.
package tasks

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/tidwall/jsonc"
)

type Item struct {
	Content string `json:"content"`
	Status  string `json:"status"`
	ID      string `json:"id,omitempty"`
}

type Summary struct {
	Total      int    `json:"total" yaml:"total"`
	Completed  int    `json:"completed" yaml:"completed"`
	InProgress int    `json:"inProgress" yaml:"inProgress"`
	Pending    int    `json:"pending" yaml:"pending"`
	File       string `json:"file" yaml:"file"`
}

// Parse decodes a task list, tolerating comments and trailing commas.
func Parse(data []byte) ([]Item, error) {
	var items []Item
	if err := json.Unmarshal(jsonc.ToJSON(data), &items); err != nil {
		return nil, fmt.Errorf("parsing task list: %w", err)
	}
	return items, nil
}

func Summarize(items []Item) Summary {
	s := Summary{Total: len(items)}
	for _, it := range items {
		switch it.Status {
		case "completed":
			s.Completed++
		case "in_progress":
			s.InProgress++
		default:
			s.Pending++
		}
	}
	return s
}

// candidates lists the file names tried for a session, in order.
func candidates(sessionID string) []string {
	return []string{
		sessionID + "-agent-" + sessionID + ".json",
		sessionID + ".json",
	}
}

// Lookup finds and summarizes the task list of sessionID in the first
// directory holding one. It returns (nil, nil) when there is none.
func Lookup(dirs []string, sessionID string) (*Summary, error) {
	if sessionID == "" {
		return nil, nil
	}
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		for _, name := range candidates(sessionID) {
			path := filepath.Join(dir, name)
			data, err := os.ReadFile(path)
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", path, err)
			}
			items, err := Parse(data)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", path, err)
			}
			sum := Summarize(items)
			sum.File = name
			return &sum, nil
		}
	}
	return nil, nil
}
