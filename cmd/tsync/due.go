package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

var dueParser = newDueParser()

func newDueParser() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}

// parseDue reads a due date as an ISO date, an RFC 3339 timestamp or a
// phrase such as "next friday" or "tomorrow 5pm", relative to now.
func parseDue(s string, now time.Time) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("due date is empty")
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.ParseInLocation("2006-01-02", s, now.Location()); err == nil {
		return t.UTC(), nil
	}

	r, err := dueParser.Parse(s, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse due date %q: %w", s, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand due date %q", s)
	}
	return r.Time.UTC(), nil
}
