package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"
)

// Formatter outputs data in various formats.
type Formatter struct {
	w      io.Writer
	asJSON bool
}

// NewFormatter creates a new formatter.
func NewFormatter(w io.Writer, asJSON bool) *Formatter {
	return &Formatter{w: w, asJSON: asJSON}
}

// FormatStatus outputs the daemon status.
func (f *Formatter) FormatStatus(s *Status) error {
	if f.asJSON {
		return json.NewEncoder(f.w).Encode(s)
	}
	fmt.Fprintf(f.w, "Version:   %s\n", s.Version)
	fmt.Fprintf(f.w, "Platform:  %s\n", s.Platform)
	fmt.Fprintf(f.w, "Prompts:   %d pending\n", s.PendingPrompts)
	fmt.Fprintf(f.w, "Requests:  %d in flight\n", s.InFlight)
	return nil
}

// FormatPrompts outputs in-flight prompts as a table.
func (f *Formatter) FormatPrompts(prompts []Prompt) error {
	if f.asJSON {
		return json.NewEncoder(f.w).Encode(prompts)
	}

	if len(prompts) == 0 {
		fmt.Fprintln(f.w, "No pending prompts")
		return nil
	}

	// Print header
	fmt.Fprintf(f.w, "%-12s  %-8s  %-30s  %7s  %s\n", "TOKEN", "REQUEST", "NAME", "WAITERS", "AGE")
	fmt.Fprintf(f.w, "%-12s  %-8s  %-30s  %7s  %s\n", "------------", "--------", "------------------------------", "-------", "---")

	for _, p := range prompts {
		fmt.Fprintf(f.w, "%-12s  %-8s  %-30s  %7d  %s\n",
			truncate(p.Token, 12), truncate(p.RequestID, 8), truncate(p.Name, 30), p.Waiters, formatAge(p.StartedAt))
	}
	return nil
}

// FormatHistory outputs history entries as a table.
func (f *Formatter) FormatHistory(entries []HistoryEntry) error {
	if f.asJSON {
		return json.NewEncoder(f.w).Encode(entries)
	}

	if len(entries) == 0 {
		fmt.Fprintln(f.w, "No history entries")
		return nil
	}

	// Print header
	fmt.Fprintf(f.w, "%-12s  %-30s  %7s  %-10s  %s\n", "TOKEN", "NAME", "WAITERS", "RESULT", "RESOLVED")
	fmt.Fprintf(f.w, "%-12s  %-30s  %7s  %-10s  %s\n", "------------", "------------------------------", "-------", "----------", "--------")

	for _, entry := range entries {
		fmt.Fprintf(f.w, "%-12s  %-30s  %7d  %-10s  %s\n",
			truncate(entry.Prompt.Token, 12), truncate(entry.Prompt.Name, 30), entry.Prompt.Waiters,
			truncate(entry.Resolution, 10), formatAgo(entry.ResolvedAt))
	}
	return nil
}

// FormatEvent outputs one watch event as a line.
func (f *Formatter) FormatEvent(ev Event) error {
	if f.asJSON {
		return json.NewEncoder(f.w).Encode(ev)
	}

	var p Prompt
	if ev.Prompt != nil {
		p = *ev.Prompt
	}
	now := time.Now().Format(time.TimeOnly)
	switch ev.Type {
	case "snapshot":
		fmt.Fprintf(f.w, "%s  watching, %d pending\n", now, len(ev.Prompts))
	case "prompt_started":
		fmt.Fprintf(f.w, "%s  started   %s %q\n", now, truncate(p.Token, 12), p.Name)
	case "prompt_joined":
		fmt.Fprintf(f.w, "%s  joined    %s %q (%d waiting)\n", now, truncate(p.Token, 12), p.Name, p.Waiters)
	case "prompt_resolved":
		line := fmt.Sprintf("%s  %-9s %s %q", now, ev.Result, truncate(p.Token, 12), p.Name)
		if ev.Error != "" {
			line += ": " + ev.Error
		}
		fmt.Fprintln(f.w, line)
	default:
		fmt.Fprintf(f.w, "%s  %s\n", now, ev.Type)
	}
	return nil
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-1] + "…"
}

func formatAge(t time.Time) string {
	age := time.Since(t).Round(time.Second)
	if age < 0 {
		return "0s"
	}
	return age.String()
}

func formatAgo(t time.Time) string {
	ago := time.Since(t).Round(time.Second)
	if ago < 0 {
		return "just now"
	}
	return ago.String() + " ago"
}
