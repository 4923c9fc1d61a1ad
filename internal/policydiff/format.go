package policydiff

import (
	"encoding/json"
	"fmt"
	"strings"
)

// FormatText renders the diff result as human-readable text.
func FormatText(r *DiffResult) string {
	if !r.HasChanges {
		return fmt.Sprintf("Config diff: %s → %s\n\nNo changes detected.\n", r.OldPath, r.NewPath)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Config diff: %s → %s\n", r.OldPath, r.NewPath)

	topLevel := filterTopLevel(r.Changes)
	trust := filterChanges(r.Changes, "trust.")
	weights := filterChanges(r.Changes, "weights.")
	canary := filterChanges(r.Changes, "canary.")
	breaker := filterChanges(r.Changes, "breaker.")
	mapChanges := filterChanges(r.Changes, "agents", "presets")

	if len(topLevel) > 0 {
		b.WriteString("\n")
		writeScalars(&b, topLevel, "  ", "")
	}
	writeSection(&b, "Trust", trust, "trust.")
	writeSection(&b, "Weights", weights, "weights.")
	writeSection(&b, "Canary", canary, "canary.")
	writeSection(&b, "Breaker", breaker, "breaker.")

	writeEntries(&b, "Rules", r.RuleChanges)
	writeEntries(&b, "Exceptions", r.ExceptionChanges)

	if len(mapChanges) > 0 {
		b.WriteString("\n")
		for _, c := range mapChanges {
			switch c.Comment {
			case "added":
				fmt.Fprintf(&b, "  %s: + %s\n", c.Field, c.New)
			case "removed":
				fmt.Fprintf(&b, "  %s: - %s\n", c.Field, c.Old)
			}
		}
	}

	return b.String()
}

// FormatJSON renders the diff result as JSON.
func FormatJSON(r *DiffResult) (string, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal diff result: %w", err)
	}
	return string(data), nil
}

func writeSection(b *strings.Builder, title string, changes []Change, prefix string) {
	if len(changes) == 0 {
		return
	}
	fmt.Fprintf(b, "\n  %s:\n", title)
	writeScalars(b, changes, "    ", prefix)
}

func writeScalars(b *strings.Builder, changes []Change, indent, prefix string) {
	for _, c := range changes {
		name := strings.TrimPrefix(c.Field, prefix)
		fmt.Fprintf(b, "%s%-28s %s → %s", indent, name+":", c.Old, c.New)
		if c.Comment != "" {
			fmt.Fprintf(b, "  (%s)", c.Comment)
		}
		b.WriteString("\n")
	}
}

func writeEntries(b *strings.Builder, title string, entries []EntryChange) {
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(b, "\n  %s:\n", title)
	for _, ec := range entries {
		switch ec.Type {
		case "added":
			fmt.Fprintf(b, "    + %s\n", ec.Entry)
		case "removed":
			fmt.Fprintf(b, "    - %s\n", ec.Entry)
		case "changed":
			fmt.Fprintf(b, "    ~ %s\n", ec.Entry)
		}
	}
}

func filterChanges(changes []Change, prefixes ...string) []Change {
	var out []Change
	for _, c := range changes {
		for _, p := range prefixes {
			if strings.HasPrefix(c.Field, p) || c.Field == p {
				out = append(out, c)
				break
			}
		}
	}
	return out
}

func filterTopLevel(changes []Change) []Change {
	var out []Change
	for _, c := range changes {
		if !strings.Contains(c.Field, ".") && c.Field != "agents" && c.Field != "presets" {
			out = append(out, c)
		}
	}
	return out
}
