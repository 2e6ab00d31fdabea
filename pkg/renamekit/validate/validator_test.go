package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/renamekit/renamekit/pkg/renamekit/core"
)

func entry(source, target string, status core.EntryStatus) core.PlanEntry {
	return core.PlanEntry{
		Source: core.FileRecord{
			Path:    source,
			Size:    1,
			ModTime: time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC),
		},
		Target: target,
		Status: status,
	}
}

func TestValidate(t *testing.T) {
	v := NewValidator(DefaultRules(), zerolog.Nop())

	cases := []struct {
		name   string
		target string
		want   core.EntryStatus
		reason string
	}{
		{"plain name passes", "report.txt", core.StatusValid, ""},
		{"unchanged name passes", "a.txt", core.StatusValid, ""},
		{"empty name", "", core.StatusInvalid, "empty"},
		{"path separator", "a/b.txt", core.StatusInvalid, "forbidden character"},
		{"windows forbidden char", "a?.txt", core.StatusInvalid, "forbidden character"},
		{"control character", "a\x07.txt", core.StatusInvalid, "control character"},
		{"reserved device name", "con.txt", core.StatusInvalid, "reserved device name"},
		{"reserved name is stem only", "config.txt", core.StatusValid, ""},
		{"trailing dot", "a.", core.StatusInvalid, "dot or whitespace"},
		{"trailing space", "a ", core.StatusInvalid, "dot or whitespace"},
		{"name too long", strings.Repeat("x", 256) + ".txt", core.StatusInvalid, "exceeds"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := &core.Plan{Entries: []core.PlanEntry{entry("/d/a.txt", tc.target, core.StatusPending)}}
			v.Validate(p)
			e := p.Entries[0]
			if e.Status != tc.want {
				t.Fatalf("status = %s, want %s (reason %q)", e.Status, tc.want, e.Reason)
			}
			if tc.reason != "" && !strings.Contains(e.Reason, tc.reason) {
				t.Errorf("reason %q does not mention %q", e.Reason, tc.reason)
			}
		})
	}

	t.Run("path length counts the directory", func(t *testing.T) {
		rules := DefaultRules()
		rules.MaxPathLength = 20
		v := NewValidator(rules, zerolog.Nop())
		p := &core.Plan{Entries: []core.PlanEntry{
			entry("/some/deep/dir/a.txt", "renamed-file.txt", core.StatusPending),
		}}
		v.Validate(p)
		if p.Entries[0].Status != core.StatusInvalid {
			t.Fatalf("status = %s", p.Entries[0].Status)
		}
		if !strings.Contains(p.Entries[0].Reason, "path exceeds") {
			t.Errorf("reason: %q", p.Entries[0].Reason)
		}
	})

	t.Run("invalid and conflicted entries are left alone", func(t *testing.T) {
		p := &core.Plan{Entries: []core.PlanEntry{
			entry("/d/a.txt", "x?.txt", core.StatusInvalid),
			entry("/d/b.txt", "same.txt", core.StatusConflicted),
		}}
		v.Validate(p)
		if p.Entries[0].Status != core.StatusInvalid || p.Entries[1].Status != core.StatusConflicted {
			t.Errorf("statuses changed: %s, %s", p.Entries[0].Status, p.Entries[1].Status)
		}
	})

	t.Run("resolved entry failing a rule becomes invalid", func(t *testing.T) {
		p := &core.Plan{Entries: []core.PlanEntry{
			entry("/d/a.txt", "out (2).", core.StatusResolved),
		}}
		v.Validate(p)
		if p.Entries[0].Status != core.StatusInvalid {
			t.Errorf("status = %s", p.Entries[0].Status)
		}
	})

	t.Run("resolved entry passing keeps its status", func(t *testing.T) {
		p := &core.Plan{Entries: []core.PlanEntry{
			entry("/d/a.txt", "out (2).txt", core.StatusResolved),
		}}
		v.Validate(p)
		if p.Entries[0].Status != core.StatusResolved {
			t.Errorf("status = %s", p.Entries[0].Status)
		}
	})

	t.Run("relaxed rules admit trailing dots", func(t *testing.T) {
		rules := DefaultRules()
		rules.AllowTrailingDotSpace = true
		v := NewValidator(rules, zerolog.Nop())
		p := &core.Plan{Entries: []core.PlanEntry{entry("/d/a.txt", "a.", core.StatusPending)}}
		v.Validate(p)
		if p.Entries[0].Status != core.StatusValid {
			t.Errorf("status = %s (%s)", p.Entries[0].Status, p.Entries[0].Reason)
		}
	})
}
