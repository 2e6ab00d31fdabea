package step

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/renamekit/renamekit/pkg/renamekit/core"
)

// Literal emits a fixed piece of text.
type Literal struct {
	Text string
}

func (s *Literal) Name() string { return "literal" }

func (s *Literal) Apply(_ *Context, _ Input) (string, error) {
	return s.Text, nil
}

// OriginalName emits the file's original stem unchanged.
type OriginalName struct{}

func (s *OriginalName) Name() string { return "name" }

func (s *OriginalName) Apply(_ *Context, in Input) (string, error) {
	return in.Stem, nil
}

// Counter emits a sequential number. State lives in the context, scoped by
// (scope, group), so two Counter steps in one pipeline advance
// independently and per-group counters restart at group boundaries.
type Counter struct {
	ID        string // distinguishes multiple counters in one pipeline
	Start     int
	Increment int
	Pad       int // minimum digits, zero-padded
}

func (s *Counter) Name() string { return "counter" }

func (s *Counter) Apply(ctx *Context, in Input) (string, error) {
	increment := s.Increment
	if increment == 0 {
		increment = 1
	}
	value := ctx.Next("counter\x00"+s.ID, in, s.Start, increment)
	if s.Pad > 0 {
		return fmt.Sprintf("%0*d", s.Pad, value), nil
	}
	return fmt.Sprintf("%d", value), nil
}

// Replace emits the stem with occurrences of a pattern replaced. Find may
// be literal text or, with Regex set, a regular expression.
type Replace struct {
	Find    string
	Replace string
	Regex   bool

	re *regexp.Regexp
}

func (s *Replace) Name() string { return "replace" }

// Precompile compiles the regular expression up front so Apply stays pure
// and an invalid pattern surfaces at pipeline build time.
func (s *Replace) Precompile() error {
	if !s.Regex || s.re != nil {
		return nil
	}
	re, err := regexp.Compile(s.Find)
	if err != nil {
		return fmt.Errorf("bad pattern %q: %w", s.Find, err)
	}
	s.re = re
	return nil
}

func (s *Replace) Apply(_ *Context, in Input) (string, error) {
	if !s.Regex {
		return strings.ReplaceAll(in.Stem, s.Find, s.Replace), nil
	}
	if s.re == nil {
		re, err := regexp.Compile(s.Find)
		if err != nil {
			return "", &core.StepError{
				Step:   s.Name(),
				Path:   in.Record.Path,
				Reason: fmt.Sprintf("bad pattern %q", s.Find),
				Cause:  err,
			}
		}
		s.re = re
	}
	return s.re.ReplaceAllString(in.Stem, s.Replace), nil
}

// Remove emits the stem with a number of characters cut from either end.
type Remove struct {
	FromStart int
	FromEnd   int
}

func (s *Remove) Name() string { return "remove" }

func (s *Remove) Apply(_ *Context, in Input) (string, error) {
	runes := []rune(in.Stem)
	start := s.FromStart
	if start < 0 {
		start = 0
	}
	if start > len(runes) {
		start = len(runes)
	}
	end := len(runes) - s.FromEnd
	if end < start {
		end = start
	}
	return string(runes[start:end]), nil
}

// ChangeCase emits the stem with its character case changed.
type ChangeCase struct {
	Mode string // "lower", "upper" or "title"
}

func (s *ChangeCase) Name() string { return "case" }

func (s *ChangeCase) Apply(_ *Context, in Input) (string, error) {
	switch s.Mode {
	case "lower":
		return strings.ToLower(in.Stem), nil
	case "upper":
		return strings.ToUpper(in.Stem), nil
	case "title":
		return titleCase(in.Stem), nil
	}
	return "", &core.StepError{
		Step:   s.Name(),
		Path:   in.Record.Path,
		Reason: fmt.Sprintf("unknown case mode %q", s.Mode),
	}
}

func titleCase(s string) string {
	var b strings.Builder
	startOfWord := true
	for _, r := range s {
		switch {
		case r == ' ' || r == '_' || r == '-' || r == '.':
			startOfWord = true
			b.WriteRune(r)
		case startOfWord:
			b.WriteString(strings.ToUpper(string(r)))
			startOfWord = false
		default:
			b.WriteString(strings.ToLower(string(r)))
		}
	}
	return b.String()
}

// Metadata emits the value of a cached metadata field. A field absent from
// the cache raises a recoverable StepError, marking just that plan entry
// invalid; the rest of the batch is unaffected.
type Metadata struct {
	Field  string
	Lookup MetadataLookup
}

func (s *Metadata) Name() string { return "metadata" }

func (s *Metadata) Apply(_ *Context, in Input) (string, error) {
	if s.Lookup == nil {
		return "", &core.StepError{
			Step:   s.Name(),
			Path:   in.Record.Path,
			Reason: "no metadata source configured",
		}
	}
	value, ok := s.Lookup.Lookup(in.Record, s.Field)
	if !ok {
		return "", &core.StepError{
			Step:   s.Name(),
			Path:   in.Record.Path,
			Reason: fmt.Sprintf("metadata field %q not available", s.Field),
		}
	}
	return value, nil
}
