// Package validate applies filesystem naming rules to a rename plan.
// Every constraint is policy-supplied rather than hard-coded per OS: the
// forbidden character set, reserved device names, whether trailing dots and
// whitespace are tolerated, and the length limits all arrive in Rules.
package validate

import (
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/renamekit/renamekit/pkg/renamekit/core"
	"github.com/renamekit/renamekit/pkg/renamekit/step"
)

// Rules is the naming policy for the target filesystem.
type Rules struct {
	// ForbiddenRunes are characters that may not appear in a name.
	ForbiddenRunes string
	// ReservedNames are stems refused regardless of extension, compared
	// case-insensitively (device names on Windows targets).
	ReservedNames []string
	// AllowTrailingDotSpace permits names ending in '.' or ' '.
	AllowTrailingDotSpace bool
	// MaxNameLength bounds one name component, in bytes.
	MaxNameLength int
	// MaxPathLength bounds the full target path, in bytes.
	MaxPathLength int
	// CaseSensitive describes the target filesystem. Must match the flag
	// given to the conflict resolver: both share the same case folding.
	CaseSensitive bool
}

// DefaultRules returns the most restrictive common policy, safe for any
// target: Windows device names reserved, Windows-forbidden characters
// refused, 255-byte names, 260-byte paths, trailing dot/space refused.
func DefaultRules() Rules {
	return Rules{
		ForbiddenRunes: `<>:"/\|?*`,
		ReservedNames: []string{
			"CON", "PRN", "AUX", "NUL",
			"COM1", "COM2", "COM3", "COM4", "COM5", "COM6", "COM7", "COM8", "COM9",
			"LPT1", "LPT2", "LPT3", "LPT4", "LPT5", "LPT6", "LPT7", "LPT8", "LPT9",
		},
		AllowTrailingDotSpace: false,
		MaxNameLength:         255,
		MaxPathLength:         260,
		CaseSensitive:         false,
	}
}

// Validator checks every non-INVALID plan entry against the rules.
type Validator struct {
	rules  Rules
	logger zerolog.Logger
}

// NewValidator creates a validator for the given rules.
func NewValidator(rules Rules, logger zerolog.Logger) *Validator {
	return &Validator{
		rules:  rules,
		logger: logger.With().Str("component", "validate").Logger(),
	}
}

// Validate marks each PENDING entry VALID or INVALID with a specific
// reason. RESOLVED and CONFLICTED entries keep their status but are checked
// too: a resolved entry failing a rule becomes INVALID. The plan is updated
// in place and returned.
func (v *Validator) Validate(plan *core.Plan) *core.Plan {
	invalid := 0
	for i := range plan.Entries {
		e := &plan.Entries[i]
		if e.Status == core.StatusInvalid || e.Status == core.StatusConflicted {
			continue
		}

		if reason := v.check(e); reason != "" {
			e.Status = core.StatusInvalid
			e.Reason = reason
			invalid++
			v.logger.Debug().
				Str("path", e.Source.Path).
				Str("target", e.Target).
				Str("reason", reason).
				Msg("entry failed validation")
			continue
		}
		if e.Status == core.StatusPending {
			e.Status = core.StatusValid
		}
	}

	v.logger.Info().
		Int("entries", len(plan.Entries)).
		Int("invalid", invalid).
		Msg("plan validated")
	return plan
}

// check returns the failure reason, or "" when the target name is
// acceptable.
func (v *Validator) check(e *core.PlanEntry) string {
	name := e.Target
	if name == "" {
		return "target name is empty"
	}

	for _, r := range name {
		if strings.ContainsRune(v.rules.ForbiddenRunes, r) {
			return fmt.Sprintf("forbidden character %q", r)
		}
		if r < 0x20 {
			return fmt.Sprintf("control character 0x%02x", r)
		}
	}

	stem, _ := step.SplitName(name)
	upper := strings.ToUpper(stem)
	for _, reserved := range v.rules.ReservedNames {
		if upper == reserved {
			return fmt.Sprintf("reserved device name %q", stem)
		}
	}

	if !v.rules.AllowTrailingDotSpace {
		if strings.HasSuffix(name, ".") || strings.HasSuffix(name, " ") {
			return "name ends with dot or whitespace"
		}
	}

	if v.rules.MaxNameLength > 0 && len(name) > v.rules.MaxNameLength {
		return fmt.Sprintf("name exceeds %d bytes", v.rules.MaxNameLength)
	}
	if v.rules.MaxPathLength > 0 && len(e.TargetPath()) > v.rules.MaxPathLength {
		return fmt.Sprintf("path exceeds %d bytes", v.rules.MaxPathLength)
	}

	return ""
}
