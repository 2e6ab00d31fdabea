package step

import (
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/renamekit/renamekit/pkg/renamekit/core"
)

// ExtensionPolicy controls what happens to the file extension after the
// pipeline has produced the new stem.
type ExtensionPolicy string

const (
	// ExtPreserve keeps the original extension untouched.
	ExtPreserve ExtensionPolicy = "preserve"
	// ExtStrip drops the extension entirely.
	ExtStrip ExtensionPolicy = "strip"
	// ExtLower keeps the extension but lowercases it.
	ExtLower ExtensionPolicy = "lower"
	// ExtTransform runs the extension through the pipeline as well: the
	// pipeline is applied a second time with the extension as the stem.
	// Counter steps are skipped on that second pass.
	ExtTransform ExtensionPolicy = "transform"
)

// Pipeline is a compiled, ordered list of steps plus the extension policy.
type Pipeline struct {
	steps []Step
	ext   ExtensionPolicy
	spec  Spec // retained for serialization
}

// NewPipeline builds a pipeline directly from steps, for programmatic use.
func NewPipeline(ext ExtensionPolicy, steps ...Step) *Pipeline {
	if ext == "" {
		ext = ExtPreserve
	}
	for _, s := range steps {
		if r, ok := s.(*Replace); ok {
			// A bad pattern is reported per-entry by Apply instead.
			_ = r.Precompile()
		}
	}
	return &Pipeline{steps: steps, ext: ext}
}

// Steps returns the compiled steps in order.
func (p *Pipeline) Steps() []Step {
	return p.steps
}

// ExtensionPolicy returns the pipeline's extension policy.
func (p *Pipeline) ExtensionPolicy() ExtensionPolicy {
	return p.ext
}

// Render produces the target name for one input: the concatenated step
// fragments with the extension policy applied. The per-step fragments are
// returned alongside for preview display.
func (p *Pipeline) Render(ctx *Context, in Input) (string, []string, error) {
	fragments := make([]string, 0, len(p.steps))
	var stem strings.Builder
	for _, s := range p.steps {
		frag, err := s.Apply(ctx, in)
		if err != nil {
			return "", fragments, err
		}
		fragments = append(fragments, frag)
		stem.WriteString(frag)
	}

	name := stem.String()
	switch p.ext {
	case ExtStrip:
	case ExtLower:
		if in.Ext != "" {
			name += "." + strings.ToLower(in.Ext)
		}
	case ExtTransform:
		if in.Ext != "" {
			extIn := in
			extIn.Stem = in.Ext
			var extOut strings.Builder
			for _, s := range p.steps {
				// Counters number files, not extensions: advancing one
				// here would consume two values per input.
				if _, ok := s.(*Counter); ok {
					continue
				}
				frag, err := s.Apply(ctx, extIn)
				if err != nil {
					return "", fragments, err
				}
				extOut.WriteString(frag)
			}
			if extOut.Len() > 0 {
				name += "." + extOut.String()
			}
		}
	default: // ExtPreserve
		if in.Ext != "" {
			name += "." + in.Ext
		}
	}
	return name, fragments, nil
}

// Serialize returns a stable textual form of the pipeline configuration,
// used as part of the preview cache key.
func (p *Pipeline) Serialize() string {
	if len(p.spec.Steps) > 0 {
		out, err := yaml.Marshal(p.spec)
		if err == nil {
			return string(out)
		}
	}
	// Programmatically built pipelines carry no spec; describe the concrete
	// step values instead.
	var b strings.Builder
	fmt.Fprintf(&b, "ext:%s", p.ext)
	for _, s := range p.steps {
		fmt.Fprintf(&b, "|%T%+v", s, s)
	}
	return b.String()
}

// SplitName splits a file name into (stem, ext) where ext carries no dot.
// Dotfiles like ".config" are a stem with no extension.
func SplitName(name string) (string, string) {
	ext := filepath.Ext(name)
	if ext == "" || ext == name {
		return name, ""
	}
	return strings.TrimSuffix(name, ext), strings.TrimPrefix(ext, ".")
}

// Spec is the serializable form of a pipeline, as loaded from YAML.
type Spec struct {
	Ext   ExtensionPolicy `yaml:"ext"`
	Steps []StepSpec      `yaml:"steps"`
}

// StepSpec describes one step in a pipeline file. Kind selects the step;
// the remaining fields apply to specific kinds.
type StepSpec struct {
	Kind string `yaml:"kind"`

	Text string `yaml:"text,omitempty"` // literal

	Start     int `yaml:"start,omitempty"`     // counter
	Increment int `yaml:"increment,omitempty"` // counter
	Pad       int `yaml:"pad,omitempty"`       // counter

	Find    string `yaml:"find,omitempty"`    // replace
	Replace string `yaml:"replace,omitempty"` // replace
	Regex   bool   `yaml:"regex,omitempty"`   // replace

	FromStart int `yaml:"from_start,omitempty"` // remove
	FromEnd   int `yaml:"from_end,omitempty"`   // remove

	Mode string `yaml:"mode,omitempty"` // case

	Field string `yaml:"field,omitempty"` // metadata
}

// ParseSpec parses a YAML pipeline definition.
func ParseSpec(data []byte) (Spec, error) {
	var spec Spec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return Spec{}, fmt.Errorf("parsing pipeline: %w", err)
	}
	if len(spec.Steps) == 0 {
		return Spec{}, fmt.Errorf("pipeline has no steps")
	}
	return spec, nil
}

// Compile turns a spec into an executable pipeline. lookup supplies cached
// metadata to metadata steps and may be nil when no such step is present.
func (s Spec) Compile(lookup MetadataLookup) (*Pipeline, error) {
	steps := make([]Step, 0, len(s.Steps))
	counters := 0
	for i, ss := range s.Steps {
		switch ss.Kind {
		case "literal":
			steps = append(steps, &Literal{Text: ss.Text})
		case "name":
			steps = append(steps, &OriginalName{})
		case "counter":
			counters++
			steps = append(steps, &Counter{
				ID:        fmt.Sprintf("%d", counters),
				Start:     ss.Start,
				Increment: ss.Increment,
				Pad:       ss.Pad,
			})
		case "replace":
			r := &Replace{Find: ss.Find, Replace: ss.Replace, Regex: ss.Regex}
			if err := r.Precompile(); err != nil {
				return nil, fmt.Errorf("step %d: %w", i, err)
			}
			steps = append(steps, r)
		case "remove":
			steps = append(steps, &Remove{FromStart: ss.FromStart, FromEnd: ss.FromEnd})
		case "case":
			steps = append(steps, &ChangeCase{Mode: ss.Mode})
		case "metadata":
			steps = append(steps, &Metadata{Field: ss.Field, Lookup: lookup})
		default:
			return nil, fmt.Errorf("step %d: unknown kind %q", i, ss.Kind)
		}
	}

	ext := s.Ext
	if ext == "" {
		ext = ExtPreserve
	}
	switch ext {
	case ExtPreserve, ExtStrip, ExtLower, ExtTransform:
	default:
		return nil, fmt.Errorf("unknown extension policy %q", ext)
	}

	return &Pipeline{steps: steps, ext: ext, spec: s}, nil
}

// InputFor builds the step input for one record at the given batch index.
func InputFor(rec core.FileRecord, index int, selection string) Input {
	stem, ext := SplitName(rec.Name())
	return Input{
		Stem:      stem,
		Ext:       ext,
		Index:     index,
		Group:     rec.GroupID(),
		Selection: selection,
		Record:    rec,
	}
}
