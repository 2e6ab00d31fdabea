package plan

import (
	"hash/fnv"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/renamekit/renamekit/pkg/renamekit/core"
	"github.com/renamekit/renamekit/pkg/renamekit/step"
)

// DefaultStalenessWindow bounds how long a preview result may be reused
// even with an unchanged key, keeping memory use flat during rapid edits.
const DefaultStalenessWindow = 50 * time.Millisecond

// Preview wraps the Builder with a single-slot result cache keyed by the
// set of file fingerprints and the serialized pipeline configuration.
// Repeated calls with unchanged inputs return the identical plan object; a
// changed input always triggers full recomputation.
type Preview struct {
	builder *Builder
	window  time.Duration
	logger  zerolog.Logger

	mu   sync.Mutex
	key  uint64
	plan *core.Plan
	at   time.Time
}

// NewPreview creates a preview manager. window <= 0 selects the default
// staleness window.
func NewPreview(builder *Builder, window time.Duration, logger zerolog.Logger) *Preview {
	if window <= 0 {
		window = DefaultStalenessWindow
	}
	return &Preview{
		builder: builder,
		window:  window,
		logger:  logger.With().Str("component", "preview").Logger(),
	}
}

// Plan returns the plan for the inputs, reusing the cached result when
// every fingerprint and the pipeline configuration are unchanged and the
// staleness window has not elapsed.
func (p *Preview) Plan(files []core.FileRecord, pipe *step.Pipeline, settings Settings) (*core.Plan, error) {
	key := previewKey(files, pipe, settings)

	p.mu.Lock()
	if p.plan != nil && p.key == key && time.Since(p.at) < p.window {
		cached := p.plan
		p.mu.Unlock()
		p.logger.Trace().Msg("preview cache hit")
		return cached, nil
	}
	p.mu.Unlock()

	built, err := p.builder.Build(files, pipe, settings)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.key = key
	p.plan = built
	p.at = time.Now()
	p.mu.Unlock()
	return built, nil
}

// Invalidate drops the cached result unconditionally, e.g. after execution
// changed the filesystem underneath the preview.
func (p *Preview) Invalidate() {
	p.mu.Lock()
	p.plan = nil
	p.mu.Unlock()
}

func previewKey(files []core.FileRecord, pipe *step.Pipeline, settings Settings) uint64 {
	h := fnv.New64a()
	for _, rec := range files {
		_, _ = h.Write([]byte(rec.Path))
		_, _ = h.Write([]byte{0})
		_, _ = h.Write([]byte(rec.Fingerprint()))
		_, _ = h.Write([]byte{0})
	}
	_, _ = h.Write([]byte(pipe.Serialize()))
	_, _ = h.Write([]byte(settings.Scope))
	_, _ = h.Write([]byte(settings.Selection))
	_, _ = h.Write([]byte(strconv.Itoa(len(files))))
	return h.Sum64()
}
