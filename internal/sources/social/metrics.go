// Package social extracts influencer audience metrics from JS-rendered
// platform profile pages.
package social

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/civiclens/civiclens/internal/entity"
)

// PageRenderer renders a URL to HTML. Satisfied by render.Renderer.
type PageRenderer interface {
	Render(ctx context.Context, url string) (string, error)
}

// Config controls the metrics source.
type Config struct {
	// ProfileURLTemplate expands a profile URL from a handle, e.g.
	// "https://example.com/@%s". The handle comes from the fetch context
	// or falls back to the entity id.
	ProfileURLTemplate string
	Timeout            time.Duration
}

// Source extracts follower counts from rendered profile pages. The counts
// are client-rendered on the platforms we track, so a plain GET is useless.
type Source struct {
	cfg      Config
	renderer PageRenderer
	logger   *zap.Logger
}

// New builds a Source.
func New(cfg Config, renderer PageRenderer, logger *zap.Logger) *Source {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Source{cfg: cfg, renderer: renderer, logger: logger}
}

// AudienceSizeSource returns the fetch function for audience_size.
func (s *Source) AudienceSizeSource() entity.SourceFunc {
	return func(entityID string, fctx map[string]any) entity.FetchResult {
		count, err := s.audienceSize(entityID, fctx)
		if err != nil {
			return entity.FetchResult{Success: false, Error: err.Error()}
		}
		return entity.FetchResult{Success: true, Data: count}
	}
}

// InfluenceScoreSource returns the fetch function for influence_score.
// The score is log-scaled audience size on a 0 to 100 scale.
func (s *Source) InfluenceScoreSource() entity.SourceFunc {
	return func(entityID string, fctx map[string]any) entity.FetchResult {
		count, err := s.audienceSize(entityID, fctx)
		if err != nil {
			return entity.FetchResult{Success: false, Error: err.Error()}
		}
		score := 0.0
		if count > 0 {
			// 100M followers maps to 100.
			score = math.Min(100, 12.5*math.Log10(float64(count)))
		}
		return entity.FetchResult{Success: true, Data: math.Round(score*10) / 10}
	}
}

func (s *Source) audienceSize(entityID string, fctx map[string]any) (int64, error) {
	handle, _ := fctx[entity.FieldTwitterHandle].(string)
	if handle == "" {
		handle = entityID
	}
	url := fmt.Sprintf(s.cfg.ProfileURLTemplate, handle)

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Timeout)
	defer cancel()

	html, err := s.renderer.Render(ctx, url)
	if err != nil {
		return 0, fmt.Errorf("render profile %s: %w", url, err)
	}
	count, ok := ExtractFollowerCount(html)
	if !ok {
		return 0, fmt.Errorf("no follower count found at %s", url)
	}
	return count, nil
}

var followerPattern = regexp.MustCompile(`(?i)([\d.,]+)\s*([KM]?)\s*Followers`)

// ExtractFollowerCount finds the first follower count in rendered HTML.
// Handles "1,234 Followers", "12.5K Followers" and "3.1M Followers".
func ExtractFollowerCount(html string) (int64, bool) {
	m := followerPattern.FindStringSubmatch(html)
	if m == nil {
		return 0, false
	}
	raw := strings.ReplaceAll(m[1], ",", "")
	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, false
	}
	switch strings.ToUpper(m[2]) {
	case "K":
		value *= 1_000
	case "M":
		value *= 1_000_000
	}
	return int64(value), true
}
