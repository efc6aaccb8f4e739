package generate

import (
	"context"
	"strings"

	"github.com/dukerupert/ltgvault/internal/feature"
)

const (
	maxBullets     = 20
	maxBulletRunes = 500
)

type ImproveInput struct {
	Role    string   `json:"role,omitempty"`
	Bullets []string `json:"bullets"`
}

type Improved struct {
	Bullets []string `json:"bullets"`
}

func (s *Service) Improve(ctx context.Context, in ImproveInput) (*Improved, error) {
	var bullets []string
	for _, b := range in.Bullets {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		if _, err := requireText("bullet", b, maxBulletRunes); err != nil {
			return nil, err
		}
		bullets = append(bullets, b)
	}
	if len(bullets) == 0 {
		return nil, invalid("at least one bullet is required")
	}
	if len(bullets) > maxBullets {
		return nil, invalid("at most %d bullets per request", maxBullets)
	}
	in.Bullets = bullets
	in.Role = strings.TrimSpace(in.Role)

	out, err := s.complete(ctx, feature.ResumeBuilder, "system", "user", in, 800)
	if err != nil {
		return nil, err
	}
	improved := SplitBullets(out)
	if len(improved) == 0 {
		return nil, ErrBadOutput
	}
	return &Improved{Bullets: improved}, nil
}

// SplitBullets returns one bullet per non-empty line with leading glyphs
// and numbering removed.
func SplitBullets(s string) []string {
	var out []string
	for _, line := range nonEmptyLines(s) {
		if b := stripListMarker(line); b != "" {
			out = append(out, b)
		}
	}
	return out
}
