package generate

import (
	"context"
	"regexp"
	"strings"

	"github.com/dukerupert/ltgvault/internal/feature"
)

const maxPostRunes = 3000

type PostInput struct {
	Topic    string `json:"topic"`
	Tone     string `json:"tone,omitempty"`
	Audience string `json:"audience,omitempty"`
}

type Post struct {
	Text string `json:"text"`
}

func (s *Service) Post(ctx context.Context, in PostInput) (*Post, error) {
	topic, err := requireText("topic", in.Topic, 500)
	if err != nil {
		return nil, err
	}
	in.Topic = topic

	out, err := s.complete(ctx, feature.PostUp, "system", "user", in, 1200)
	if err != nil {
		return nil, err
	}
	text := CleanPost(out)
	if text == "" {
		return nil, ErrBadOutput
	}
	return &Post{Text: text}, nil
}

var blankRunRe = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)

// CleanPost trims the model's answer, drops wrapping quotes, collapses runs
// of blank lines and caps the length.
func CleanPost(s string) string {
	s = strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
	for _, q := range [][2]string{{`"`, `"`}, {"“", "”"}, {"'", "'"}} {
		if len(s) >= len(q[0])+len(q[1]) && strings.HasPrefix(s, q[0]) && strings.HasSuffix(s, q[1]) {
			s = strings.TrimSpace(s[len(q[0]) : len(s)-len(q[1])])
			break
		}
	}
	s = blankRunRe.ReplaceAllString(s, "\n\n")
	return truncateRunes(s, maxPostRunes)
}
