package generate

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dukerupert/ltgvault/internal/feature"
)

const (
	minChapters        = 3
	minChapterGap      = 10
	maxTranscriptRunes = 100_000
)

type ChapterInput struct {
	Title      string `json:"title,omitempty"`
	Transcript string `json:"transcript"`
}

type Chapter struct {
	Start     int    `json:"start"`
	Timestamp string `json:"timestamp"`
	Title     string `json:"title"`
}

type Chapters struct {
	Chapters []Chapter `json:"chapters"`
	// Description is the block to paste into a YouTube description.
	Description string `json:"description"`
}

func (s *Service) Chapters(ctx context.Context, in ChapterInput) (*Chapters, error) {
	transcript, err := requireText("transcript", in.Transcript, maxTranscriptRunes)
	if err != nil {
		return nil, err
	}
	in.Transcript = transcript
	in.Title = strings.TrimSpace(in.Title)

	out, err := s.complete(ctx, feature.ChapterGen, "system", "user", in, 1000)
	if err != nil {
		return nil, err
	}

	chapters, err := ParseChapters(out)
	if err != nil {
		return nil, err
	}
	return &Chapters{Chapters: chapters, Description: FormatChapters(chapters)}, nil
}

var chapterLineRe = regexp.MustCompile(`^(?:[-*•]\s*)?[\[(]?((?:\d{1,2}:)?\d{1,2}:\d{2})[\])]?\s*(?:[-–—:|]\s*)?(.+)$`)

// ParseChapters reads "[H:]MM:SS Title" lines, sorts them, removes
// duplicates and chapters closer than ten seconds apart, and starts the
// list at 00:00.
func ParseChapters(s string) ([]Chapter, error) {
	var parsed []Chapter
	for _, line := range nonEmptyLines(s) {
		m := chapterLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		start, ok := parseTimestamp(m[1])
		if !ok {
			continue
		}
		title := strings.TrimSpace(m[2])
		if title == "" {
			continue
		}
		parsed = append(parsed, Chapter{Start: start, Title: title})
	}

	sort.SliceStable(parsed, func(i, j int) bool { return parsed[i].Start < parsed[j].Start })
	if len(parsed) > 0 {
		parsed[0].Start = 0
	}

	var chapters []Chapter
	for _, c := range parsed {
		if n := len(chapters); n > 0 && c.Start-chapters[n-1].Start < minChapterGap {
			continue
		}
		chapters = append(chapters, c)
	}

	if len(chapters) < minChapters {
		return nil, fmt.Errorf("%w: %d chapters, need at least %d", ErrBadOutput, len(chapters), minChapters)
	}

	long := chapters[len(chapters)-1].Start >= 3600
	for i := range chapters {
		chapters[i].Timestamp = formatTimestamp(chapters[i].Start, long)
	}
	return chapters, nil
}

// FormatChapters renders one "timestamp title" line per chapter.
func FormatChapters(chapters []Chapter) string {
	var sb strings.Builder
	for i, c := range chapters {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString(c.Timestamp)
		sb.WriteByte(' ')
		sb.WriteString(c.Title)
	}
	return sb.String()
}

func parseTimestamp(ts string) (int, bool) {
	parts := strings.Split(ts, ":")
	total := 0
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return 0, false
		}
		// Minutes and seconds fields after the first must be below 60.
		if i > 0 && n >= 60 {
			return 0, false
		}
		total = total*60 + n
	}
	return total, true
}

func formatTimestamp(sec int, long bool) string {
	h, m, s := sec/3600, (sec%3600)/60, sec%60
	if long {
		return fmt.Sprintf("%d:%02d:%02d", h, m, s)
	}
	return fmt.Sprintf("%02d:%02d", m+h*60, s)
}
