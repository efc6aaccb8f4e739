package generate

import (
	"context"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/dukerupert/ltgvault/internal/feature"
)

const (
	minTweets     = 3
	maxTweets     = 15
	defaultTweets = 5
	maxTweetRunes = 280
	maxCTAs       = 3
)

type ThreadInput struct {
	Topic string `json:"topic"`
	Tone  string `json:"tone,omitempty"`
	Count int    `json:"count,omitempty"`
}

type Thread struct {
	Tweets []string `json:"tweets"`
	CTAs   []string `json:"ctas"`
}

// Thread generates the thread body and its call-to-action variants
// concurrently. Either call failing fails the whole request.
func (s *Service) Thread(ctx context.Context, in ThreadInput) (*Thread, error) {
	topic, err := requireText("topic", in.Topic, 500)
	if err != nil {
		return nil, err
	}
	in.Topic = topic
	in.Count = clampTweetCount(in.Count)

	var body, cta string
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		body, err = s.complete(gctx, feature.ThreadGen, "system", "user", in, 2000)
		return err
	})
	g.Go(func() error {
		var err error
		cta, err = s.complete(gctx, feature.ThreadGen, "cta_system", "cta_user", in, 300)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	tweets := SplitTweets(body, in.Count)
	if len(tweets) == 0 {
		return nil, ErrBadOutput
	}
	return &Thread{Tweets: tweets, CTAs: SplitCTAs(cta)}, nil
}

func clampTweetCount(n int) int {
	switch {
	case n == 0:
		return defaultTweets
	case n < minTweets:
		return minTweets
	case n > maxTweets:
		return maxTweets
	}
	return n
}

// SplitTweets breaks a model answer into at most count tweets, removing
// numbering and capping each tweet's length.
func SplitTweets(s string, count int) []string {
	var tweets []string
	for _, line := range nonEmptyLines(s) {
		t := stripListMarker(line)
		if t == "" {
			continue
		}
		tweets = append(tweets, truncateRunes(t, maxTweetRunes))
		if len(tweets) == count {
			break
		}
	}
	return tweets
}

// SplitCTAs returns up to three call-to-action lines.
func SplitCTAs(s string) []string {
	ctas := []string{}
	for _, line := range nonEmptyLines(s) {
		c := strings.Trim(stripListMarker(line), `"“”`)
		if c == "" {
			continue
		}
		ctas = append(ctas, truncateRunes(c, maxTweetRunes))
		if len(ctas) == maxCTAs {
			break
		}
	}
	return ctas
}
