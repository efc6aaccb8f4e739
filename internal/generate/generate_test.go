package generate

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"unicode/utf8"

	"github.com/dukerupert/ltgvault/internal/config"
	"github.com/dukerupert/ltgvault/internal/llm"
)

// fakeCompleter answers by matching a substring of the system prompt.
type fakeCompleter struct {
	mu      sync.Mutex
	answers map[string]string
	err     error
	calls   []llm.Request
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return "", f.err
	}
	for key, answer := range f.answers {
		if strings.Contains(req.System, key) {
			return answer, nil
		}
	}
	return "", errors.New("no answer configured")
}

func newTestService(t *testing.T, fc *fakeCompleter) *Service {
	t.Helper()
	catalog, err := config.LoadCatalog("")
	if err != nil {
		t.Fatalf("load catalog: %v", err)
	}
	return NewService(fc, catalog)
}

func TestStripListMarker(t *testing.T) {
	cases := map[string]string{
		"1/ Hello":        "Hello",
		"2/10 Hello":      "Hello",
		"3. Hello":        "Hello",
		"4) Hello":        "Hello",
		"(5/7) Hello":     "Hello",
		"- Hello":         "Hello",
		"• Hello":         "Hello",
		"2024 was wild":   "2024 was wild",
		"2.5x faster now": "2.5x faster now",
	}
	for in, want := range cases {
		if got := stripListMarker(in); got != want {
			t.Errorf("stripListMarker(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestCleanPost(t *testing.T) {
	in := "  \"First line.\n\n\n\nSecond line.\n \n\nThird.\"  "
	want := "First line.\n\nSecond line.\n\nThird."
	if got := CleanPost(in); got != want {
		t.Errorf("CleanPost = %q, want %q", got, want)
	}

	long := strings.Repeat("a", 4000)
	if n := utf8.RuneCountInString(CleanPost(long)); n != maxPostRunes {
		t.Errorf("capped length = %d, want %d", n, maxPostRunes)
	}
}

func TestPost(t *testing.T) {
	fc := &fakeCompleter{answers: map[string]string{"LinkedIn": `"Remote work is here to stay."`}}
	s := newTestService(t, fc)

	post, err := s.Post(context.Background(), PostInput{Topic: "remote work", Tone: "upbeat"})
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if post.Text != "Remote work is here to stay." {
		t.Errorf("text = %q", post.Text)
	}
	if !strings.Contains(fc.calls[0].User, "remote work") {
		t.Errorf("user prompt = %q", fc.calls[0].User)
	}
}

func TestPostRequiresTopic(t *testing.T) {
	fc := &fakeCompleter{}
	s := newTestService(t, fc)

	_, err := s.Post(context.Background(), PostInput{Topic: "   "})
	var ie *InputError
	if !errors.As(err, &ie) {
		t.Fatalf("err = %v, want *InputError", err)
	}
	if len(fc.calls) != 0 {
		t.Error("model called for invalid input")
	}
}

func TestSplitTweets(t *testing.T) {
	body := "1/ First tweet\n\n2/ Second tweet\n3/ " + strings.Repeat("x", 300) + "\n4/ Fourth\n5/ Fifth"
	tweets := SplitTweets(body, 4)
	if len(tweets) != 4 {
		t.Fatalf("tweets = %d, want 4", len(tweets))
	}
	if tweets[0] != "First tweet" || tweets[1] != "Second tweet" {
		t.Errorf("tweets = %q", tweets[:2])
	}
	if n := utf8.RuneCountInString(tweets[2]); n != maxTweetRunes {
		t.Errorf("long tweet = %d runes, want %d", n, maxTweetRunes)
	}
}

func TestClampTweetCount(t *testing.T) {
	cases := map[int]int{0: 5, 1: 3, 3: 3, 10: 10, 15: 15, 40: 15}
	for in, want := range cases {
		if got := clampTweetCount(in); got != want {
			t.Errorf("clampTweetCount(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestThreadRunsBothCalls(t *testing.T) {
	fc := &fakeCompleter{answers: map[string]string{
		"Twitter threads": "1/ One\n2/ Two\n3/ Three",
		"calls to action": "1. Follow me\n2. Retweet the first tweet\n3. Reply below\n4. Extra",
	}}
	s := newTestService(t, fc)

	th, err := s.Thread(context.Background(), ThreadInput{Topic: "go", Count: 3})
	if err != nil {
		t.Fatalf("thread: %v", err)
	}
	if len(th.Tweets) != 3 {
		t.Errorf("tweets = %q", th.Tweets)
	}
	if len(th.CTAs) != 3 || th.CTAs[0] != "Follow me" {
		t.Errorf("ctas = %q", th.CTAs)
	}
	if len(fc.calls) != 2 {
		t.Errorf("calls = %d, want 2", len(fc.calls))
	}
}

func TestThreadFailsWhenOneCallFails(t *testing.T) {
	fc := &fakeCompleter{err: llm.ErrTimeout}
	s := newTestService(t, fc)

	_, err := s.Thread(context.Background(), ThreadInput{Topic: "go"})
	if !errors.Is(err, llm.ErrTimeout) {
		t.Fatalf("err = %v, want ErrTimeout", err)
	}
}

func TestParseChapters(t *testing.T) {
	out := strings.Join([]string{
		"Here are your chapters:",
		"00:05 Intro",
		"[02:30] Setup",
		"02:35 Too close",
		"01:10 - Background",
		"01:10 Duplicate",
		"10:00 Wrap up",
	}, "\n")

	chapters, err := ParseChapters(out)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	want := []Chapter{
		{Start: 0, Timestamp: "00:00", Title: "Intro"},
		{Start: 70, Timestamp: "01:10", Title: "Background"},
		{Start: 150, Timestamp: "02:30", Title: "Setup"},
		{Start: 600, Timestamp: "10:00", Title: "Wrap up"},
	}
	if len(chapters) != len(want) {
		t.Fatalf("chapters = %+v, want %+v", chapters, want)
	}
	for i := range want {
		if chapters[i] != want[i] {
			t.Errorf("chapter %d = %+v, want %+v", i, chapters[i], want[i])
		}
	}
}

func TestParseChaptersLongVideo(t *testing.T) {
	chapters, err := ParseChapters("0:00 Start\n45:00 Middle\n1:30:15 End")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if chapters[0].Timestamp != "0:00:00" || chapters[2].Timestamp != "1:30:15" {
		t.Errorf("timestamps = %q %q", chapters[0].Timestamp, chapters[2].Timestamp)
	}
}

func TestParseChaptersTooFew(t *testing.T) {
	_, err := ParseChapters("00:00 Intro\n00:04 Blink\nno timestamp here")
	if !errors.Is(err, ErrBadOutput) {
		t.Fatalf("err = %v, want ErrBadOutput", err)
	}
}

func TestChaptersDescription(t *testing.T) {
	fc := &fakeCompleter{answers: map[string]string{"chapter": "00:00 Intro\n01:00 Middle\n02:00 End"}}
	s := newTestService(t, fc)

	c, err := s.Chapters(context.Background(), ChapterInput{Transcript: "hello world"})
	if err != nil {
		t.Fatalf("chapters: %v", err)
	}
	if c.Description != "00:00 Intro\n01:00 Middle\n02:00 End" {
		t.Errorf("description = %q", c.Description)
	}
}

func TestImprove(t *testing.T) {
	fc := &fakeCompleter{answers: map[string]string{"resume": "• Led a team of 5\n- Cut costs by 20%\n\n"}}
	s := newTestService(t, fc)

	out, err := s.Improve(context.Background(), ImproveInput{Role: "manager", Bullets: []string{"managed people", "saved money"}})
	if err != nil {
		t.Fatalf("improve: %v", err)
	}
	if len(out.Bullets) != 2 || out.Bullets[0] != "Led a team of 5" || out.Bullets[1] != "Cut costs by 20%" {
		t.Errorf("bullets = %q", out.Bullets)
	}
}

func TestImproveValidation(t *testing.T) {
	s := newTestService(t, &fakeCompleter{})

	var ie *InputError
	if _, err := s.Improve(context.Background(), ImproveInput{Bullets: []string{" ", ""}}); !errors.As(err, &ie) {
		t.Errorf("empty bullets: err = %v, want *InputError", err)
	}
	many := make([]string, maxBullets+1)
	for i := range many {
		many[i] = "did a thing"
	}
	if _, err := s.Improve(context.Background(), ImproveInput{Bullets: many}); !errors.As(err, &ie) {
		t.Errorf("too many bullets: err = %v, want *InputError", err)
	}
}
