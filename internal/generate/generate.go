// Package generate turns user input into prompts, calls the model and
// cleans up what comes back.
package generate

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/dukerupert/ltgvault/internal/feature"
	"github.com/dukerupert/ltgvault/internal/llm"
)

// ErrBadOutput means the model answered but the answer could not be used.
var ErrBadOutput = errors.New("unusable model output")

// InputError is a problem with the caller's request.
type InputError struct {
	Message string
}

func (e *InputError) Error() string {
	return e.Message
}

func invalid(format string, args ...any) error {
	return &InputError{Message: fmt.Sprintf(format, args...)}
}

// Prompts renders the named prompt templates for a feature.
type Prompts interface {
	RenderPrompt(f feature.Feature, name string, data any) (string, error)
}

type Service struct {
	llm     llm.Completer
	prompts Prompts
}

func NewService(completer llm.Completer, prompts Prompts) *Service {
	return &Service{llm: completer, prompts: prompts}
}

func (s *Service) complete(ctx context.Context, f feature.Feature, system, user string, data any, maxTokens int) (string, error) {
	sys, err := s.prompts.RenderPrompt(f, system, data)
	if err != nil {
		return "", err
	}
	usr, err := s.prompts.RenderPrompt(f, user, data)
	if err != nil {
		return "", err
	}
	return s.llm.Complete(ctx, llm.Request{System: sys, User: usr, MaxTokens: maxTokens, Temperature: 0.7})
}

var numberingRe = regexp.MustCompile(`^\s*(?:\(\d+(?:/\d+)?\)|\d+(?:/\d*|[.)])|[-*•–])\s+`)

// stripListMarker removes a leading "1/", "2.", "3)", "(4/10)" or bullet glyph.
func stripListMarker(line string) string {
	return strings.TrimSpace(numberingRe.ReplaceAllString(line, ""))
}

func nonEmptyLines(s string) []string {
	var out []string
	for _, line := range strings.Split(strings.ReplaceAll(s, "\r\n", "\n"), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

// truncateRunes cuts s to at most n runes, ending with an ellipsis when cut.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return strings.TrimSpace(string(r[:n-1])) + "…"
}

func requireText(field, value string, max int) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", invalid("%s is required", field)
	}
	if utf8.RuneCountInString(value) > max {
		return "", invalid("%s must be at most %d characters", field, max)
	}
	return value, nil
}
