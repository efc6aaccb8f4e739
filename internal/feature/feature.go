// Package feature defines the closed set of metered products.
package feature

import "fmt"

type Feature string

const (
	PostUp        Feature = "postup"
	ThreadGen     Feature = "threadgen"
	ChapterGen    Feature = "chaptergen"
	ResumeBuilder Feature = "resumebuilder"
)

// All lists every known feature in display order.
var All = []Feature{PostUp, ThreadGen, ChapterGen, ResumeBuilder}

// Parse returns the feature for a wire name, or an error for anything unknown.
func Parse(s string) (Feature, error) {
	switch Feature(s) {
	case PostUp, ThreadGen, ChapterGen, ResumeBuilder:
		return Feature(s), nil
	}
	return "", fmt.Errorf("unknown feature %q", s)
}

func (f Feature) Valid() bool {
	_, err := Parse(string(f))
	return err == nil
}

// Title is the human-readable product name used in user-facing messages.
func (f Feature) Title() string {
	switch f {
	case PostUp:
		return "PostUp"
	case ThreadGen:
		return "ThreadGen"
	case ChapterGen:
		return "ChapterGen"
	case ResumeBuilder:
		return "Resume Builder"
	}
	return string(f)
}
