package handler

import (
	"context"
	"net/http"

	"github.com/dukerupert/ltgvault/internal/feature"
	"github.com/dukerupert/ltgvault/internal/generate"
)

// actionFor names the usage event recorded for one call of a feature.
func actionFor(f feature.Feature) string {
	switch f {
	case feature.ResumeBuilder:
		return "improve"
	default:
		return "generate"
	}
}

type ToolHandler struct {
	meter     *Meter
	generator *generate.Service
}

func NewToolHandler(m *Meter, g *generate.Service) *ToolHandler {
	return &ToolHandler{meter: m, generator: g}
}

// Generate serves POST /api/{tool}/generate for postup, threadgen and chaptergen.
func (h *ToolHandler) Generate(w http.ResponseWriter, r *http.Request) {
	f, err := feature.Parse(r.PathValue("tool"))
	// Resume improvement runs against a stored resume at
	// POST /api/resumes/{id}/improve.
	if err != nil || f == feature.ResumeBuilder {
		writeError(w, notFound("Unknown tool"))
		return
	}

	var work func(ctx context.Context) (any, error)
	switch f {
	case feature.PostUp:
		var in generate.PostInput
		if apiErr := decodeJSON(w, r, &in); apiErr != nil {
			writeError(w, apiErr)
			return
		}
		work = func(ctx context.Context) (any, error) { return h.generator.Post(ctx, in) }
	case feature.ThreadGen:
		var in generate.ThreadInput
		if apiErr := decodeJSON(w, r, &in); apiErr != nil {
			writeError(w, apiErr)
			return
		}
		work = func(ctx context.Context) (any, error) { return h.generator.Thread(ctx, in) }
	case feature.ChapterGen:
		var in generate.ChapterInput
		if apiErr := decodeJSON(w, r, &in); apiErr != nil {
			writeError(w, apiErr)
			return
		}
		work = func(ctx context.Context) (any, error) { return h.generator.Chapters(ctx, in) }
	}

	h.meter.Run(w, r, f, actionFor(f), work)
}
