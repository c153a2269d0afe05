package sse

import "strings"

// Aggregator collects a canonicalized final response while chunks are
// being rendered out to the client (spec §4.10 bullet 5). It is not safe
// for concurrent Add calls; the pipeline feeds it from inside the render
// loop, one Add per adapted chunk.
type Aggregator struct {
	id, model string
	content   strings.Builder
	finish    string
}

// Add folds one chunk into the running aggregate.
func (a *Aggregator) Add(c Chunk) {
	if a.id == "" && c.ID != "" {
		a.id = c.ID
	}
	if a.model == "" && c.Model != "" {
		a.model = c.Model
	}
	a.content.WriteString(c.ContentDelta)
	if c.FinishReason != "" {
		a.finish = c.FinishReason
	}
}

// Finalize produces the assembled response and an estimated output token
// count, generalizing the teacher's sb.Len()/4 heuristic in writeSSE.
func (a *Aggregator) Finalize(estimateTokens func(string) int) FinalResponse {
	content := a.content.String()
	return FinalResponse{
		ID:           a.id,
		Model:        a.model,
		Content:      content,
		FinishReason: a.finish,
		OutputTokens: estimateTokens(content),
	}
}
