package candidate

import (
	"strings"

	"github.com/tidwall/gjson"

	"github.com/rand/metatot/internal/metatot/search"
)

// parseProposals extracts proposals from an LLM response. The response may
// wrap the JSON in markdown fences or prose; parsing is tolerant of extra
// fields but strict about the proposal shape itself.
func parseProposals(response string) ([]search.Proposal, error) {
	response = strings.TrimSpace(response)

	doc, ok := extractJSON(response)
	if !ok {
		return nil, ErrNoJSON
	}

	// Some models return a bare array instead of the documented envelope.
	items := doc
	if !doc.IsArray() {
		items = doc.Get("proposals")
	}
	if !items.IsArray() {
		return nil, ErrNoProposals
	}

	var proposals []search.Proposal
	for _, item := range items.Array() {
		thought := strings.TrimSpace(item.Get("thought").String())
		if thought == "" {
			continue
		}

		beliefs := make(map[string]float64)
		item.Get("beliefs").ForEach(func(key, value gjson.Result) bool {
			if w := value.Float(); w >= 0 {
				beliefs[key.String()] = w
			}
			return true
		})

		// A proposal without belief hypotheses still participates; it is
		// treated as maximally uncertain rather than discarded.
		if len(beliefs) == 0 {
			beliefs = map[string]float64{"on_track": 0.5, "off_track": 0.5}
		}

		proposals = append(proposals, search.Proposal{
			Thought: thought,
			Beliefs: beliefs,
		})
	}

	if len(proposals) == 0 {
		return nil, ErrNoProposals
	}
	return proposals, nil
}

// extractJSON locates the outermost JSON object or array in free-form text,
// skipping markdown fences and surrounding prose.
func extractJSON(text string) (gjson.Result, bool) {
	objStart := strings.Index(text, "{")
	arrStart := strings.Index(text, "[")

	start, closer := objStart, "}"
	if arrStart != -1 && (objStart == -1 || arrStart < objStart) {
		start, closer = arrStart, "]"
	}
	if start == -1 {
		return gjson.Result{}, false
	}

	end := strings.LastIndex(text, closer)
	if end <= start {
		return gjson.Result{}, false
	}

	return gjson.Parse(text[start : end+1]), true
}
