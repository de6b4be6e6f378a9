package feedback

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/parlorgames/parlor/pkg/models"
)

type verdictPayload struct {
	Satisfied *bool  `json:"satisfied"`
	Reason    string `json:"reason"`
}

func verdictSystemPrompt() string {
	return "You judge whether a player's message satisfies an information-gathering objective " +
		"in a mystery game. Reply with exactly one JSON object " +
		`{"satisfied": boolean, "reason": string}. ` +
		"The objective is satisfied when the message provides the sought information, even if phrased differently. " +
		"Reply with JSON only."
}

func verdictUserPrompt(message string, todo *models.Todo, story *models.Story) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Objective: %s\n", todo.Content)
	if todo.ExpectedAnswer != "" {
		fmt.Fprintf(&sb, "Expected answer: %s\n", todo.ExpectedAnswer)
	}
	if story != nil {
		fmt.Fprintf(&sb, "Story: %s\n", story.Title)
	}
	fmt.Fprintf(&sb, "\nPlayer message:\n%s", message)
	return sb.String()
}

// parseVerdict extracts the JSON object from a model reply. All parsing
// of verdict replies funnels through here so every malformed shape hits
// the same fallback.
func parseVerdict(reply string) (Verdict, error) {
	start := strings.Index(reply, "{")
	end := strings.LastIndex(reply, "}")
	if start < 0 || end <= start {
		return Verdict{}, fmt.Errorf("no JSON object in reply")
	}

	var payload verdictPayload
	if err := json.Unmarshal([]byte(reply[start:end+1]), &payload); err != nil {
		return Verdict{}, fmt.Errorf("malformed verdict: %w", err)
	}
	if payload.Satisfied == nil {
		return Verdict{}, fmt.Errorf("verdict missing satisfied field")
	}
	return Verdict{Satisfied: *payload.Satisfied, Reason: payload.Reason}, nil
}

// heuristicVerdict is the deterministic fallback: the todo counts as
// satisfied when the message covers at least half of the expected
// answer's significant words (or of the objective itself when no
// expected answer is recorded).
func heuristicVerdict(message string, todo *models.Todo) Verdict {
	target := todo.ExpectedAnswer
	if target == "" {
		target = todo.Content
	}

	messageWords := wordSet(message)
	matched, total := 0, 0
	for word := range wordSet(target) {
		if len(word) < 3 {
			continue
		}
		total++
		if _, ok := messageWords[word]; ok {
			matched++
		}
	}

	satisfied := total > 0 && matched*2 >= total
	reason := fmt.Sprintf("keyword match %d/%d", matched, total)
	return Verdict{Satisfied: satisfied, Reason: reason, Fallback: true}
}

func wordSet(text string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(strings.ToLower(text)) {
		out[strings.Trim(w, ".,!?;:\"'()")] = struct{}{}
	}
	return out
}
