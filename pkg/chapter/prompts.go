package chapter

import (
	"fmt"
	"strings"

	"github.com/parlorgames/parlor/pkg/models"
)

func openingSystemPrompt(story *models.Story) string {
	var sb strings.Builder
	sb.WriteString("You are the narrator of a collaborative mystery story played by a group. ")
	sb.WriteString("Write vivid prose in the second person plural, two to four paragraphs, ")
	sb.WriteString("ending on an open situation the players can act on. Never resolve the mystery yourself.\n")
	fmt.Fprintf(&sb, "Story title: %s\n", story.Title)
	if story.Background != "" {
		fmt.Fprintf(&sb, "Background: %s\n", story.Background)
	}
	return sb.String()
}

func openingUserPrompt(story *models.Story) string {
	return fmt.Sprintf("Open the story %q. Introduce the setting and the first hook.", story.Title)
}

// transitionPrompt enumerates the previous ending, recent chapter
// summaries, and retrieved memories for the next opening.
func transitionPrompt(story *models.Story, prevEnding string, bundle *models.MemoryBundle) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Write the opening of the next chapter of %q.\n\n", story.Title)
	fmt.Fprintf(&sb, "Previous chapter ending:\n%s\n", prevEnding)

	if len(bundle.Chapters) > 0 {
		sb.WriteString("\nEarlier chapter summaries:\n")
		for _, s := range bundle.Chapters {
			fmt.Fprintf(&sb, "- %s\n", s)
		}
	}
	if len(bundle.KeyEvents) > 0 {
		sb.WriteString("\nKey events so far:\n")
		for _, ev := range bundle.KeyEvents {
			fmt.Fprintf(&sb, "- %s\n", ev.Text)
		}
	}
	if len(bundle.Relations) > 0 {
		sb.WriteString("\nCharacter relations:\n")
		for _, rel := range bundle.Relations {
			fmt.Fprintf(&sb, "- %s and %s (%.1f): %s\n", rel.A, rel.B, rel.Weight, rel.Evidence)
		}
	}
	if len(bundle.ShortTerm) > 0 {
		sb.WriteString("\nRecent interactions:\n")
		for _, it := range bundle.ShortTerm {
			fmt.Fprintf(&sb, "- %s → %s\n", it.Input, it.Response)
		}
	}
	sb.WriteString("\nContinue the story, raising the stakes while staying consistent with everything above.")
	return sb.String()
}

func todosSystemPrompt() string {
	return "You design per-chapter objectives for a mystery game. " +
		"Reply with a JSON array of 3 to 5 objects, each " +
		`{"content": string, "expected_answer": string, "priority": 1-5}. ` +
		"Each objective asks the players to uncover one concrete fact from the chapter. " +
		"Reply with JSON only."
}

func todosUserPrompt(story *models.Story, ch *models.Chapter) string {
	return fmt.Sprintf("Story: %s\n\nChapter %d content:\n%s", story.Title, ch.Number, ch.Content)
}
