// memoir.go holds the prompt construction for the two drafting operations:
// proposing a chapter outline from interview transcripts, and drafting one
// chapter of memoir prose from its outline entry.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/keepsake-app/keepsake/internal/db/models"
)

const outlineSystemPrompt = `You are an editor helping turn recorded life-story interviews into a memoir.
Given interview transcripts, propose a chapter outline. Respond with a single JSON object:
{"chapters":[{"title":"...","bullets":["...","..."]}]}
Chapters follow the arc of the life told, not the order of recording. Bullets are
concrete episodes or details from the transcripts, never inventions. Use 4 to 10
chapters with 3 to 6 bullets each.`

const draftSystemPrompt = `You are a ghostwriter drafting one chapter of a memoir from interview material.
Write warm first-person prose in the narrator's voice. Use only episodes and details
present in the outline bullets and transcript excerpts; do not invent facts. Return
the chapter text only, without a title heading.`

// ProposeOutline asks the model for a chapter outline over the given
// transcript text. truncated to maxChars so a long interview cannot blow the
// provider's context window; transcripts are concatenated oldest first so
// truncation drops the most recent material last.
func (c *Client) ProposeOutline(ctx context.Context, transcripts []string, themes []string, maxChars int) (*models.OutlineStructure, error) {
	combined := strings.Join(transcripts, "\n\n---\n\n")
	if maxChars > 0 && len(combined) > maxChars {
		combined = combined[:maxChars]
	}

	var sb strings.Builder
	if len(themes) > 0 {
		fmt.Fprintf(&sb, "The storyteller chose these themes: %s.\n\n", strings.Join(themes, ", "))
	}
	sb.WriteString("Interview transcripts:\n\n")
	sb.WriteString(combined)

	raw, err := c.complete(ctx, c.outlineModel, outlineSystemPrompt, sb.String(), true)
	if err != nil {
		return nil, err
	}

	var structure models.OutlineStructure
	if err := json.Unmarshal([]byte(raw), &structure); err != nil {
		return nil, fmt.Errorf("model returned unparseable outline: %w", err)
	}
	if len(structure.Chapters) == 0 {
		return nil, fmt.Errorf("model returned empty outline")
	}
	return &structure, nil
}

// DraftChapterInput carries everything the drafting prompt needs.
type DraftChapterInput struct {
	Title      string
	Bullets    []string
	Transcript string
	// Notes is optional owner guidance for a regeneration ("shorter", "more
	// about the farm"). Empty on first drafts.
	Notes string
}

// DraftChapter asks the model for the prose of one chapter.
func (c *Client) DraftChapter(ctx context.Context, in DraftChapterInput) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Chapter title: %s\n\nOutline bullets:\n", in.Title)
	for _, b := range in.Bullets {
		fmt.Fprintf(&sb, "- %s\n", b)
	}
	sb.WriteString("\nTranscript excerpts:\n\n")
	sb.WriteString(in.Transcript)
	if in.Notes != "" {
		fmt.Fprintf(&sb, "\n\nRevision guidance from the storyteller's family: %s", in.Notes)
	}

	prose, err := c.complete(ctx, c.draftModel, draftSystemPrompt, sb.String(), false)
	if err != nil {
		return "", err
	}
	prose = strings.TrimSpace(prose)
	if prose == "" {
		return "", fmt.Errorf("model returned an empty chapter")
	}
	return prose, nil
}
