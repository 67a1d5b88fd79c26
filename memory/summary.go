package memory

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medcortex/medcortex/schema"
)

// Terms that make a turn worth quoting when evicted turns are folded
// into an archive record. Matching is case-insensitive substring.
var clinicalKeywords = []string{
	"pain", "ache", "fever", "cough", "nausea", "dizzy", "fatigue",
	"rash", "swelling", "bleeding", "allergy", "allergic",
	"medication", "dose", "dosage", "prescription", "side effect",
	"symptom", "diagnosis", "treatment", "therapy", "surgery",
	"chronic", "blood", "pressure", "glucose", "cholesterol",
	"heart", "diabetes", "asthma", "infection", "injury",
	"test", "result", "scan", "x-ray", "mri",
}

const (
	maxSummaryExcerpts = 5
	excerptLimit       = 200
)

// Summarize folds a batch of evicted turns into a single archive
// record. Turns mentioning clinical terms are quoted verbatim, capped
// at maxSummaryExcerpts; when nothing matches the record still notes
// how many turns it covers so the conversation keeps a contiguous
// archival trail.
func Summarize(session schema.Session, turns []schema.Turn) ArchiveRecord {
	excerpts := make([]string, 0, maxSummaryExcerpts)
	for _, turn := range turns {
		if len(excerpts) == maxSummaryExcerpts {
			break
		}
		if !mentionsClinicalTerm(turn.Content) {
			continue
		}
		content := strings.TrimSpace(turn.Content)
		if len(content) > excerptLimit {
			content = schema.TruncateAt(content, excerptLimit) + "..."
		}
		excerpts = append(excerpts, fmt.Sprintf("- %s: %s", turn.Role, content))
	}

	var summary string
	if len(excerpts) == 0 {
		summary = fmt.Sprintf("Earlier conversation covered %d turns with no notable clinical details.", len(turns))
	} else {
		summary = fmt.Sprintf("Earlier conversation (%d turns):\n%s", len(turns), strings.Join(excerpts, "\n"))
	}

	return ArchiveRecord{
		ID:             uuid.NewString(),
		ConversationID: session.ConversationID,
		SubjectID:      session.SubjectID,
		Summary:        summary,
		TurnCount:      len(turns),
		CreatedAt:      time.Now(),
	}
}

func mentionsClinicalTerm(text string) bool {
	lower := strings.ToLower(text)
	for _, keyword := range clinicalKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}
