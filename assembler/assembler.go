// Package assembler merges the gather branches into one bounded
// context string. The merge order is fixed and the output is
// deterministic: identical inputs always produce identical strings.
package assembler

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/medcortex/medcortex/schema"
)

// Section headers, in merge priority order.
const (
	HeaderExpert   = "[Expert Knowledge]"
	HeaderMemory   = "[Conversation Memory]"
	HeaderFiles    = "[Attached Files]"
	HeaderPersonal = "[Personal Records]"
)

// minUsefulLength is the smallest remaining budget worth spending on a
// truncated part. Below it the part is skipped and the walk continues,
// since a shorter later part may still fit whole.
const minUsefulLength = 100

// Input carries one gather round's contributions.
type Input struct {
	Expert   []schema.Fragment
	Memory   string
	Files    string
	Personal []schema.Fragment
}

// Report describes what assembly did with the budget.
type Report struct {
	Length        int
	TokenEstimate int
	Truncated     bool
	DroppedParts  []string
}

type Assembler struct {
	maxLength int
}

func New(maxLength int) *Assembler {
	if maxLength <= 0 {
		maxLength = 8000
	}
	return &Assembler{maxLength: maxLength}
}

type part struct {
	header  string
	content string
}

// Assemble walks the parts in priority order. A part that fits whole
// is appended under its header; a part that would overflow while at
// least minUsefulLength budget remains is cut, suffix-marked, and ends
// the walk; a part facing less budget than that is dropped and the
// walk moves on. The result never exceeds maxLength plus the marker.
func (a *Assembler) Assemble(in Input) (string, Report) {
	parts := []part{
		{HeaderExpert, joinFragments(in.Expert)},
		{HeaderMemory, in.Memory},
		{HeaderFiles, in.Files},
		{HeaderPersonal, joinFragments(in.Personal)},
	}

	var b strings.Builder
	var report Report
	exhausted := false
	for _, p := range parts {
		if strings.TrimSpace(p.content) == "" {
			continue
		}
		if exhausted {
			report.DroppedParts = append(report.DroppedParts, p.header)
			continue
		}

		block := p.header + "\n" + p.content
		if b.Len() > 0 {
			block = "\n\n" + block
		}
		remaining := a.maxLength - b.Len()
		switch {
		case len(block) <= remaining:
			b.WriteString(block)
		case remaining >= minUsefulLength:
			b.WriteString(schema.TruncateAt(block, remaining))
			b.WriteString(schema.TruncationMarker)
			report.Truncated = true
			exhausted = true
		default:
			report.DroppedParts = append(report.DroppedParts, p.header)
		}
	}

	context := b.String()
	report.Length = len(context)
	report.TokenEstimate = EstimateTokens(context)
	return context, report
}

func joinFragments(fragments []schema.Fragment) string {
	pieces := make([]string, 0, len(fragments))
	for _, f := range fragments {
		if strings.TrimSpace(f.Content) == "" {
			continue
		}
		pieces = append(pieces, f.Content)
	}
	return strings.Join(pieces, "\n\n")
}

var (
	tkOnce sync.Once
	tk     *tiktoken.Tiktoken
)

// EstimateTokens counts cl100k_base tokens, falling back to a
// chars/4 guess when the encoding cannot be loaded. The estimate is
// observability data, never a gate.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	tkOnce.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			tk = enc
		}
	})
	if tk == nil {
		return (len(text) + 3) / 4
	}
	return len(tk.Encode(text, nil, nil))
}
