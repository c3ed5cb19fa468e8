package research

import (
	"context"
	"fmt"
	"strings"
)

// Reflect reviews the iteration's fresh learnings against the overall
// query and returns an analysis of what is established, what remains
// unclear, and where to look next. The text feeds the next Plan call;
// a failure here is not fatal, the caller just plans without it.
func (p *Planner) Reflect(ctx context.Context, s *Session, fresh []Learning) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Research topic: %s\n\n", s.Query)
	b.WriteString("Findings from the latest research round:\n")
	for _, l := range fresh {
		fmt.Fprintf(&b, "- %s\n", l.Content)
	}
	if prior := s.Learnings(); len(prior) > len(fresh) {
		fmt.Fprintf(&b, "\nTotal findings so far: %d.\n", len(prior))
	}
	b.WriteString("\nIn a short paragraph each: what is now well established, what remains unclear or contested, and which specific angles deserve the next round of searches.")

	reflection, err := p.llm.Complete(ctx, b.String())
	if err != nil {
		return "", fmt.Errorf("reflection: %w", err)
	}
	return strings.TrimSpace(reflection), nil
}
