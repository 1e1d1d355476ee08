package orchestrator

import (
	"fmt"
	"strings"

	"analyzer/internal/domain"
)

const extractedSeparator = "\n\n"

// JoinExtracted concatenates per-image text in input order.
func JoinExtracted(texts []string) string {
	return strings.Join(texts, extractedSeparator)
}

// BuildPrompt composes the category instructions, the advice fragment and the
// extracted text of every screenshot into one prompt.
func BuildPrompt(cat domain.Category, adv domain.Advice, texts []string) domain.Prompt {
	var sys strings.Builder
	sys.WriteString(strings.TrimSpace(cat.SystemPrompt))
	if p := strings.TrimSpace(adv.Prompt); p != "" {
		sys.WriteString("\n\n")
		sys.WriteString(p)
	}

	var user strings.Builder
	fmt.Fprintf(&user, "Category: %s\nAdvice: %s\n", cat.Label, adv.Name)
	fmt.Fprintf(&user, "The user submitted %d screenshot(s). Text extracted from each one follows.\n", len(texts))
	for i, t := range texts {
		fmt.Fprintf(&user, "\n[Screenshot %d]\n", i+1)
		if strings.TrimSpace(t) == "" {
			user.WriteString("(no text could be extracted)\n")
			continue
		}
		user.WriteString(t)
		user.WriteString("\n")
	}
	return domain.Prompt{System: sys.String(), User: user.String()}
}
