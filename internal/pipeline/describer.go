package pipeline

import (
	"strings"

	"clipweave/internal/config"
	"clipweave/internal/segment"
)

// NewDescriber picks the describer for a run: a prompts file assigns one
// prompt per segment, an explicit prompt is rendered as a template, and
// otherwise the configured prompt template applies.
func NewDescriber(cfg *config.Config, prompt, promptsFile string) (segment.Describer, error) {
	model := cfg.Provider.Model
	if path := strings.TrimSpace(promptsFile); path != "" {
		expanded, err := config.ExpandPath(path)
		if err != nil {
			return nil, err
		}
		return segment.LoadListDescriber(expanded, model)
	}
	if text := strings.TrimSpace(prompt); text != "" {
		return segment.NewTemplateDescriber(text, model)
	}
	return segment.NewTemplateDescriber(cfg.Segments.PromptTemplate, model)
}
