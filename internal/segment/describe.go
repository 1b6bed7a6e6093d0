package segment

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/template"
)

// Describer produces the opaque provider descriptor for one segment.
type Describer interface {
	Describe(seg Segment, count int) (json.RawMessage, error)
}

// Descriptor is the payload shape produced by the bundled describers.
type Descriptor struct {
	Prompt          string  `json:"prompt"`
	DurationSeconds float64 `json:"duration_seconds"`
	Model           string  `json:"model,omitempty"`
}

// Describe returns a copy of segments with each Descriptor filled by d.
// The input slice is left untouched.
func Describe(segments []Segment, d Describer) ([]Segment, error) {
	if d == nil {
		return nil, errors.New("describer is nil")
	}
	out := make([]Segment, len(segments))
	for i, seg := range segments {
		desc, err := d.Describe(seg, len(segments))
		if err != nil {
			return nil, fmt.Errorf("describe segment %d: %w", seg.Index, err)
		}
		seg.Descriptor = desc
		out[i] = seg
	}
	return out, nil
}

// TemplateData is exposed to prompt templates.
type TemplateData struct {
	Index           int
	Number          int
	Count           int
	StartSeconds    float64
	EndSeconds      float64
	DurationSeconds float64
}

// TemplateDescriber renders a text/template prompt per segment.
type TemplateDescriber struct {
	tmpl  *template.Template
	model string
}

// NewTemplateDescriber parses text as a prompt template. model is copied into
// every descriptor when non-empty.
func NewTemplateDescriber(text, model string) (*TemplateDescriber, error) {
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("prompt template is empty")
	}
	tmpl, err := template.New("prompt").Option("missingkey=error").Parse(text)
	if err != nil {
		return nil, fmt.Errorf("parse prompt template: %w", err)
	}
	return &TemplateDescriber{tmpl: tmpl, model: strings.TrimSpace(model)}, nil
}

func (d *TemplateDescriber) Describe(seg Segment, count int) (json.RawMessage, error) {
	data := TemplateData{
		Index:           seg.Index,
		Number:          seg.Index + 1,
		Count:           count,
		StartSeconds:    seg.Start.Seconds(),
		EndSeconds:      seg.End.Seconds(),
		DurationSeconds: seg.Duration().Seconds(),
	}
	var buf bytes.Buffer
	if err := d.tmpl.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("render prompt: %w", err)
	}
	return marshalDescriptor(strings.TrimSpace(buf.String()), seg, d.model)
}

// ListDescriber assigns prompts by segment index. When there are more segments
// than prompts the last prompt repeats.
type ListDescriber struct {
	prompts []string
	model   string
}

// NewListDescriber builds a ListDescriber from in-memory prompts.
func NewListDescriber(prompts []string, model string) (*ListDescriber, error) {
	cleaned := make([]string, 0, len(prompts))
	for _, p := range prompts {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) == 0 {
		return nil, errors.New("prompt list is empty")
	}
	return &ListDescriber{prompts: cleaned, model: strings.TrimSpace(model)}, nil
}

// LoadListDescriber reads one prompt per line from path. Blank lines and lines
// starting with # are skipped.
func LoadListDescriber(path, model string) (*ListDescriber, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open prompts file: %w", err)
	}
	defer file.Close()

	var prompts []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prompts = append(prompts, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read prompts file: %w", err)
	}
	return NewListDescriber(prompts, model)
}

func (d *ListDescriber) Describe(seg Segment, _ int) (json.RawMessage, error) {
	idx := seg.Index
	if idx >= len(d.prompts) {
		idx = len(d.prompts) - 1
	}
	if idx < 0 {
		idx = 0
	}
	return marshalDescriptor(d.prompts[idx], seg, d.model)
}

func marshalDescriptor(prompt string, seg Segment, model string) (json.RawMessage, error) {
	payload, err := json.Marshal(Descriptor{
		Prompt:          prompt,
		DurationSeconds: seg.Duration().Seconds(),
		Model:           model,
	})
	if err != nil {
		return nil, fmt.Errorf("encode descriptor: %w", err)
	}
	return payload, nil
}
