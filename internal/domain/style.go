package domain

import "strings"

// BaseStyleID identifies the implicit "no modification" style added when a
// task's batch config sets IncludeBaseStyle.
const BaseStyleID = "base"

// PromptPlaceholder is the token a style template substitutes with the
// expanded prompt text.
const PromptPlaceholder = "{prompt}"

// Style is a prompt template applied to an expanded prompt variant. Merging
// is plain string substitution; styles carry no behavior beyond that.
type Style struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	Template       string `json:"template"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
}

// BaseStyle returns the identity style: the prompt passes through unchanged.
func BaseStyle() Style {
	return Style{ID: BaseStyleID, Name: "No modification"}
}

// Apply merges the prompt into the style template. An empty template is the
// identity merge. A template without the placeholder is treated as a suffix.
func (s Style) Apply(prompt string) string {
	if s.Template == "" {
		return prompt
	}
	if strings.Contains(s.Template, PromptPlaceholder) {
		return strings.ReplaceAll(s.Template, PromptPlaceholder, prompt)
	}
	return prompt + ", " + s.Template
}

// MergeNegativePrompt combines the style's negative prompt with the task's
// batch-level negative prompt, either of which may be empty.
func (s Style) MergeNegativePrompt(taskNegative string) string {
	switch {
	case s.NegativePrompt == "":
		return taskNegative
	case taskNegative == "":
		return s.NegativePrompt
	default:
		return s.NegativePrompt + ", " + taskNegative
	}
}

// DefaultStyleCatalog returns the built-in styles, keyed by ID. The catalog
// includes the base style so lookups never special-case it.
func DefaultStyleCatalog() map[string]Style {
	styles := []Style{
		BaseStyle(),
		{
			ID:             "photoreal",
			Name:           "Photorealistic",
			Template:       "{prompt}, photorealistic, 85mm lens, natural lighting, high detail",
			NegativePrompt: "illustration, painting, cartoon, low quality",
		},
		{
			ID:             "watercolor",
			Name:           "Watercolor",
			Template:       "{prompt}, loose watercolor painting, soft washes, paper texture",
			NegativePrompt: "photo, 3d render, harsh lines",
		},
		{
			ID:             "cyberpunk",
			Name:           "Cyberpunk",
			Template:       "{prompt}, cyberpunk cityscape mood, neon glow, rain-slick streets, cinematic",
			NegativePrompt: "daylight, pastoral, washed out",
		},
		{
			ID:             "line-art",
			Name:           "Line art",
			Template:       "{prompt}, clean black ink line art, white background, minimal shading",
			NegativePrompt: "color, photo, gradients",
		},
		{
			ID:             "isometric",
			Name:           "Isometric",
			Template:       "{prompt}, isometric 3d diorama, soft studio lighting, pastel palette",
			NegativePrompt: "flat perspective, photograph",
		},
	}

	catalog := make(map[string]Style, len(styles))
	for _, s := range styles {
		catalog[s.ID] = s
	}
	return catalog
}
