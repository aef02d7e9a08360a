package gemini

// promptData represents the data passed to the expansion prompt template
type promptData struct {
	Subject string
	Count   int
}

// variantSchema represents a single prompt variant in the API response
type variantSchema struct {
	// Name is a short human-readable label for the variant
	Name string `json:"name"`

	// Prompt is the complete, self-contained image prompt
	Prompt string `json:"prompt"`
}
