package geminiimage

// Wire types for the generateContent REST endpoint. Only the image-relevant
// subset of the surface is modeled.

type generateContentRequest struct {
	Contents         []content         `json:"contents"`
	Tools            []tool            `json:"tools,omitempty"`
	ToolConfig       *toolConfig       `json:"tool_config,omitempty"`
	GenerationConfig *generationConfig `json:"generationConfig,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts,omitempty"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
	FileData   *fileData   `json:"fileData,omitempty"`
}

type tool struct {
	ImageGeneration *imageGenerationTool `json:"image_generation,omitempty"`
}

type imageGenerationTool struct{}

type toolConfig struct {
	ImageGenerationConfig *imageGenerationConfig `json:"image_generation_config,omitempty"`
}

type imageGenerationConfig struct {
	NumberOfImages int `json:"number_of_images,omitempty"`
}

type generationConfig struct {
	CandidateCount int    `json:"candidateCount,omitempty"`
	Seed           *int64 `json:"seed,omitempty"`
}

// inlineData carries base64-encoded image bytes directly in the response.
type inlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

// fileData references a hosted payload that must be downloaded separately.
type fileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type candidate struct {
	Content      content `json:"content"`
	FinishReason string  `json:"finishReason,omitempty"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason,omitempty"`
}

type generateContentResponse struct {
	Candidates     []candidate     `json:"candidates"`
	PromptFeedback *promptFeedback `json:"promptFeedback,omitempty"`
}

// errorEnvelope is the {"error":{code,message,status}} shape the API wraps
// non-2xx responses in.
type errorEnvelope struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
		Status  string `json:"status,omitempty"`
	} `json:"error"`
}
