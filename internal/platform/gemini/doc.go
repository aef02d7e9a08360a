// Package gemini provides an implementation of the generation.PromptExpander
// interface that uses Google's Gemini API to expand a creative subject into
// distinct image-prompt variants.
//
// This package is an infrastructure adapter in the hexagonal architecture,
// connecting the orchestration core to Google's external Gemini AI service.
// It translates between the application's domain models and the Gemini API
// without exposing the details of the external service to the core application.
//
// Key components:
//
// 1. GeminiExpander:
//   - Implements the generation.PromptExpander interface
//   - Handles communication with the Gemini API
//   - Processes JSON responses into domain prompt variants
//
// 2. Prompt Management:
//   - Renders the expansion instruction template with subject and count
//   - Optionally enables Google Search grounding for subjects that
//     reference current events or products
//
// 3. Response Processing:
//   - Strips markdown fences and parses the JSON array response
//   - Validates each variant and assigns stable IDs and slugs
//
// 4. Error Handling:
//   - Implements retry logic with exponential backoff and jitter for
//     transient errors
//   - Returns permanent failures (safety blocks, malformed responses)
//     immediately without retrying
//   - Maps failures onto the generation package's error taxonomy
//
// The package depends on the google.golang.org/genai client library for
// communicating with the Gemini API, and handles authentication, request
// formatting, and response processing according to Google's API
// specifications.
package gemini
