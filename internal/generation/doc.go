// Package generation provides the interface for interacting with external
// AI/LLM services for prompt expansion. It abstracts the details of LLM API
// integration (Gemini), allowing the orchestration core to turn a task subject
// into concrete prompt variants without coupling to specific external services.
package generation
