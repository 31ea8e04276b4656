package models

import (
	"time"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // generate, chat, generation_result, status
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Known patient attributes, read-only to the gateway.
type PatientAttributes struct {
	Name          string            `json:"name"`
	DateOfBirth   string            `json:"date_of_birth,omitempty"`
	Sex           string            `json:"sex,omitempty"`
	Address       string            `json:"address,omitempty"`
	Phone         string            `json:"phone,omitempty"`
	Email         string            `json:"email,omitempty"`
	GuardianName  string            `json:"guardian_name,omitempty"`
	GuardianPhone string            `json:"guardian_phone,omitempty"`
	GuardianEmail string            `json:"guardian_email,omitempty"`
	School        string            `json:"school,omitempty"`
	Extra         map[string]string `json:"extra,omitempty"` // record numbers and other free identifiers
}

// Entity categories produced by assisted extraction.
const (
	EntityPerson       = "person"
	EntityOrganization = "organization"
	EntityPlace        = "place"
	EntityDate         = "date"
	EntityOther        = "other"
)

type Entity struct {
	Text       string  `json:"text"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence,omitempty"`
}

type EntitySet []Entity

type ChatMessage struct {
	Role    string `json:"role"` // user, assistant
	Content string `json:"content"`
}

// Inbound requests
type GenerateRequest struct {
	Prompt          string `json:"prompt"`
	PatientID       string `json:"patient_id,omitempty"`
	MaxOutputTokens int    `json:"max_output_tokens,omitempty"`
}

type ChatRequest struct {
	SystemPrompt    string        `json:"system_prompt,omitempty"`
	Messages        []ChatMessage `json:"messages"`
	PatientID       string        `json:"patient_id,omitempty"`
	MaxOutputTokens int           `json:"max_output_tokens,omitempty"`
}

type RedactRequest struct {
	Text      string `json:"text"`
	PatientID string `json:"patient_id,omitempty"`
}

type RedactPreview struct {
	RedactedText string         `json:"redacted_text"`
	Replacements int            `json:"replacements"`
	Categories   map[string]int `json:"categories"`
	Pseudonym    string         `json:"pseudonym,omitempty"`
}

// GenerationResult is the (success, result, error) triple returned to callers.
type GenerationResult struct {
	Success bool   `json:"success"`
	Result  string `json:"result"`
	Error   string `json:"error,omitempty"`
}

// Status is an advisory notification emitted while a call runs.
// It never carries original identifying values.
type Status struct {
	RequestID string            `json:"request_id"`
	Operation string            `json:"operation"`
	Phase     string            `json:"phase"`
	Message   string            `json:"message"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

type ProviderInfo struct {
	Name              string `json:"name"`
	Ready             bool   `json:"ready"`
	RequiresRedaction bool   `json:"requires_redaction"`
	Active            bool   `json:"active"`
}
