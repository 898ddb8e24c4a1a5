package interfaces

import "context"

// LLMMode indicates whether the service runs against a cloud API or an
// offline stub.
type LLMMode string

const (
	LLMModeCloud   LLMMode = "cloud"
	LLMModeOffline LLMMode = "offline"
)

// Message represents a single message in a conversation.
type Message struct {
	Role    string `json:"role"` // "system", "user", "assistant"
	Content string `json:"content"`
}

// LLMService abstracts a chat-completion provider.
type LLMService interface {
	// Chat generates a completion for the conversation history.
	Chat(ctx context.Context, messages []Message) (string, error)

	// HealthCheck verifies the service is operational.
	HealthCheck(ctx context.Context) error

	// GetMode returns the operational mode of the service.
	GetMode() LLMMode

	// Close releases resources.
	Close() error
}

// GatewayRequest carries one mapping or generation request through the
// LLM gateway. Every request is charged to a user and a job so quota and
// the per-job call budget can be enforced.
type GatewayRequest struct {
	UserID   string
	JobID    string
	Priority int // lower = sooner in the reservation queue
	Purpose  string
	System   string
	Prompt   string
}

// LLMGateway is the single choke-point for all LLM calls. It honors the
// rate-limit manager's windows, the priority reservation queue, and the
// per-job call budget, and retries transient provider failures.
type LLMGateway interface {
	Generate(ctx context.Context, req GatewayRequest) (string, error)
	// ForgetJob drops the per-job budget counter once a session finishes.
	ForgetJob(userID, jobID string)
}
