package domain

// ChatRole identifies a chat message author.
type ChatRole string

// Chat roles.
const (
	RoleSystem ChatRole = "system"
	RoleUser   ChatRole = "user"
)

// ChatMessage is one turn in a chat completion request.
type ChatMessage struct {
	Role    ChatRole
	Content string
}

// ChatRequest is a single chat completion call.
type ChatRequest struct {
	Messages    []ChatMessage
	Temperature float32
	JSONMode    bool
}

// Completion is the text result of a chat call plus provider telemetry.
type Completion struct {
	Text        string
	TotalTokens int
	RateLimit   RateLimitSnapshot
}
