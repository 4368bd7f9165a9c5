package domain

// Message roles as stored in transcript files.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is a single transcript entry. The JSON shape is the on-disk
// transcript record format and must stay stable.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}
