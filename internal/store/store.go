package store

// SessionStore issues and resolves session tokens for authenticated
// accounts. Live session state (transcript copy, document context) is held
// by the orchestrator; this layer only binds tokens to account emails.
type SessionStore interface {
	NewSession(email string) (string, error)
	GetEmailByToken(token string) (string, bool, error)
	DeleteSession(token string) error
}
