package store

import "time"

type User struct {
	ID           string
	DisplayName  string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// PasswordReset is a single-use reset grant. Only the token hash is stored.
type PasswordReset struct {
	TokenHash string
	UserID    string
	ExpiresAt time.Time
}

type Conversation struct {
	ID         string
	Subject    string
	CustomerID string
	AssigneeID *string
	Status     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
	// Joined for list views
	CustomerName string
	AssigneeName string
	MessageCount int
}

type Message struct {
	ID             string
	ConversationID string
	SenderID       string
	SenderName     string
	SenderRole     string
	Body           string
	CreatedAt      time.Time
}

// Webhook is a registered outbound endpoint. Credentials are stored per auth type.
type Webhook struct {
	ID           string
	Name         string
	URL          string
	Events       []string
	AuthType     string // 'none', 'bearer', 'basic', 'hmac'
	AuthToken    string
	AuthUsername string
	AuthPassword string
	Secret       string
	IsActive     bool
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// WebhookDelivery is one row of the delivery log.
type WebhookDelivery struct {
	ID             string
	WebhookID      string
	EventID        string
	EventType      string
	Payload        []byte
	Status         string // 'success' or 'failed'
	ResponseStatus *int
	ResponseBody   string
	ErrorMessage   string
	DurationMS     int64
	CreatedAt      time.Time
}
