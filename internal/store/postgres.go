package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/jackc/pgx/v5/pgconn"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, display_name, email, password_hash, role)
		VALUES ($1, $2, LOWER($3), $4, $5)
	`, user.ID, user.DisplayName, user.Email, user.PasswordHash, user.Role)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// IsUniqueViolation reports whether err is a Postgres unique_violation.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrUniqueViolation
}

const pgerrUniqueViolation = "23505"

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin password tx: %w", err)
	}
	result, err := tx.ExecContext(ctx, `
		UPDATE users SET password_hash=$2, updated_at=NOW() WHERE id=$1
	`, userID, passwordHash)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("update password: %w", err)
	}
	if n, _ := result.RowsAffected(); n == 0 {
		_ = tx.Rollback()
		return sql.ErrNoRows
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE refresh_sessions SET revoked_at=NOW() WHERE user_id=$1 AND revoked_at IS NULL
	`, userID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("revoke refresh sessions: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, item PasswordReset) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, item.TokenHash, item.UserID, item.ExpiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

// ConsumePasswordReset marks an unused, unexpired reset as used and returns its
// user id. It returns sql.ErrNoRows when no such reset exists.
func (s *PostgresStore) ConsumePasswordReset(ctx context.Context, tokenHash string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		UPDATE password_resets SET used_at=NOW()
		WHERE token_hash=$1 AND used_at IS NULL AND expires_at > NOW()
		RETURNING user_id
	`, tokenHash).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at, updated_at
		FROM users
		WHERE email = LOWER($1)
	`, email).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, email, password_hash, role, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(&user.ID, &user.DisplayName, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, display_name, email, role, created_at, updated_at
		FROM users
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var item User
		if err := rows.Scan(&item.ID, &item.DisplayName, &item.Email, &item.Role, &item.CreatedAt, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateUserRole(ctx context.Context, userID, role string) error {
	result, err := s.db.ExecContext(ctx, `UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1`, userID, role)
	if err != nil {
		return fmt.Errorf("update user role: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) CountUsersByRole(ctx context.Context, role string) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE role=$1`, role).Scan(&count); err != nil {
		return 0, fmt.Errorf("count users: %w", err)
	}
	return count, nil
}

// Sessions

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.display_name, u.email, u.role
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.DisplayName, &user.Email, &user.Role)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// Conversations

const conversationColumns = `
	c.id, c.subject, c.customer_id, c.assignee_id, c.status, c.created_at, c.updated_at,
	cu.display_name, COALESCE(au.display_name, ''),
	(SELECT COUNT(*) FROM messages m WHERE m.conversation_id = c.id)
`

const conversationJoins = `
	FROM conversations c
	JOIN users cu ON cu.id = c.customer_id
	LEFT JOIN users au ON au.id = c.assignee_id
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversation(row rowScanner) (Conversation, error) {
	var item Conversation
	var assignee sql.NullString
	if err := row.Scan(
		&item.ID,
		&item.Subject,
		&item.CustomerID,
		&assignee,
		&item.Status,
		&item.CreatedAt,
		&item.UpdatedAt,
		&item.CustomerName,
		&item.AssigneeName,
		&item.MessageCount,
	); err != nil {
		return Conversation{}, err
	}
	if assignee.Valid {
		item.AssigneeID = &assignee.String
	}
	return item, nil
}

// InsertConversation stores a conversation together with its opening message.
func (s *PostgresStore) InsertConversation(ctx context.Context, item Conversation, first Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin conversation tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO conversations (id, subject, customer_id, status)
		VALUES ($1, $2, $3, $4)
	`, item.ID, item.Subject, item.CustomerID, item.Status); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert conversation: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, sender_role, body)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, first.ID, item.ID, first.SenderID, first.SenderName, first.SenderRole, first.Body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert first message: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit conversation: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetConversation(ctx context.Context, conversationID string) (Conversation, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+conversationColumns+conversationJoins+` WHERE c.id=$1`, conversationID)
	return scanConversation(row)
}

// ListConversations returns conversations newest-activity first. Empty customerID
// or status means no filter on that column.
func (s *PostgresStore) ListConversations(ctx context.Context, customerID, status string) ([]Conversation, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+conversationColumns+conversationJoins+`
		WHERE ($1 = '' OR c.customer_id = $1)
		  AND ($2 = '' OR c.status = $2)
		ORDER BY c.updated_at DESC
	`, customerID, status)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	items := make([]Conversation, 0)
	for rows.Next() {
		item, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversations: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateConversationStatus(ctx context.Context, conversationID, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET status=$2, updated_at=NOW() WHERE id=$1
	`, conversationID, status)
	if err != nil {
		return fmt.Errorf("update conversation status: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) AssignConversation(ctx context.Context, conversationID, assigneeID string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE conversations SET assignee_id=$2, updated_at=NOW() WHERE id=$1
	`, conversationID, assigneeID)
	if err != nil {
		return fmt.Errorf("assign conversation: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) InsertMessage(ctx context.Context, item Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin message tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, sender_name, sender_role, body)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.ConversationID, item.SenderID, item.SenderName, item.SenderRole, item.Body); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("insert message: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `UPDATE conversations SET updated_at=NOW() WHERE id=$1`, item.ConversationID); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("touch conversation: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit message: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListMessages(ctx context.Context, conversationID string) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, sender_id, sender_name, sender_role, body, created_at
		FROM messages
		WHERE conversation_id=$1
		ORDER BY created_at ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	items := make([]Message, 0)
	for rows.Next() {
		var item Message
		if err := rows.Scan(&item.ID, &item.ConversationID, &item.SenderID, &item.SenderName, &item.SenderRole, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}
	return items, nil
}

// Webhooks

const webhookColumns = `
	id, name, url, events::text, auth_type, auth_token, auth_username, auth_password, secret,
	is_active, created_by, created_at, updated_at
`

func scanWebhook(row rowScanner) (Webhook, error) {
	var item Webhook
	var eventsRaw string
	if err := row.Scan(
		&item.ID,
		&item.Name,
		&item.URL,
		&eventsRaw,
		&item.AuthType,
		&item.AuthToken,
		&item.AuthUsername,
		&item.AuthPassword,
		&item.Secret,
		&item.IsActive,
		&item.CreatedBy,
		&item.CreatedAt,
		&item.UpdatedAt,
	); err != nil {
		return Webhook{}, err
	}
	if err := json.Unmarshal([]byte(eventsRaw), &item.Events); err != nil {
		return Webhook{}, fmt.Errorf("decode webhook events: %w", err)
	}
	return item, nil
}

func encodeEvents(events []string) (string, error) {
	if events == nil {
		events = []string{}
	}
	raw, err := json.Marshal(events)
	if err != nil {
		return "", fmt.Errorf("encode webhook events: %w", err)
	}
	return string(raw), nil
}

func (s *PostgresStore) InsertWebhook(ctx context.Context, item Webhook) error {
	events, err := encodeEvents(item.Events)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO webhooks (id, name, url, events, auth_type, auth_token, auth_username, auth_password, secret, is_active, created_by)
		VALUES ($1, $2, $3, $4::jsonb, $5, $6, $7, $8, $9, $10, $11)
	`, item.ID, item.Name, item.URL, events, item.AuthType, item.AuthToken, item.AuthUsername, item.AuthPassword, item.Secret, item.IsActive, item.CreatedBy)
	if err != nil {
		return fmt.Errorf("insert webhook: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWebhook(ctx context.Context, webhookID string) (Webhook, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE id=$1`, webhookID)
	return scanWebhook(row)
}

func (s *PostgresStore) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	return s.listWebhooks(ctx, `SELECT `+webhookColumns+` FROM webhooks ORDER BY created_at ASC`)
}

func (s *PostgresStore) ListActiveWebhooks(ctx context.Context) ([]Webhook, error) {
	return s.listWebhooks(ctx, `SELECT `+webhookColumns+` FROM webhooks WHERE is_active ORDER BY created_at ASC`)
}

func (s *PostgresStore) listWebhooks(ctx context.Context, query string) ([]Webhook, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list webhooks: %w", err)
	}
	defer rows.Close()

	items := make([]Webhook, 0)
	for rows.Next() {
		item, err := scanWebhook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan webhook: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhooks: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateWebhook(ctx context.Context, item Webhook) error {
	events, err := encodeEvents(item.Events)
	if err != nil {
		return err
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE webhooks
		SET name=$2, url=$3, events=$4::jsonb, auth_type=$5, auth_token=$6, auth_username=$7,
			auth_password=$8, secret=$9, is_active=$10, updated_at=NOW()
		WHERE id=$1
	`, item.ID, item.Name, item.URL, events, item.AuthType, item.AuthToken, item.AuthUsername, item.AuthPassword, item.Secret, item.IsActive)
	if err != nil {
		return fmt.Errorf("update webhook: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteWebhook(ctx context.Context, webhookID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id=$1`, webhookID)
	if err != nil {
		return fmt.Errorf("delete webhook: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) InsertWebhookDelivery(ctx context.Context, item WebhookDelivery) error {
	var responseStatus any
	if item.ResponseStatus != nil {
		responseStatus = *item.ResponseStatus
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO webhook_deliveries (id, webhook_id, event_id, event_type, payload, status, response_status, response_body, error_message, duration_ms)
		VALUES ($1, $2, $3, $4, $5::jsonb, $6, $7, $8, $9, $10)
	`, item.ID, item.WebhookID, item.EventID, item.EventType, string(item.Payload), item.Status, responseStatus, item.ResponseBody, item.ErrorMessage, item.DurationMS)
	if err != nil {
		return fmt.Errorf("insert webhook delivery: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListWebhookDeliveries(ctx context.Context, webhookID string, limit int) ([]WebhookDelivery, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, webhook_id, event_id, event_type, payload::text, status, response_status, response_body, error_message, duration_ms, created_at
		FROM webhook_deliveries
		WHERE webhook_id=$1
		ORDER BY created_at DESC
		LIMIT $2
	`, webhookID, limit)
	if err != nil {
		return nil, fmt.Errorf("list webhook deliveries: %w", err)
	}
	defer rows.Close()

	items := make([]WebhookDelivery, 0)
	for rows.Next() {
		var item WebhookDelivery
		var payload string
		var responseStatus sql.NullInt64
		if err := rows.Scan(
			&item.ID,
			&item.WebhookID,
			&item.EventID,
			&item.EventType,
			&payload,
			&item.Status,
			&responseStatus,
			&item.ResponseBody,
			&item.ErrorMessage,
			&item.DurationMS,
			&item.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook delivery: %w", err)
		}
		item.Payload = []byte(payload)
		if responseStatus.Valid {
			code := int(responseStatus.Int64)
			item.ResponseStatus = &code
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook deliveries: %w", err)
	}
	return items, nil
}

// IsNotFound reports whether err means the row does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}
