package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"supportdesk/api/internal/rbac"
	"supportdesk/api/internal/search"
	"supportdesk/api/internal/store"
	"supportdesk/api/internal/util"
	"supportdesk/api/internal/validation"
	"supportdesk/api/internal/webhooks"
)

const (
	StatusOpen    = "open"
	StatusPending = "pending"
	StatusClosed  = "closed"
)

type ConversationView struct {
	ID           string    `json:"id"`
	Subject      string    `json:"subject"`
	CustomerID   string    `json:"customerId"`
	CustomerName string    `json:"customerName,omitempty"`
	AssigneeID   *string   `json:"assigneeId"`
	AssigneeName string    `json:"assigneeName,omitempty"`
	Status       string    `json:"status"`
	MessageCount int       `json:"messageCount"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

type MessageView struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	SenderRole     string    `json:"senderRole"`
	Body           string    `json:"body"`
	CreatedAt      time.Time `json:"createdAt"`
}

type ConversationDetail struct {
	Conversation ConversationView `json:"conversation"`
	Messages     []MessageView    `json:"messages"`
}

func conversationView(item store.Conversation) ConversationView {
	return ConversationView{
		ID:           item.ID,
		Subject:      item.Subject,
		CustomerID:   item.CustomerID,
		CustomerName: item.CustomerName,
		AssigneeID:   item.AssigneeID,
		AssigneeName: item.AssigneeName,
		Status:       item.Status,
		MessageCount: item.MessageCount,
		CreatedAt:    item.CreatedAt,
		UpdatedAt:    item.UpdatedAt,
	}
}

func messageView(item store.Message) MessageView {
	return MessageView{
		ID:             item.ID,
		ConversationID: item.ConversationID,
		SenderID:       item.SenderID,
		SenderName:     item.SenderName,
		SenderRole:     item.SenderRole,
		Body:           item.Body,
		CreatedAt:      item.CreatedAt,
	}
}

type CreateConversationInput struct {
	Subject string `json:"subject" validate:"required,max=200"`
	Body    string `json:"body" validate:"required,max=10000"`
}

type PostMessageInput struct {
	Body string `json:"body" validate:"required,max=10000"`
}

type statusInput struct {
	Status string `json:"status" validate:"required,oneof=open pending closed"`
}

func (s *Service) CreateConversation(ctx context.Context, session Session, input CreateConversationInput) (ConversationDetail, error) {
	input.Subject = cleanText(input.Subject)
	input.Body = cleanText(input.Body)
	if err := validation.Struct(input); err != nil {
		return ConversationDetail{}, err
	}

	now := time.Now().UTC()
	conversation := store.Conversation{
		ID:           util.NewID("cnv"),
		Subject:      input.Subject,
		CustomerID:   session.UserID,
		Status:       StatusOpen,
		CreatedAt:    now,
		UpdatedAt:    now,
		CustomerName: session.UserName,
		MessageCount: 1,
	}
	message := store.Message{
		ID:             util.NewID("msg"),
		ConversationID: conversation.ID,
		SenderID:       session.UserID,
		SenderName:     session.UserName,
		SenderRole:     session.Role,
		Body:           input.Body,
		CreatedAt:      now,
	}
	if err := s.store.InsertConversation(ctx, conversation, message); err != nil {
		return ConversationDetail{}, err
	}

	s.indexConversation(conversation)
	s.indexMessage(conversation.CustomerID, message)

	detail := ConversationDetail{
		Conversation: conversationView(conversation),
		Messages:     []MessageView{messageView(message)},
	}
	s.emit(ctx, webhooks.EventConversationCreated, conversation.CustomerID, map[string]any{
		"conversation": detail.Conversation,
		"message":      detail.Messages[0],
	})
	return detail, nil
}

// ListConversations scopes customers to their own conversations. status may be empty.
func (s *Service) ListConversations(ctx context.Context, session Session, status string) ([]ConversationView, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	if status != "" && !validStatus(status) {
		return nil, validation.Fail("status", "oneof", "status must be one of: open pending closed")
	}
	customerID := ""
	if !s.Can(session.Role, rbac.ActionTriage) {
		customerID = session.UserID
	}
	items, err := s.store.ListConversations(ctx, customerID, status)
	if err != nil {
		return nil, err
	}
	views := make([]ConversationView, 0, len(items))
	for _, item := range items {
		views = append(views, conversationView(item))
	}
	return views, nil
}

func (s *Service) GetConversation(ctx context.Context, session Session, conversationID string) (ConversationDetail, error) {
	conversation, err := s.visibleConversation(ctx, session, conversationID)
	if err != nil {
		return ConversationDetail{}, err
	}
	messages, err := s.store.ListMessages(ctx, conversation.ID)
	if err != nil {
		return ConversationDetail{}, err
	}
	views := make([]MessageView, 0, len(messages))
	for _, item := range messages {
		views = append(views, messageView(item))
	}
	return ConversationDetail{Conversation: conversationView(conversation), Messages: views}, nil
}

func (s *Service) PostMessage(ctx context.Context, session Session, conversationID string, input PostMessageInput) (MessageView, error) {
	input.Body = cleanText(input.Body)
	if err := validation.Struct(input); err != nil {
		return MessageView{}, err
	}
	conversation, err := s.visibleConversation(ctx, session, conversationID)
	if err != nil {
		return MessageView{}, err
	}
	if conversation.Status == StatusClosed {
		return MessageView{}, domainError(http.StatusConflict, "CONVERSATION_CLOSED", "Conversation is closed", map[string]any{"conversationId": conversation.ID})
	}

	message := store.Message{
		ID:             util.NewID("msg"),
		ConversationID: conversation.ID,
		SenderID:       session.UserID,
		SenderName:     session.UserName,
		SenderRole:     session.Role,
		Body:           input.Body,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.store.InsertMessage(ctx, message); err != nil {
		return MessageView{}, err
	}

	s.indexMessage(conversation.CustomerID, message)

	view := messageView(message)
	s.emit(ctx, webhooks.EventMessageCreated, conversation.CustomerID, map[string]any{
		"conversationId": conversation.ID,
		"message":        view,
	})
	return view, nil
}

// ChangeStatus moves a conversation to status. Setting the current status is a no-op.
func (s *Service) ChangeStatus(ctx context.Context, session Session, conversationID, status string) (ConversationView, error) {
	input := statusInput{Status: strings.ToLower(strings.TrimSpace(status))}
	if err := validation.Struct(input); err != nil {
		return ConversationView{}, err
	}
	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return ConversationView{}, err
	}
	if conversation.Status == input.Status {
		return conversationView(conversation), nil
	}

	if err := s.store.UpdateConversationStatus(ctx, conversation.ID, input.Status); err != nil {
		return ConversationView{}, err
	}
	previous := conversation.Status
	conversation.Status = input.Status
	conversation.UpdatedAt = time.Now().UTC()
	s.indexConversation(conversation)

	s.emit(ctx, webhooks.EventConversationStatusChanged, conversation.CustomerID, map[string]any{
		"conversationId": conversation.ID,
		"from":           previous,
		"to":             conversation.Status,
		"changedBy":      session.UserID,
	})
	return conversationView(conversation), nil
}

// Assign sets the conversation assignee. An empty assigneeID assigns the caller.
func (s *Service) Assign(ctx context.Context, session Session, conversationID, assigneeID string) (ConversationView, error) {
	assigneeID = strings.TrimSpace(assigneeID)
	if assigneeID == "" {
		assigneeID = session.UserID
	}
	assignee, err := s.store.GetUserByID(ctx, assigneeID)
	if err != nil {
		if store.IsNotFound(err) {
			return ConversationView{}, validation.Fail("assigneeId", "exists", "assigneeId must reference an existing user")
		}
		return ConversationView{}, err
	}
	if !s.Can(assignee.Role, rbac.ActionTriage) {
		return ConversationView{}, validation.Fail("assigneeId", "role", "assigneeId must reference an agent or admin")
	}

	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return ConversationView{}, err
	}
	if err := s.store.AssignConversation(ctx, conversation.ID, assignee.ID); err != nil {
		return ConversationView{}, err
	}
	conversation.AssigneeID = &assignee.ID
	conversation.AssigneeName = assignee.DisplayName
	conversation.UpdatedAt = time.Now().UTC()

	s.emit(ctx, webhooks.EventConversationAssigned, conversation.CustomerID, map[string]any{
		"conversationId": conversation.ID,
		"assigneeId":     assignee.ID,
		"assigneeName":   assignee.DisplayName,
		"assignedBy":     session.UserID,
	})
	return conversationView(conversation), nil
}

func (s *Service) Search(ctx context.Context, session Session, q search.Query) search.Response {
	if !s.Can(session.Role, rbac.ActionTriage) {
		q.CustomerID = session.UserID
	}
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(ctx, q)
}

// visibleConversation loads a conversation the session may read. Customers get
// not-found for conversations they do not own.
func (s *Service) visibleConversation(ctx context.Context, session Session, conversationID string) (store.Conversation, error) {
	conversation, err := s.store.GetConversation(ctx, conversationID)
	if err != nil {
		return store.Conversation{}, err
	}
	if conversation.CustomerID != session.UserID && !s.Can(session.Role, rbac.ActionTriage) {
		return store.Conversation{}, domainError(http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
	return conversation, nil
}

func (s *Service) indexConversation(conversation store.Conversation) {
	if s.search == nil {
		return
	}
	s.search.IndexConversation(search.ConversationRecord{
		ID:         conversation.ID,
		Subject:    conversation.Subject,
		CustomerID: conversation.CustomerID,
		Status:     conversation.Status,
	})
}

func (s *Service) indexMessage(customerID string, message store.Message) {
	if s.search == nil {
		return
	}
	s.search.IndexMessage(search.MessageRecord{
		ID:             message.ID,
		ConversationID: message.ConversationID,
		CustomerID:     customerID,
		SenderName:     message.SenderName,
		Body:           message.Body,
	})
}

// cleanText trims input and drops NUL bytes, which Postgres text rejects.
func cleanText(value string) string {
	return strings.TrimSpace(strings.ReplaceAll(value, "\x00", ""))
}

func validStatus(status string) bool {
	switch status {
	case StatusOpen, StatusPending, StatusClosed:
		return true
	}
	return false
}
