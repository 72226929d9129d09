package app

import (
	"context"
	"net/http"
	"strings"
	"time"

	"gmptracker/internal/rbac"
	"gmptracker/internal/records"
	"gmptracker/internal/search"
	"gmptracker/internal/util"
)

// MessageInput is the body of a message write. UserName is the display
// name the client posts under.
type MessageInput struct {
	UserName string `json:"user_name"`
	Message  string `json:"message"`
}

func (s *Service) ListMessages(ctx context.Context, sess Session, itemID string) ([]records.Message, error) {
	itemID = strings.TrimSpace(itemID)
	if !s.knownItem(itemID) {
		return nil, unknownItemError(http.StatusNotFound, itemID)
	}
	return s.store.ListMessages(ctx, sess.WorkspaceID, itemID)
}

func (s *Service) PostMessage(ctx context.Context, sess Session, itemID string, input MessageInput) (records.Message, error) {
	itemID = strings.TrimSpace(itemID)
	if itemID == "" || !s.knownItem(itemID) {
		return records.Message{}, unknownItemError(http.StatusNotFound, itemID)
	}
	userName := strings.TrimSpace(input.UserName)
	if userName == "" {
		return records.Message{}, validationError("user_name is required", nil)
	}
	body := strings.TrimSpace(input.Message)
	if body == "" {
		return records.Message{}, validationError("message is required", nil)
	}

	stored, err := s.store.InsertMessage(ctx, records.Message{
		ID:          util.NewUUID(),
		WorkspaceID: sess.WorkspaceID,
		ItemID:      itemID,
		UserName:    userName,
		Message:     body,
		CreatedAt:   time.Now().UTC(),
	})
	if err != nil {
		return records.Message{}, err
	}
	s.messageChanged(ctx, records.EventInsert, stored)
	return stored, nil
}

// EditMessage replaces the body of a message posted under input.UserName.
func (s *Service) EditMessage(ctx context.Context, sess Session, messageID string, input MessageInput) (records.Message, error) {
	body := strings.TrimSpace(input.Message)
	if body == "" {
		return records.Message{}, validationError("message is required", nil)
	}
	if err := s.checkAuthor(ctx, sess, messageID, input.UserName); err != nil {
		return records.Message{}, err
	}
	stored, err := s.store.EditMessage(ctx, sess.WorkspaceID, messageID, body)
	if err != nil {
		return records.Message{}, err
	}
	s.messageChanged(ctx, records.EventUpdate, stored)
	return stored, nil
}

// DeleteMessage soft-deletes a message: the row stays, its body becomes the
// deleted placeholder.
func (s *Service) DeleteMessage(ctx context.Context, sess Session, messageID, userName string) (records.Message, error) {
	if err := s.checkAuthor(ctx, sess, messageID, userName); err != nil {
		return records.Message{}, err
	}
	stored, err := s.store.SoftDeleteMessage(ctx, sess.WorkspaceID, messageID)
	if err != nil {
		return records.Message{}, err
	}
	s.messageChanged(ctx, records.EventUpdate, stored)
	return stored, nil
}

// checkAuthor compares display names only. Admins may moderate any message.
func (s *Service) checkAuthor(ctx context.Context, sess Session, messageID, userName string) error {
	current, err := s.store.GetMessage(ctx, sess.WorkspaceID, strings.TrimSpace(messageID))
	if err != nil {
		return err
	}
	if current.IsDeleted {
		return domainError(http.StatusConflict, "MESSAGE_DELETED", "Message was deleted", nil)
	}
	if s.Can(sess.Role, rbac.ActionAdmin) {
		return nil
	}
	if strings.TrimSpace(userName) != current.UserName {
		return domainError(http.StatusForbidden, "NOT_AUTHOR", "Only the author can change this message", nil)
	}
	return nil
}

func (s *Service) messageChanged(ctx context.Context, eventType records.EventType, msg records.Message) {
	change, err := records.NewMessageChange(eventType, msg)
	s.publish(ctx, change, err)
	if s.search != nil {
		s.search.IndexMessage(msg)
	}
}

func (s *Service) Search(_ context.Context, sess Session, text, itemID string, limit, offset int) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: strings.TrimSpace(text)}
	}
	return s.search.Search(search.Query{
		WorkspaceID: sess.WorkspaceID,
		Text:        text,
		ItemID:      strings.TrimSpace(itemID),
		Limit:       limit,
		Offset:      offset,
	})
}
