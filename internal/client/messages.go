package client

import (
	"context"
	"net/http"
	"net/url"
	"strconv"

	"gmptracker/internal/records"
	"gmptracker/internal/search"
)

type messageBody struct {
	UserName string `json:"user_name"`
	Message  string `json:"message,omitempty"`
}

// ListMessages returns the item's messages oldest first.
func (c *Client) ListMessages(ctx context.Context, itemID string) ([]records.Message, error) {
	var payload struct {
		Messages []records.Message `json:"messages"`
	}
	if err := c.get(ctx, "/api/items/"+url.PathEscape(itemID)+"/messages", &payload); err != nil {
		return nil, err
	}
	return payload.Messages, nil
}

func (c *Client) PostMessage(ctx context.Context, itemID, userName, body string) (records.Message, error) {
	var msg records.Message
	err := c.do(ctx, http.MethodPost, "/api/items/"+url.PathEscape(itemID)+"/messages", messageBody{UserName: userName, Message: body}, &msg)
	return msg, err
}

// EditMessage replaces the body and marks the message edited. userName must
// match the author unless the session is an admin.
func (c *Client) EditMessage(ctx context.Context, messageID, userName, body string) (records.Message, error) {
	var msg records.Message
	err := c.do(ctx, http.MethodPatch, "/api/messages/"+url.PathEscape(messageID), messageBody{UserName: userName, Message: body}, &msg)
	return msg, err
}

func (c *Client) DeleteMessage(ctx context.Context, messageID, userName string) (records.Message, error) {
	var msg records.Message
	err := c.do(ctx, http.MethodDelete, "/api/messages/"+url.PathEscape(messageID), messageBody{UserName: userName}, &msg)
	return msg, err
}

func (c *Client) Search(ctx context.Context, text, itemID string, limit int) (search.Response, error) {
	values := url.Values{}
	values.Set("q", text)
	if itemID != "" {
		values.Set("itemId", itemID)
	}
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}
	var response search.Response
	err := c.get(ctx, withQuery("/api/search", values), &response)
	return response, err
}
