package client

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"

	"gmptracker/internal/realtime"
	"gmptracker/internal/records"
)

// Subscribe opens the server-sent change feed for table, narrowed to itemID
// when it is not empty. The subscription's channel closes when the stream
// ends, whether through Close, ctx or the server going away.
func (c *Client) Subscribe(ctx context.Context, table records.Table, itemID string) (*realtime.Subscription, error) {
	values := url.Values{}
	values.Set("table", string(table))
	if itemID != "" {
		values.Set("itemId", itemID)
	}
	path := withQuery("/api/realtime", values)

	streamCtx, cancel := context.WithCancel(ctx)
	resp, err := c.openStream(streamCtx, path)
	if IsStatus(err, http.StatusUnauthorized) && c.Session().RefreshToken != "" {
		if refreshErr := c.refresh(ctx); refreshErr == nil {
			resp, err = c.openStream(streamCtx, path)
		}
	}
	if err != nil {
		cancel()
		return nil, err
	}

	out := make(chan records.Change, 64)
	go func() {
		defer close(out)
		defer resp.Body.Close()
		if err := readEvents(resp.Body, func(event, data string) bool {
			if event != "change" {
				return true
			}
			var change records.Change
			if err := json.Unmarshal([]byte(data), &change); err != nil {
				log.Printf("client: decode change event: %v", err)
				return true
			}
			select {
			case out <- change:
				return true
			case <-streamCtx.Done():
				return false
			}
		}); err != nil && streamCtx.Err() == nil {
			log.Printf("client: %s change feed ended: %v", table, err)
		}
	}()
	return realtime.NewSubscription(out, cancel), nil
}

func (c *Client) openStream(ctx context.Context, path string) (*http.Response, error) {
	resp, err := c.request(ctx, c.stream, http.MethodGet, path, nil, true)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(resp.Body)
		return nil, decodeError(resp.StatusCode, data)
	}
	return resp, nil
}

// readEvents parses a text/event-stream body and hands each complete event
// to emit until emit returns false or the body ends. Comment lines are
// skipped; multi-line data is joined with newlines.
func readEvents(body io.Reader, emit func(event, data string) bool) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			if len(data) > 0 {
				name := event
				if name == "" {
					name = "message"
				}
				if !emit(name, strings.Join(data, "\n")) {
					return nil
				}
			}
			event, data = "", nil
			continue
		}
		if strings.HasPrefix(line, ":") {
			continue
		}
		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			event = value
		case "data":
			data = append(data, value)
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return io.ErrUnexpectedEOF
}
