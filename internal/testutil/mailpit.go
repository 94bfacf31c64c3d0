package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MailpitClient reads captured mail through the Mailpit REST API.
type MailpitClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewMailpitClient creates a client for the API of container.
func NewMailpitClient(container *MailpitContainer) *MailpitClient {
	return &MailpitClient{
		baseURL:    container.APIURL(),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

// MailpitMessage is a captured message.
type MailpitMessage struct {
	ID      string           `json:"ID"`
	From    MailpitAddress   `json:"From"`
	To      []MailpitAddress `json:"To"`
	Subject string           `json:"Subject"`
	Snippet string           `json:"Snippet"`
	Text    string           `json:"Text"`
	HTML    string           `json:"HTML"`
}

// MailpitAddress is a mailbox address.
type MailpitAddress struct {
	Address string `json:"Address"`
	Name    string `json:"Name"`
}

type messagesResponse struct {
	Messages []MailpitMessage `json:"messages"`
}

// GetMessages returns the inbox summaries, newest first.
func (c *MailpitClient) GetMessages() ([]MailpitMessage, error) {
	var result messagesResponse
	if err := c.getJSON("/api/v1/messages", &result); err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	return result.Messages, nil
}

// GetMessage returns one message with its text and HTML bodies.
func (c *MailpitClient) GetMessage(id string) (*MailpitMessage, error) {
	var msg MailpitMessage
	if err := c.getJSON("/api/v1/message/"+id, &msg); err != nil {
		return nil, fmt.Errorf("get message: %w", err)
	}
	return &msg, nil
}

// DeleteAllMessages clears the inbox.
func (c *MailpitClient) DeleteAllMessages() error {
	req, err := http.NewRequest(http.MethodDelete, c.baseURL+"/api/v1/messages", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("delete messages: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("delete messages: status %d", resp.StatusCode)
	}
	return nil
}

// WaitForMessages polls until at least count messages arrived or timeout passes.
func (c *MailpitClient) WaitForMessages(count int, timeout time.Duration) ([]MailpitMessage, error) {
	deadline := time.Now().Add(timeout)
	for {
		messages, err := c.GetMessages()
		if err == nil && len(messages) >= count {
			return messages, nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return nil, fmt.Errorf("timeout waiting for %d messages: %w", count, err)
			}
			return messages, fmt.Errorf("timeout waiting for %d messages, got %d", count, len(messages))
		}
		time.Sleep(100 * time.Millisecond)
	}
}

func (c *MailpitClient) getJSON(path string, v any) error {
	resp, err := c.httpClient.Get(c.baseURL + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("status %d: %s", resp.StatusCode, body)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}
