// Package telegram is a minimal Telegram Bot API client covering the three
// calls the attendance runner needs: text messages, photo uploads and
// message deletion.
package telegram

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const defaultAPIBase = "https://api.telegram.org/bot"

// Client talks to the Telegram Bot API over plain HTTP.
type Client struct {
	token   string
	apiBase string
	http    *http.Client
}

// NewClient creates a client for the given bot token. Returns nil when the
// token is empty so callers can treat notifications as disabled.
func NewClient(token string) *Client {
	if token == "" {
		return nil
	}
	return &Client{
		token:   token,
		apiBase: defaultAPIBase,
		http:    &http.Client{Timeout: 20 * time.Second},
	}
}

// NewClientWithBase is NewClient with an explicit API base URL. Used by
// tests to point the client at a local server.
func NewClientWithBase(token, apiBase string) *Client {
	c := NewClient(token)
	if c != nil {
		c.apiBase = apiBase
	}
	return c
}

func (c *Client) methodURL(method string) string {
	return fmt.Sprintf("%s%s/%s", c.apiBase, c.token, method)
}

func (c *Client) postJSON(method string, payload map[string]interface{}) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	resp, err := c.http.Post(c.methodURL(method), "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API error: %d %s", resp.StatusCode, string(body))
	}
	return nil
}

// SendMessage sends a plain text message to a chat.
func (c *Client) SendMessage(chatID int64, text string) error {
	return c.postJSON("sendMessage", map[string]interface{}{
		"chat_id": chatID,
		"text":    text,
	})
}

// DeleteMessage removes a previously sent message.
func (c *Client) DeleteMessage(chatID, messageID int64) error {
	return c.postJSON("deleteMessage", map[string]interface{}{
		"chat_id":    chatID,
		"message_id": messageID,
	})
}

// SendPhoto uploads an image with a caption to a chat via multipart
// form data.
func (c *Client) SendPhoto(chatID int64, photoPath, caption string) error {
	file, err := os.Open(photoPath)
	if err != nil {
		return err
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("chat_id", fmt.Sprintf("%d", chatID)); err != nil {
		return err
	}
	if err := writer.WriteField("caption", caption); err != nil {
		return err
	}
	part, err := writer.CreateFormFile("photo", filepath.Base(photoPath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	resp, err := c.http.Post(c.methodURL("sendPhoto"), writer.FormDataContentType(), &body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("telegram API error: %d %s", resp.StatusCode, string(respBody))
	}
	return nil
}
