package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// maxMessageLen is the largest text one sendMessage may carry; longer texts
// are split on line or word boundaries.
const maxMessageLen = 4000

// SendMessage sends HTML-formatted text into the given thread (0 = chat
// root), splitting at the API limit. rows, if any, become an inline keyboard
// on the final chunk. The returned id is the final chunk's message id, the
// one a later edit should target.
func (c *Client) SendMessage(ctx context.Context, threadID int64, text string, rows [][]Button) (int64, error) {
	chunks := splitMessage(text, maxMessageLen)
	var lastID int64
	for i, chunk := range chunks {
		params := url.Values{
			"chat_id":    {strconv.FormatInt(c.chatID, 10)},
			"text":       {chunk},
			"parse_mode": {"HTML"},
		}
		if threadID > 0 {
			params.Set("message_thread_id", strconv.FormatInt(threadID, 10))
		}
		if len(rows) > 0 && i == len(chunks)-1 {
			params.Set("reply_markup", keyboardJSON(rows))
		}
		result, err := c.call(ctx, "sendMessage", params)
		if err != nil {
			return 0, err
		}
		var sent Message
		if err := json.Unmarshal(result, &sent); err != nil {
			return 0, fmt.Errorf("parsing sendMessage result: %w", err)
		}
		lastID = sent.MessageID
		if i < len(chunks)-1 {
			// Keep chunk order stable.
			time.Sleep(100 * time.Millisecond)
		}
	}
	return lastID, nil
}

// EditMessage replaces a sent message's text and keyboard. Passing no rows
// removes the keyboard, which is how resolved approvals are retired.
func (c *Client) EditMessage(ctx context.Context, messageID int64, text string, rows [][]Button) error {
	params := url.Values{
		"chat_id":    {strconv.FormatInt(c.chatID, 10)},
		"message_id": {strconv.FormatInt(messageID, 10)},
		"text":       {text},
		"parse_mode": {"HTML"},
	}
	if len(rows) > 0 {
		params.Set("reply_markup", keyboardJSON(rows))
	}
	_, err := c.call(ctx, "editMessageText", params)
	return err
}

// AnswerCallback acknowledges a button tap, optionally with a toast.
func (c *Client) AnswerCallback(ctx context.Context, callbackID, text string) error {
	params := url.Values{"callback_query_id": {callbackID}}
	if text != "" {
		params.Set("text", text)
	}
	_, err := c.call(ctx, "answerCallbackQuery", params)
	return err
}

// SendTyping shows a transient "typing…" indicator in the thread.
func (c *Client) SendTyping(ctx context.Context, threadID int64) error {
	params := url.Values{
		"chat_id": {strconv.FormatInt(c.chatID, 10)},
		"action":  {"typing"},
	}
	if threadID > 0 {
		params.Set("message_thread_id", strconv.FormatInt(threadID, 10))
	}
	_, err := c.call(ctx, "sendChatAction", params)
	return err
}

// CreateTopic opens a forum topic in the chat and returns its thread id.
// The chat must be a supergroup with topics enabled.
func (c *Client) CreateTopic(ctx context.Context, name string) (int64, error) {
	params := url.Values{
		"chat_id": {strconv.FormatInt(c.chatID, 10)},
		"name":    {name},
	}
	result, err := c.call(ctx, "createForumTopic", params)
	if err != nil {
		return 0, err
	}
	var topic TopicInfo
	if err := json.Unmarshal(result, &topic); err != nil {
		return 0, fmt.Errorf("parsing createForumTopic result: %w", err)
	}
	return topic.MessageThreadID, nil
}

// DeleteTopic removes a forum topic and its messages.
func (c *Client) DeleteTopic(ctx context.Context, threadID int64) error {
	params := url.Values{
		"chat_id":           {strconv.FormatInt(c.chatID, 10)},
		"message_thread_id": {strconv.FormatInt(threadID, 10)},
	}
	_, err := c.call(ctx, "deleteForumTopic", params)
	return err
}

// GetUpdates long-polls for inbound updates at or after offset. timeout of
// zero returns immediately with whatever is queued, which is how the daemon
// discards backlog accumulated while it was down.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	params := url.Values{
		"offset":          {strconv.FormatInt(offset, 10)},
		"timeout":         {strconv.Itoa(int(timeout / time.Second))},
		"allowed_updates": {`["message","callback_query"]`},
	}
	result, err := c.call(ctx, "getUpdates", params)
	if err != nil {
		return nil, err
	}
	var updates []Update
	if err := json.Unmarshal(result, &updates); err != nil {
		return nil, fmt.Errorf("parsing getUpdates result: %w", err)
	}
	return updates, nil
}

// DiscoverChats lists the chats the bot has seen messages from, for the
// setup wizard. It drains nothing: the updates stay queued for the daemon.
func (c *Client) DiscoverChats(ctx context.Context) ([]ChatCandidate, error) {
	updates, err := c.GetUpdates(ctx, 0, 0)
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool)
	var chats []ChatCandidate
	for _, u := range updates {
		if u.Message == nil || seen[u.Message.Chat.ID] {
			continue
		}
		seen[u.Message.Chat.ID] = true
		title := u.Message.Chat.Title
		if title == "" {
			title = u.Message.Chat.FirstName
		}
		if title == "" {
			title = "Unknown"
		}
		chats = append(chats, ChatCandidate{
			ID:    u.Message.Chat.ID,
			Title: title,
			Type:  u.Message.Chat.Type,
		})
	}
	return chats, nil
}

// EscapeHTML escapes the three characters Telegram's HTML parse mode treats
// specially.
func EscapeHTML(text string) string {
	text = strings.ReplaceAll(text, "&", "&amp;")
	text = strings.ReplaceAll(text, "<", "&lt;")
	text = strings.ReplaceAll(text, ">", "&gt;")
	return text
}

func keyboardJSON(rows [][]Button) string {
	markup := struct {
		InlineKeyboard [][]Button `json:"inline_keyboard"`
	}{rows}
	data, _ := json.Marshal(markup)
	return string(data)
}

// splitMessage cuts text into chunks of at most maxLen, preferring to break
// at a newline, then a space, as long as the break lands past the halfway
// point.
func splitMessage(text string, maxLen int) []string {
	if len(text) <= maxLen {
		return []string{text}
	}
	var chunks []string
	remaining := text
	for len(remaining) > 0 {
		if len(remaining) <= maxLen {
			chunks = append(chunks, remaining)
			break
		}
		splitAt := maxLen
		if idx := strings.LastIndex(remaining[:maxLen], "\n"); idx > maxLen/2 {
			splitAt = idx + 1
		} else if idx := strings.LastIndex(remaining[:maxLen], " "); idx > maxLen/2 {
			splitAt = idx + 1
		}
		chunks = append(chunks, strings.TrimRight(remaining[:splitAt], " \n"))
		remaining = remaining[splitAt:]
	}
	return chunks
}
