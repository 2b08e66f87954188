package telegram

import "encoding/json"

// Update is one entry from getUpdates. Exactly one of the payload fields is
// set per update.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message"`
	CallbackQuery *CallbackQuery `json:"callback_query"`
}

// Message is an inbound or sent chat message, trimmed to the fields the
// daemon routes on.
type Message struct {
	MessageID       int64  `json:"message_id"`
	MessageThreadID int64  `json:"message_thread_id,omitempty"`
	Chat            Chat   `json:"chat"`
	From            *User  `json:"from,omitempty"`
	Text            string `json:"text,omitempty"`
}

type Chat struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"` // "private", "group", "supergroup"
	Title     string `json:"title,omitempty"`
	FirstName string `json:"first_name,omitempty"`
}

type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username,omitempty"`
}

// CallbackQuery is a button tap on an inline keyboard.
type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from,omitempty"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data"`
}

// Button is one inline keyboard button. Rows of buttons are attached to
// outbound messages.
type Button struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// TopicInfo is the result of createForumTopic.
type TopicInfo struct {
	MessageThreadID int64  `json:"message_thread_id"`
	Name            string `json:"name"`
}

// ChatCandidate is a chat discovered during setup: somewhere the bot has
// seen a message from.
type ChatCandidate struct {
	ID    int64
	Title string
	Type  string
}

// envelope is the Bot API's uniform response wrapper.
type envelope struct {
	OK          bool            `json:"ok"`
	ErrorCode   int             `json:"error_code,omitempty"`
	Description string          `json:"description,omitempty"`
	Result      json.RawMessage `json:"result,omitempty"`
}
