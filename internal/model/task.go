package model

import "time"

type Status string

const (
	Pending    Status = "pending"
	Processing Status = "processing"
	Sent       Status = "sent"
	Failed     Status = "failed"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == Sent || s == Failed
}

// Button is a call-to-action rendered into the email body.
type Button struct {
	Text string `json:"text"`
	Link string `json:"link"`
}

// Template carries everything needed to render one email.
type Template struct {
	Subject  string            `json:"subject"`
	Heading  string            `json:"heading"`
	Content  string            `json:"content"`
	ImageURL string            `json:"imageUrl,omitempty"`
	Buttons  []Button          `json:"buttons,omitempty"`
	Style    map[string]string `json:"style,omitempty"`
}

type Attachment struct {
	Filename    string `json:"filename"`
	StoragePath string `json:"storagePath"`
	ContentType string `json:"contentType"`
	Size        int64  `json:"size"`
	URL         string `json:"url,omitempty"`
}

// ScheduledTask is one persisted unit of "send this template to these
// recipients at this time". Field names and status values are part of the
// storage contract consumed by the admin UI and ops scripts.
type ScheduledTask struct {
	ID            string       `json:"id"`
	Template      Template     `json:"template"`
	Recipients    []string     `json:"recipients"`
	ScheduledTime time.Time    `json:"scheduledTime"`
	Status        Status       `json:"status"`
	Attachments   []Attachment `json:"attachments,omitempty"`
	SentAt        *time.Time   `json:"sentAt,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// Validate checks the fields required before a task may be persisted.
func (t Template) Validate() error {
	switch {
	case t.Subject == "":
		return errMissingField("subject")
	case t.Heading == "":
		return errMissingField("heading")
	case t.Content == "":
		return errMissingField("content")
	}
	return nil
}
