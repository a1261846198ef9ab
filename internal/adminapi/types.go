package adminapi

import (
	"fmt"
	"strings"
)

// MessageType classifies a contact form submission.
type MessageType string

const (
	MessageTypeSales   MessageType = "sales"
	MessageTypeSupport MessageType = "support"
)

// ParseMessageType accepts "", "sales" or "support" (case-insensitive). The
// empty type means "all messages".
func ParseMessageType(raw string) (MessageType, error) {
	switch t := MessageType(strings.ToLower(strings.TrimSpace(raw))); t {
	case "", MessageTypeSales, MessageTypeSupport:
		return t, nil
	default:
		return "", fmt.Errorf("adminapi: unknown message type %q", raw)
	}
}

// ContactMessage is one inbox entry as returned by GET /contact.
type ContactMessage struct {
	ID           int64       `json:"id"`
	FullName     string      `json:"fullName"`
	Email        string      `json:"email"`
	Phone        string      `json:"phone"`
	Company      string      `json:"company"`
	Message      string      `json:"message"`
	Type         MessageType `json:"type"`
	// CreatedAt is kept exactly as the API sent it.
	CreatedAt    string      `json:"createdAt"`
	EmailSent    bool        `json:"emailSent"`
	WhatsappSent bool        `json:"whatsappSent"`
}

// ContactStats is the GET /contact/stats payload. Absent fields decode as zero.
type ContactStats struct {
	Total  int        `json:"total"`
	ByType TypeCounts `json:"byType"`
}

type TypeCounts struct {
	Sales   int `json:"sales"`
	Support int `json:"support"`
}

// StatusError reports a non-2xx answer from the admin API.
type StatusError struct {
	Resource string
	Status   int
	Body     string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("adminapi: %s: unexpected status %d", e.Resource, e.Status)
	}
	return fmt.Sprintf("adminapi: %s: unexpected status %d: %s", e.Resource, e.Status, e.Body)
}

// DecodeError reports a response body that could not be parsed.
type DecodeError struct {
	Resource string
	Err      error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("adminapi: %s: decode: %v", e.Resource, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
