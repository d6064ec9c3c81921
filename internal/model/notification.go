package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Type is the notification category reported by the portal. The set is
// open: values the client does not know are kept as-is.
type Type string

const (
	TypeDocumentShared   Type = "DOCUMENT_SHARED"
	TypeDocumentAccessed Type = "DOCUMENT_ACCESSED"
	TypeSystemMessage    Type = "SYSTEM_MESSAGE"
)

// Kind is the closed rendering category for a Type.
type Kind int

const (
	KindUnknown Kind = iota
	KindDocumentShared
	KindDocumentAccessed
	KindSystemMessage
)

// Kind maps t onto its rendering category. Unrecognized values map to
// KindUnknown.
func (t Type) Kind() Kind {
	switch t {
	case TypeDocumentShared:
		return KindDocumentShared
	case TypeDocumentAccessed:
		return KindDocumentAccessed
	case TypeSystemMessage:
		return KindSystemMessage
	default:
		return KindUnknown
	}
}

// UserRef is a denormalized snapshot of a portal user.
type UserRef struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

// DocumentRef is a denormalized snapshot of a stored document.
type DocumentRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// Notification is a single entry of a user's notification feed.
type Notification struct {
	// ID is assigned by the server and stable across deliveries.
	ID int64 `json:"id"`

	Type    Type   `json:"type"`
	Title   string `json:"title"`
	Message string `json:"message"`

	// CreatedAt drives both display and relative-age formatting.
	CreatedAt time.Time `json:"createdAt"`

	Read   bool       `json:"read"`
	ReadAt *time.Time `json:"readAt,omitempty"`

	// Recipient, Sender and Document are read-only snapshots and may be
	// absent, typically for system messages.
	Recipient *UserRef     `json:"recipient,omitempty"`
	Sender    *UserRef     `json:"sender,omitempty"`
	Document  *DocumentRef `json:"document,omitempty"`
}

// ErrMissingID is returned when a payload carries no notification id.
var ErrMissingID = errors.New("notification payload has no id")

// wireNotification mirrors Notification with optional fields so that
// missing values can be told apart from zero values.
type wireNotification struct {
	ID        *int64       `json:"id"`
	Type      Type         `json:"type"`
	Title     string       `json:"title"`
	Message   string       `json:"message"`
	CreatedAt *wireTime    `json:"createdAt"`
	Read      *bool        `json:"read"`
	ReadAt    *wireTime    `json:"readAt"`
	Recipient *UserRef     `json:"recipient"`
	Sender    *UserRef     `json:"sender"`
	Document  *DocumentRef `json:"document"`
}

func (w wireNotification) toModel() Notification {
	n := Notification{
		Type:      w.Type,
		Title:     w.Title,
		Message:   w.Message,
		Recipient: w.Recipient,
		Sender:    w.Sender,
		Document:  w.Document,
	}
	if w.ID != nil {
		n.ID = *w.ID
	}
	if w.CreatedAt != nil {
		n.CreatedAt = w.CreatedAt.Time
	}
	if w.Read != nil {
		n.Read = *w.Read
	}
	if w.ReadAt != nil && !w.ReadAt.IsZero() {
		t := w.ReadAt.Time
		n.ReadAt = &t
	}
	return n
}

// UnmarshalJSON accepts both RFC 3339 timestamps and the zone-less
// LocalDateTime form the portal backend emits.
func (n *Notification) UnmarshalJSON(data []byte) error {
	var w wireNotification
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*n = w.toModel()
	return nil
}

// DecodePush parses a notification delivered over the push connection.
// A missing createdAt defaults to now and a missing read flag to false.
// A body without an id is rejected since it cannot be reconciled.
func DecodePush(body []byte, now time.Time) (Notification, error) {
	var w wireNotification
	if err := json.Unmarshal(body, &w); err != nil {
		return Notification{}, fmt.Errorf("decoding push payload: %w", err)
	}
	if w.ID == nil {
		return Notification{}, ErrMissingID
	}

	n := w.toModel()
	if w.CreatedAt == nil || w.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	return n, nil
}

// wireTime parses the timestamp layouts seen from the portal.
type wireTime struct {
	time.Time
}

var wireTimeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

func (t *wireTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		return nil
	}
	for _, layout := range wireTimeLayouts {
		if parsed, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			t.Time = parsed
			return nil
		}
	}
	return fmt.Errorf("unrecognized timestamp %q", s)
}
