package imagebatch

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/mhpenta/imagebatch/batch"
)

// Conversation log errors.
var (
	ErrMessageIndexOutOfRange = errors.New("message index out of range")
	ErrImageIndexOutOfRange   = errors.New("image index out of range")
	ErrNotABatchMessage       = errors.New("message does not hold a batch result")
	ErrEmptyBatchResult       = errors.New("batch result has no successful images")
)

// Message is one entry in a conversation log. Image payloads live only in
// memory; JSON export replaces them with counts.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"` // "user" or "model"
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`

	// Images holds the message's image payloads (reference images for user
	// turns, generated images for model turns).
	Images []GeneratedImage `json:"-"`

	// BatchTexts holds the per-image texts when the message records a batch
	// result.
	BatchTexts []string `json:"batch_texts,omitempty"`

	// SelectedIndex marks which image of a batch the user picked.
	SelectedIndex *int `json:"selected_index,omitempty"`

	Edited   bool       `json:"edited,omitempty"`
	EditedAt *time.Time `json:"edited_at,omitempty"`
}

// IsBatch reports whether the message records a multi-image batch result.
func (m Message) IsBatch() bool {
	return len(m.BatchTexts) > 0
}

// ConversationLog is an ordered, editable log of conversation messages.
// Safe for concurrent use.
type ConversationLog struct {
	mu       sync.Mutex
	maxLen   int // 0 = unbounded
	messages []Message
}

// NewConversationLog creates an empty log. When maxLen is positive, the
// oldest messages are dropped once the log exceeds it.
func NewConversationLog(maxLen int) *ConversationLog {
	return &ConversationLog{maxLen: maxLen}
}

// Append adds a message and returns it.
func (l *ConversationLog) Append(role, text string, images ...GeneratedImage) Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	msg := Message{
		ID:        uuid.NewString(),
		Role:      role,
		Text:      text,
		Timestamp: time.Now().UTC(),
		Images:    images,
	}
	l.messages = append(l.messages, msg)
	l.trimLocked()
	return msg
}

// AppendBatchResult records a batch outcome as a single model message holding
// every successful image. When all units produced the same text, that text
// becomes the message body; otherwise a count summary is used.
func (l *ConversationLog) AppendBatchResult(role string, result *batch.Result) (Message, error) {
	if result == nil || result.SuccessCount() == 0 {
		return Message{}, ErrEmptyBatchResult
	}

	texts := lo.Map(result.Successes, func(s batch.Success, _ int) string {
		return s.Text
	})
	images := lo.Map(result.Successes, func(s batch.Success, i int) GeneratedImage {
		return GeneratedImage{Data: s.Image, MIMEType: s.MIMEType, Index: i}
	})

	text := fmt.Sprintf("generated %d images", len(images))
	if distinct := lo.Uniq(texts); len(distinct) == 1 && distinct[0] != "" {
		text = distinct[0]
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	msg := Message{
		ID:         uuid.NewString(),
		Role:       role,
		Text:       text,
		Timestamp:  time.Now().UTC(),
		Images:     images,
		BatchTexts: texts,
	}
	l.messages = append(l.messages, msg)
	l.trimLocked()
	return msg, nil
}

// SelectFromBatch marks one image of a batch message as the user's pick.
func (l *ConversationLog) SelectFromBatch(msgIndex, imageIndex int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if msgIndex < 0 || msgIndex >= len(l.messages) {
		return fmt.Errorf("%w: %d", ErrMessageIndexOutOfRange, msgIndex)
	}
	msg := &l.messages[msgIndex]
	if !msg.IsBatch() {
		return ErrNotABatchMessage
	}
	if imageIndex < 0 || imageIndex >= len(msg.Images) {
		return fmt.Errorf("%w: %d", ErrImageIndexOutOfRange, imageIndex)
	}

	msg.SelectedIndex = &imageIndex
	now := time.Now().UTC()
	msg.EditedAt = &now
	return nil
}

// Edit replaces the text of the message at index and marks it edited.
func (l *ConversationLog) Edit(index int, text string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || index >= len(l.messages) {
		return fmt.Errorf("%w: %d", ErrMessageIndexOutOfRange, index)
	}

	now := time.Now().UTC()
	l.messages[index].Text = text
	l.messages[index].Edited = true
	l.messages[index].EditedAt = &now
	return nil
}

// Delete removes the message at index.
func (l *ConversationLog) Delete(index int) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if index < 0 || index >= len(l.messages) {
		return fmt.Errorf("%w: %d", ErrMessageIndexOutOfRange, index)
	}
	l.messages = append(l.messages[:index], l.messages[index+1:]...)
	return nil
}

// Clear removes all messages.
func (l *ConversationLog) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = nil
}

// Len returns the number of messages.
func (l *ConversationLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.messages)
}

// Messages returns a copy of the log.
func (l *ConversationLog) Messages() []Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	msgs := make([]Message, len(l.messages))
	copy(msgs, l.messages)
	return msgs
}

// Turns converts the log into the history format consumed by generation
// calls. Batch messages contribute only their selected image, if any.
func (l *ConversationLog) Turns() []ConversationTurn {
	l.mu.Lock()
	defer l.mu.Unlock()

	return lo.Map(l.messages, func(m Message, _ int) ConversationTurn {
		turn := ConversationTurn{Role: m.Role, Text: m.Text}
		if m.IsBatch() {
			// Imported batch messages carry no payloads; guard the index.
			if m.SelectedIndex != nil && *m.SelectedIndex < len(m.Images) {
				turn.Images = []GeneratedImage{m.Images[*m.SelectedIndex]}
			}
			return turn
		}
		turn.Images = m.Images
		return turn
	})
}

// exportedMessage is the wire form of a Message: image payloads are elided,
// counts are kept so an import can tell what was there.
type exportedMessage struct {
	ID            string     `json:"id"`
	Role          string     `json:"role"`
	Text          string     `json:"text"`
	Timestamp     time.Time  `json:"timestamp"`
	HasImages     bool       `json:"has_images,omitempty"`
	ImageCount    int        `json:"image_count,omitempty"`
	BatchTexts    []string   `json:"batch_texts,omitempty"`
	SelectedIndex *int       `json:"selected_index,omitempty"`
	Edited        bool       `json:"edited,omitempty"`
	EditedAt      *time.Time `json:"edited_at,omitempty"`
}

// ExportJSON serializes the log without image payloads.
func (l *ConversationLog) ExportJSON() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	exported := lo.Map(l.messages, func(m Message, _ int) exportedMessage {
		return exportedMessage{
			ID:            m.ID,
			Role:          m.Role,
			Text:          m.Text,
			Timestamp:     m.Timestamp,
			HasImages:     len(m.Images) > 0,
			ImageCount:    len(m.Images),
			BatchTexts:    m.BatchTexts,
			SelectedIndex: m.SelectedIndex,
			Edited:        m.Edited,
			EditedAt:      m.EditedAt,
		}
	})
	return json.MarshalIndent(exported, "", "  ")
}

// ImportJSON replaces the log with messages from an earlier export. Image
// payloads are not restored, only the textual history.
func (l *ConversationLog) ImportJSON(data []byte) error {
	var exported []exportedMessage
	if err := json.Unmarshal(data, &exported); err != nil {
		return fmt.Errorf("parsing conversation export: %w", err)
	}

	msgs := lo.Map(exported, func(e exportedMessage, _ int) Message {
		id := e.ID
		if id == "" {
			id = uuid.NewString()
		}
		return Message{
			ID:            id,
			Role:          e.Role,
			Text:          e.Text,
			Timestamp:     e.Timestamp,
			BatchTexts:    e.BatchTexts,
			SelectedIndex: e.SelectedIndex,
			Edited:        e.Edited,
			EditedAt:      e.EditedAt,
		}
	})

	l.mu.Lock()
	defer l.mu.Unlock()

	l.messages = msgs
	l.trimLocked()
	return nil
}

func (l *ConversationLog) trimLocked() {
	if l.maxLen > 0 && len(l.messages) > l.maxLen {
		l.messages = l.messages[len(l.messages)-l.maxLen:]
	}
}
