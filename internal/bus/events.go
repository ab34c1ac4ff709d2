package bus

import "time"

// Media is a file attached to an inbound message, already downloaded.
type Media struct {
	FileID   string
	MimeType string
	Data     []byte
}

type InboundMessage struct {
	Channel   string
	SenderID  int64
	ChatID    int64
	Sender    string // display name
	Username  string // @handle without the @, may be empty
	Content   string
	Command   string // without the leading slash, empty for plain text
	Callback  *Callback
	Media     []Media
	Timestamp time.Time
}

// Callback is an inline button press.
type Callback struct {
	ID        string
	Data      string
	MessageID int
}

// MarkupKind selects how Buttons are presented.
type MarkupKind int

const (
	MarkupNone MarkupKind = iota
	// MarkupReply is a persistent reply keyboard; button text is sent back as a message.
	MarkupReply
	// MarkupInline attaches buttons to the message; presses arrive as callbacks.
	MarkupInline
	// MarkupRemove hides any reply keyboard.
	MarkupRemove
)

type Button struct {
	Text string
	Data string // callback data for inline buttons
}

type Markup struct {
	Kind MarkupKind
	Rows [][]Button
}

type OutboundMessage struct {
	Channel string
	ChatID  int64
	Content string
	HTML    bool
	// Photo is a local image path; Content becomes its caption.
	Photo  string
	Markup Markup
	// EditMessageID edits an earlier message instead of sending a new one.
	EditMessageID int
}

// ReplyKeyboard builds a reply keyboard from rows of captions.
func ReplyKeyboard(rows ...[]string) Markup {
	m := Markup{Kind: MarkupReply}
	for _, r := range rows {
		if len(r) == 0 {
			continue
		}
		row := make([]Button, 0, len(r))
		for _, text := range r {
			row = append(row, Button{Text: text})
		}
		m.Rows = append(m.Rows, row)
	}
	return m
}

// InlineKeyboard builds an inline keyboard from rows of buttons.
func InlineKeyboard(rows ...[]Button) Markup {
	m := Markup{Kind: MarkupInline}
	for _, r := range rows {
		if len(r) > 0 {
			m.Rows = append(m.Rows, r)
		}
	}
	return m
}

// RemoveKeyboard hides the current reply keyboard.
func RemoveKeyboard() Markup {
	return Markup{Kind: MarkupRemove}
}

// Texts returns every button caption, row by row.
func (m Markup) Texts() []string {
	var out []string
	for _, r := range m.Rows {
		for _, b := range r {
			out = append(out, b.Text)
		}
	}
	return out
}
