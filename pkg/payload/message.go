// Package payload turns sparse outbound messages into the complete,
// schema-stable payloads the socket client renders.
package payload

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks an outbound message that cannot be normalized.
var ErrMalformed = errors.New("malformed outbound message")

// Message is the sparse outbound message a processor builds. Zero values map
// to the documented payload defaults; AllowTyping is a pointer because its
// default is true.
type Message struct {
	Text               string       `json:"text"`
	Delay              float64      `json:"delay"`
	Type               string       `json:"type"`
	Items              []any        `json:"items"`
	Links              []Link       `json:"links"`
	Buttons            []Button     `json:"buttons"`
	QuickReplies       []QuickReply `json:"quick_replies"`
	Img                string       `json:"img"`
	Video              string       `json:"video"`
	Contact            bool         `json:"contact"`
	WithGoBack         bool         `json:"withGoBack"`
	Feedback           bool         `json:"feedback"`
	AllowTyping        *bool        `json:"allowTyping"`
	SphereTextContent  string       `json:"sphereTextContent"`
	SphereImageContent string       `json:"sphereImageContent"`
	SphereColor        string       `json:"sphereColor"`
	BackgroundImage    string       `json:"backgroundImage"`
	LottieImage        string       `json:"lottieImage"`
	DateSelection      bool         `json:"dateSelection"`
	DateInput          string       `json:"dateInput"`
	InputContact       string       `json:"inputContact"`
	Timer              string       `json:"timer"`
	SubmitForm         bool         `json:"submitForm"`
	Quote              List[Quote]  `json:"quote"`
	Compare            bool         `json:"compare"`
	Modal              List[Modal]  `json:"modal"`
	Slider             List[Slider] `json:"slider"`
	Interval           []any        `json:"interval"`
	Intro              List[Intro]  `json:"intro"`
	Subtitle           string       `json:"subtitle"`
	Attachment         *Attachment  `json:"attachment"`
}

// Button is a quick-reply source entry.
type Button struct {
	Title   string `json:"title"`
	Payload string `json:"payload"`
}

func (b *Button) UnmarshalJSON(data []byte) error {
	type plain Button
	return decodeRequired(data, (*plain)(b), "button", "title", "payload")
}

// QuickReply is a rendered button.
type QuickReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Payload     string `json:"payload"`
}

func (q *QuickReply) UnmarshalJSON(data []byte) error {
	type plain QuickReply
	return decodeRequired(data, (*plain)(q), "quick reply", "title", "payload")
}

// Link is an outbound link entry. Type falls back to "link".
type Link struct {
	Type        string `json:"type,omitempty"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Payload     string `json:"payload"`
}

// UnmarshalJSON accepts content_type as an alias of type so rendered links
// decode back into the same entry.
func (l *Link) UnmarshalJSON(data []byte) error {
	var raw struct {
		Type        string `json:"type"`
		ContentType string `json:"content_type"`
		Title       string `json:"title"`
		Description string `json:"description"`
		Payload     string `json:"payload"`
	}
	if err := decodeRequired(data, &raw, "link", "title", "payload"); err != nil {
		return err
	}

	l.Type = raw.Type
	if l.Type == "" {
		l.Type = raw.ContentType
	}
	l.Title = raw.Title
	l.Description = raw.Description
	l.Payload = raw.Payload
	return nil
}

// LinkReply is a rendered link.
type LinkReply struct {
	ContentType string `json:"content_type"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Payload     string `json:"payload"`
}

type Modal struct {
	Title    string `json:"title"`
	Img      string `json:"img"`
	Subtitle string `json:"subtitle"`
}

func (m *Modal) UnmarshalJSON(data []byte) error {
	type plain Modal
	return decodeRequired(data, (*plain)(m), "modal", "title", "img", "subtitle")
}

type Intro struct {
	Text     string `json:"text"`
	Img      string `json:"img"`
	Subtitle string `json:"subtitle"`
}

func (i *Intro) UnmarshalJSON(data []byte) error {
	type plain Intro
	return decodeRequired(data, (*plain)(i), "intro", "text", "img", "subtitle")
}

type Quote struct {
	QuoteText  string `json:"quotetext"`
	QuoteImage string `json:"quoteimage"`
	Author     string `json:"author"`
	Subtitle   string `json:"subtitle"`
}

func (q *Quote) UnmarshalJSON(data []byte) error {
	type plain Quote
	return decodeRequired(data, (*plain)(q), "quote", "quotetext", "quoteimage", "author", "subtitle")
}

// Slider values pass through as sent. Only the keys are required.
type Slider struct {
	Min         any `json:"min"`
	Max         any `json:"max"`
	Interval    any `json:"interval"`
	Unit        any `json:"unit"`
	Mode        any `json:"mode"`
	Solution    any `json:"solution"`
	SolutionMin any `json:"solution_min"`
	SolutionMax any `json:"solution_max"`
}

func (s *Slider) UnmarshalJSON(data []byte) error {
	type plain Slider
	return decodeRequired(data, (*plain)(s), "slider",
		"min", "max", "interval", "unit", "mode", "solution", "solution_min", "solution_max")
}

// Attachment carries media or template content.
type Attachment struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

// List is an optional projection. Only the first element is rendered. On the
// wire it may arrive as an array, a single object, an empty object, or null.
type List[T any] []T

func (l *List[T]) UnmarshalJSON(data []byte) error {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*l = nil
		return nil
	}

	switch trimmed[0] {
	case '[':
		var items []T
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return err
		}
		*l = items
	case '{':
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(trimmed, &probe); err != nil {
			return err
		}
		if len(probe) == 0 {
			*l = nil
			return nil
		}
		var item T
		if err := json.Unmarshal(trimmed, &item); err != nil {
			return err
		}
		*l = List[T]{item}
	default:
		return fmt.Errorf("%w: expected list or object, got %s", ErrMalformed, previewJSON(trimmed))
	}

	return nil
}

// Decode parses a wire message, checking that nested entries carry their
// required keys.
func Decode(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		if errors.Is(err, ErrMalformed) {
			return Message{}, fmt.Errorf("decode message: %w", err)
		}
		return Message{}, fmt.Errorf("%w: decode message: %v", ErrMalformed, err)
	}

	return msg, nil
}

func decodeRequired(data []byte, into any, kind string, keys ...string) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}
	for _, key := range keys {
		if _, ok := fields[key]; !ok {
			return fmt.Errorf("%w: %s missing %q", ErrMalformed, kind, key)
		}
	}

	if err := json.Unmarshal(data, into); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, kind, err)
	}

	return nil
}

func previewJSON(data []byte) string {
	const limit = 32
	if len(data) <= limit {
		return string(data)
	}

	return string(data[:limit]) + "..."
}
