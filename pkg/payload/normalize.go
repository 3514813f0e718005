package payload

import (
	"fmt"
	"math"
	"time"
)

const (
	defaultType            = "text"
	defaultLinkContentType = "link"
	buttonContentType      = "text"
)

// Payload is the normalized message emitted to a connection. Every field is
// always present on the wire except Modal, Intro, Quote, Slider and
// Attachment, which only appear when they carry content.
type Payload struct {
	Text               string       `json:"text"`
	Delay              float64      `json:"delay"`
	Type               string       `json:"type"`
	Items              []any        `json:"items"`
	Links              []LinkReply  `json:"links"`
	QuickReplies       []QuickReply `json:"quick_replies"`
	Img                string       `json:"img"`
	Video              string       `json:"video"`
	Contact            bool         `json:"contact"`
	WithGoBack         bool         `json:"withGoBack"`
	Feedback           bool         `json:"feedback"`
	AllowTyping        bool         `json:"allowTyping"`
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
	Compare            bool         `json:"compare"`
	Interval           []any        `json:"interval"`
	Subtitle           string       `json:"subtitle"`
	Modal              *Modal       `json:"modal,omitempty"`
	Intro              *Intro       `json:"intro,omitempty"`
	Quote              *Quote       `json:"quote,omitempty"`
	Slider             *Slider      `json:"slider,omitempty"`
	Attachment         *Attachment  `json:"attachment,omitempty"`
}

// Normalize fills every payload field from msg or its default. It returns
// ErrMalformed without a partial payload when msg cannot be rendered.
func Normalize(msg Message) (Payload, error) {
	if math.IsNaN(msg.Delay) || math.IsInf(msg.Delay, 0) || msg.Delay < 0 {
		return Payload{}, fmt.Errorf("%w: delay must be a non-negative number of seconds, got %v", ErrMalformed, msg.Delay)
	}

	out := Payload{
		Text:               msg.Text,
		Delay:              msg.Delay,
		Type:               msg.Type,
		Items:              cloneValues(msg.Items),
		Links:              renderLinks(msg.Links),
		QuickReplies:       renderQuickReplies(msg.Buttons, msg.QuickReplies),
		Img:                msg.Img,
		Video:              msg.Video,
		Contact:            msg.Contact,
		WithGoBack:         msg.WithGoBack,
		Feedback:           msg.Feedback,
		AllowTyping:        true,
		SphereTextContent:  msg.SphereTextContent,
		SphereImageContent: msg.SphereImageContent,
		SphereColor:        msg.SphereColor,
		BackgroundImage:    msg.BackgroundImage,
		LottieImage:        msg.LottieImage,
		DateSelection:      msg.DateSelection,
		DateInput:          msg.DateInput,
		InputContact:       msg.InputContact,
		Timer:              msg.Timer,
		SubmitForm:         msg.SubmitForm,
		Compare:            msg.Compare,
		Interval:           cloneValues(msg.Interval),
		Subtitle:           msg.Subtitle,
		Modal:              first(msg.Modal),
		Intro:              first(msg.Intro),
		Quote:              first(msg.Quote),
		Slider:             first(msg.Slider),
	}
	if out.Type == "" {
		out.Type = defaultType
	}
	if msg.AllowTyping != nil {
		out.AllowTyping = *msg.AllowTyping
	}
	if msg.Attachment != nil {
		attachment := *msg.Attachment
		out.Attachment = &attachment
	}

	return out, nil
}

// Message converts a normalized payload back into a message that normalizes
// to an identical payload.
func (p Payload) Message() Message {
	allowTyping := p.AllowTyping
	msg := Message{
		Text:               p.Text,
		Delay:              p.Delay,
		Type:               p.Type,
		Items:              cloneValues(p.Items),
		QuickReplies:       append([]QuickReply(nil), p.QuickReplies...),
		Img:                p.Img,
		Video:              p.Video,
		Contact:            p.Contact,
		WithGoBack:         p.WithGoBack,
		Feedback:           p.Feedback,
		AllowTyping:        &allowTyping,
		SphereTextContent:  p.SphereTextContent,
		SphereImageContent: p.SphereImageContent,
		SphereColor:        p.SphereColor,
		BackgroundImage:    p.BackgroundImage,
		LottieImage:        p.LottieImage,
		DateSelection:      p.DateSelection,
		DateInput:          p.DateInput,
		InputContact:       p.InputContact,
		Timer:              p.Timer,
		SubmitForm:         p.SubmitForm,
		Compare:            p.Compare,
		Interval:           cloneValues(p.Interval),
		Subtitle:           p.Subtitle,
		Modal:              single(p.Modal),
		Intro:              single(p.Intro),
		Quote:              single(p.Quote),
		Slider:             single(p.Slider),
	}
	for _, link := range p.Links {
		msg.Links = append(msg.Links, Link{
			Type:        link.ContentType,
			Title:       link.Title,
			Description: link.Description,
			Payload:     link.Payload,
		})
	}
	if p.Attachment != nil {
		attachment := *p.Attachment
		msg.Attachment = &attachment
	}

	return msg
}

// DelayDuration is the pacing pause that follows this payload.
func (p Payload) DelayDuration() time.Duration {
	return time.Duration(p.Delay * float64(time.Second))
}

func renderQuickReplies(buttons []Button, rendered []QuickReply) []QuickReply {
	replies := make([]QuickReply, 0, len(buttons)+len(rendered))
	for _, button := range buttons {
		replies = append(replies, QuickReply{
			ContentType: buttonContentType,
			Title:       button.Title,
			Payload:     button.Payload,
		})
	}
	for _, reply := range rendered {
		if reply.ContentType == "" {
			reply.ContentType = buttonContentType
		}
		replies = append(replies, reply)
	}

	return replies
}

func renderLinks(links []Link) []LinkReply {
	replies := make([]LinkReply, 0, len(links))
	for _, link := range links {
		contentType := link.Type
		if contentType == "" {
			contentType = defaultLinkContentType
		}
		replies = append(replies, LinkReply{
			ContentType: contentType,
			Title:       link.Title,
			Description: link.Description,
			Payload:     link.Payload,
		})
	}

	return replies
}

func first[T any](items List[T]) *T {
	if len(items) == 0 {
		return nil
	}

	item := items[0]
	return &item
}

func single[T any](item *T) List[T] {
	if item == nil {
		return nil
	}

	return List[T]{*item}
}

func cloneValues(values []any) []any {
	return append(make([]any, 0, len(values)), values...)
}
