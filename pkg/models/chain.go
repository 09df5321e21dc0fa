package models

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// ElementType identifies a message chain element variant.
type ElementType string

const (
	ElementText    ElementType = "text"
	ElementAt      ElementType = "at"
	ElementAtAll   ElementType = "at_all"
	ElementImage   ElementType = "image"
	ElementVoice   ElementType = "voice"
	ElementFile    ElementType = "file"
	ElementQuote   ElementType = "quote"
	ElementForward ElementType = "forward"
	ElementFace    ElementType = "face"
	ElementSource  ElementType = "source"
	ElementUnknown ElementType = "unknown"
)

// Element is one part of a message chain. Adapters build chains from
// platform payloads; the core only ever inspects them through this interface.
type Element interface {
	Type() ElementType
}

// Text is a plain text segment.
type Text struct {
	Text string `json:"text"`
}

func (Text) Type() ElementType { return ElementText }

// At mentions a specific user.
type At struct {
	Target string `json:"target"`
}

func (At) Type() ElementType { return ElementAt }

// AtAll mentions everyone in a group.
type AtAll struct{}

func (AtAll) Type() ElementType { return ElementAtAll }

// Image carries exactly one of URL, Base64 or Path.
type Image struct {
	URL    string `json:"url,omitempty"`
	Base64 string `json:"base64,omitempty"`
	Path   string `json:"path,omitempty"`
}

func (Image) Type() ElementType { return ElementImage }

// Voice is an audio clip.
type Voice struct {
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
}

func (Voice) Type() ElementType { return ElementVoice }

// File is an attached file.
type File struct {
	Name string `json:"name"`
	URL  string `json:"url,omitempty"`
	Path string `json:"path,omitempty"`
	Size int64  `json:"size,omitempty"`
}

func (File) Type() ElementType { return ElementFile }

// Quote references a prior message and carries its original chain.
type Quote struct {
	MessageID string       `json:"message_id"`
	SenderID  string       `json:"sender_id,omitempty"`
	Origin    MessageChain `json:"origin,omitempty"`
}

func (Quote) Type() ElementType { return ElementQuote }

// ForwardNode is a single entry of a forwarded transcript.
type ForwardNode struct {
	SenderID   string       `json:"sender_id"`
	SenderName string       `json:"sender_name"`
	Chain      MessageChain `json:"chain"`
}

// Forward is a forwarded-message bundle.
type Forward struct {
	Nodes []ForwardNode `json:"nodes"`
}

func (Forward) Type() ElementType { return ElementForward }

// Face is a platform emoji/sticker.
type Face struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

func (Face) Type() ElementType { return ElementFace }

// Source marks the originating message. Adapters must place it first in any
// inbound chain so later stages can address the original message.
type Source struct {
	MessageID string    `json:"message_id"`
	Time      time.Time `json:"time"`
}

func (Source) Type() ElementType { return ElementSource }

// Unknown preserves a platform part the core cannot interpret.
type Unknown struct {
	Raw json.RawMessage `json:"raw"`
}

func (Unknown) Type() ElementType { return ElementUnknown }

// MessageChain is an ordered sequence of message elements. Chains are
// treated as immutable once assembled; stages build new chains instead of
// editing one in place.
type MessageChain []Element

// PlainText concatenates all text segments in order.
func (c MessageChain) PlainText() string {
	var b strings.Builder
	for _, el := range c {
		if t, ok := el.(Text); ok {
			b.WriteString(t.Text)
		}
	}
	return b.String()
}

// Source returns the chain's source marker, if present.
func (c MessageChain) Source() (Source, bool) {
	for _, el := range c {
		if s, ok := el.(Source); ok {
			return s, true
		}
	}
	return Source{}, false
}

// IsPlain reports whether the chain contains only text segments
// (source markers are ignored).
func (c MessageChain) IsPlain() bool {
	for _, el := range c {
		switch el.(type) {
		case Text, Source:
		default:
			return false
		}
	}
	return true
}

type elementEnvelope struct {
	Type ElementType     `json:"type"`
	Data json.RawMessage `json:"data"`
}

// MarshalJSON encodes the chain as a list of {type, data} envelopes.
func (c MessageChain) MarshalJSON() ([]byte, error) {
	out := make([]elementEnvelope, 0, len(c))
	for _, el := range c {
		data, err := json.Marshal(el)
		if err != nil {
			return nil, err
		}
		out = append(out, elementEnvelope{Type: el.Type(), Data: data})
	}
	return json.Marshal(out)
}

// UnmarshalJSON decodes a list of {type, data} envelopes. Unrecognized
// types decode as Unknown so adapters can round-trip parts the core does
// not understand.
func (c *MessageChain) UnmarshalJSON(data []byte) error {
	var envelopes []elementEnvelope
	if err := json.Unmarshal(data, &envelopes); err != nil {
		return err
	}
	chain := make(MessageChain, 0, len(envelopes))
	for _, env := range envelopes {
		el, err := decodeElement(env)
		if err != nil {
			return err
		}
		chain = append(chain, el)
	}
	*c = chain
	return nil
}

func decodeElement(env elementEnvelope) (Element, error) {
	decode := func(v Element) (Element, error) {
		if len(env.Data) == 0 {
			return v, nil
		}
		if err := json.Unmarshal(env.Data, v); err != nil {
			return nil, fmt.Errorf("decode %s element: %w", env.Type, err)
		}
		return v, nil
	}
	switch env.Type {
	case ElementText:
		el, err := decode(&Text{})
		if err != nil {
			return nil, err
		}
		return *el.(*Text), nil
	case ElementAt:
		el, err := decode(&At{})
		if err != nil {
			return nil, err
		}
		return *el.(*At), nil
	case ElementAtAll:
		return AtAll{}, nil
	case ElementImage:
		el, err := decode(&Image{})
		if err != nil {
			return nil, err
		}
		return *el.(*Image), nil
	case ElementVoice:
		el, err := decode(&Voice{})
		if err != nil {
			return nil, err
		}
		return *el.(*Voice), nil
	case ElementFile:
		el, err := decode(&File{})
		if err != nil {
			return nil, err
		}
		return *el.(*File), nil
	case ElementQuote:
		el, err := decode(&Quote{})
		if err != nil {
			return nil, err
		}
		return *el.(*Quote), nil
	case ElementForward:
		el, err := decode(&Forward{})
		if err != nil {
			return nil, err
		}
		return *el.(*Forward), nil
	case ElementFace:
		el, err := decode(&Face{})
		if err != nil {
			return nil, err
		}
		return *el.(*Face), nil
	case ElementSource:
		el, err := decode(&Source{})
		if err != nil {
			return nil, err
		}
		return *el.(*Source), nil
	default:
		return Unknown{Raw: env.Data}, nil
	}
}
