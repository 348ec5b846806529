package models

import (
	"fmt"
	"strconv"

	"onionchat/pkg/attachment"

	"github.com/bytedance/sonic"
)

// BodyType is the discriminator of a message body envelope.
type BodyType string

const (
	BodyText  BodyType = "Text"
	BodyImage BodyType = "Image"
	BodyError BodyType = "Error"
)

// ByteArray holds raw bytes that travel as a JSON array of numbers.
type ByteArray []byte

// MarshalJSON encodes the bytes as an array of integers.
func (b ByteArray) MarshalJSON() ([]byte, error) {
	out := make([]byte, 0, len(b)*4+2)
	out = append(out, '[')
	for i, v := range b {
		if i > 0 {
			out = append(out, ',')
		}
		out = strconv.AppendUint(out, uint64(v), 10)
	}
	return append(out, ']'), nil
}

// UnmarshalJSON accepts an array of integers in [0,255] or a base64 string.
func (b *ByteArray) UnmarshalJSON(data []byte) error {
	if len(data) > 0 && data[0] == '"' {
		var raw []byte
		if err := sonic.Unmarshal(data, &raw); err != nil {
			return err
		}
		*b = raw
		return nil
	}

	var ints []int
	if err := sonic.Unmarshal(data, &ints); err != nil {
		return err
	}
	out := make([]byte, len(ints))
	for i, v := range ints {
		if v < 0 || v > 255 {
			return fmt.Errorf("byte value %d out of range at index %d", v, i)
		}
		out[i] = byte(v)
	}
	*b = out
	return nil
}

type bodyEnvelope struct {
	Type    BodyType    `json:"type"`
	Content bodyContent `json:"content"`
}

type bodyContent struct {
	Text    string    `json:"text,omitempty"`
	Data    ByteArray `json:"data,omitempty"`
	Message string    `json:"message,omitempty"`
}

// Content is a decoded message body.
type Content struct {
	Type         BodyType
	Text         string
	Image        []byte
	MimeType     string
	ErrorMessage string

	// Undecodable is set when the envelope could not be parsed. DecodeErr
	// carries the reason.
	Undecodable bool
	DecodeErr   error
}

// DecodeBody parses a message body envelope. It never fails: an unreadable
// body yields an Error content flagged as undecodable so the failure stays
// local to that one message.
func DecodeBody(body string) Content {
	var env bodyEnvelope
	if err := sonic.UnmarshalString(body, &env); err != nil {
		return undecodable(fmt.Errorf("invalid body envelope: %w", err))
	}

	switch env.Type {
	case BodyText:
		return Content{Type: BodyText, Text: env.Content.Text}
	case BodyImage:
		mimeType, err := attachment.DetectImage(env.Content.Data)
		if err != nil {
			return undecodable(fmt.Errorf("invalid image body: %w", err))
		}
		return Content{Type: BodyImage, Image: []byte(env.Content.Data), MimeType: mimeType}
	case BodyError:
		return Content{Type: BodyError, ErrorMessage: env.Content.Message}
	default:
		return undecodable(fmt.Errorf("unknown body type %q", env.Type))
	}
}

func undecodable(err error) Content {
	return Content{Type: BodyError, Undecodable: true, DecodeErr: err}
}

// NewTextBody encodes text as a Text envelope.
func NewTextBody(text string) string {
	out, _ := sonic.MarshalString(bodyEnvelope{Type: BodyText, Content: bodyContent{Text: text}})
	return out
}

// NewImageBody encodes raw image bytes as an Image envelope.
func NewImageBody(data []byte) string {
	out, _ := sonic.MarshalString(bodyEnvelope{Type: BodyImage, Content: bodyContent{Data: ByteArray(data)}})
	return out
}

// NewErrorBody encodes an Error envelope.
func NewErrorBody(message string) string {
	out, _ := sonic.MarshalString(bodyEnvelope{Type: BodyError, Content: bodyContent{Message: message}})
	return out
}
