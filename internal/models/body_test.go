package models

import (
	"bytes"
	"image"
	"image/jpeg"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 4)), nil))
	return buf.Bytes()
}

func TestDecodeBody_Text(t *testing.T) {
	c := DecodeBody(`{"type":"Text","content":{"text":"hello"}}`)

	assert.Equal(t, BodyText, c.Type)
	assert.Equal(t, "hello", c.Text)
	assert.False(t, c.Undecodable)
}

func TestDecodeBody_ImageFromByteArray(t *testing.T) {
	data := jpegBytes(t)
	body := NewImageBody(data)
	assert.Contains(t, body, `"data":[255,216,`)

	c := DecodeBody(body)

	require.False(t, c.Undecodable, "%v", c.DecodeErr)
	assert.Equal(t, BodyImage, c.Type)
	assert.Equal(t, "image/jpeg", c.MimeType)
	assert.Equal(t, data, c.Image)
}

func TestDecodeBody_Error(t *testing.T) {
	c := DecodeBody(`{"type":"Error","content":{"message":"Could not verify signature"}}`)

	assert.Equal(t, BodyError, c.Type)
	assert.Equal(t, "Could not verify signature", c.ErrorMessage)
	assert.False(t, c.Undecodable)
}

func TestDecodeBody_Undecodable(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", "plain text"},
		{"unknown type", `{"type":"Video","content":{}}`},
		{"image without data", `{"type":"Image","content":{}}`},
		{"image with garbage", `{"type":"Image","content":{"data":[1,2,3,4]}}`},
		{"byte out of range", `{"type":"Image","content":{"data":[256]}}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DecodeBody(tt.body)
			assert.True(t, c.Undecodable)
			assert.Equal(t, BodyError, c.Type)
			assert.Error(t, c.DecodeErr)
		})
	}
}

func TestByteArray_AcceptsBase64(t *testing.T) {
	var b ByteArray
	require.NoError(t, b.UnmarshalJSON([]byte(`"AQID"`)))
	assert.Equal(t, ByteArray{1, 2, 3}, b)
}

func TestNewTextBody(t *testing.T) {
	body := NewTextBody(`say "hi"`)

	c := DecodeBody(body)
	assert.Equal(t, BodyText, c.Type)
	assert.Equal(t, `say "hi"`, c.Text)
}
