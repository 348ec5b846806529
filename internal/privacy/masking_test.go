package privacy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMaskOnionID(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"", ""},
		{"abcdefghijkl", "abcd****ijkl"},
		{"abcdefghijkl.onion", "abcd****ijkl.onion"},
		{"abcdefgh", "********"},
		{"abc.onion", "***.onion"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, MaskOnionID(tt.input), tt.input)
	}
}

func TestMaskText(t *testing.T) {
	assert.Equal(t, "", MaskText(""))
	assert.Equal(t, "[5 chars]", MaskText("hello"))
	assert.Equal(t, "[3 chars]", MaskText("héé"))
	assert.Equal(t, "[12 chars]", MaskText("hello, world"))
}

func TestMaskPath(t *testing.T) {
	assert.Equal(t, "", MaskPath(""))
	assert.Equal(t, ".../cat.jpg", MaskPath("/home/user/Pictures/cat.jpg"))
	assert.Equal(t, "cat.jpg", MaskPath("cat.jpg"))
}

func TestMaskSensitiveFields(t *testing.T) {
	assert.Nil(t, MaskSensitiveFields(nil))

	masked := MaskSensitiveFields(map[string]interface{}{
		"contact":    "abcdefghijkl.onion",
		"text":       "secret",
		"path":       "/tmp/a/b.png",
		"auth_token": "tok",
		"batch":      2,
		"other":      "kept",
	})

	assert.Equal(t, "abcd****ijkl.onion", masked["contact"])
	assert.Equal(t, "[6 chars]", masked["text"])
	assert.Equal(t, ".../b.png", masked["path"])
	assert.Equal(t, "***", masked["auth_token"])
	assert.Equal(t, 2, masked["batch"])
	assert.Equal(t, "kept", masked["other"])
}
