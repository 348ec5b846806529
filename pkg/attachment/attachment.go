package attachment

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"onionchat/internal/security"
	"onionchat/pkg/constants"
)

// Config limits outgoing attachments.
type Config struct {
	MaxSizeBytes int64
	AllowedTypes []string // extensions without the dot
	MaxDimension int
}

// DefaultConfig mirrors the daemon's own limits.
func DefaultConfig() Config {
	return Config{
		MaxSizeBytes: constants.DefaultMaxAttachmentSizeKB * constants.BytesPerKilobyte,
		AllowedTypes: constants.DefaultImageTypes,
		MaxDimension: constants.MaxImageDimensionPx,
	}
}

// Info describes a validated attachment.
type Info struct {
	Path     string
	Name     string
	Size     int64
	MimeType string
	Width    int
	Height   int
}

// Validator checks local files before they are handed to the daemon.
type Validator struct {
	config Config
}

func NewValidator(config Config) *Validator {
	def := DefaultConfig()
	if config.MaxSizeBytes <= 0 {
		config.MaxSizeBytes = def.MaxSizeBytes
	}
	if len(config.AllowedTypes) == 0 {
		config.AllowedTypes = def.AllowedTypes
	}
	if config.MaxDimension <= 0 {
		config.MaxDimension = def.MaxDimension
	}
	return &Validator{config: config}
}

// Validate checks path names an allowed image within the size and
// dimension limits.
func (v *Validator) Validate(path string) (*Info, error) {
	size, err := security.ValidateRegularFile(path)
	if err != nil {
		return nil, fmt.Errorf("invalid attachment path: %w", err)
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(path), "."))
	if !v.allowed(ext) {
		return nil, fmt.Errorf("file type .%s is not allowed", ext)
	}

	if size == 0 {
		return nil, fmt.Errorf("attachment is empty")
	}
	if size > v.config.MaxSizeBytes {
		return nil, fmt.Errorf("attachment too large: %d > %d bytes", size, v.config.MaxSizeBytes)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open attachment: %w", err)
	}
	defer file.Close()

	head := make([]byte, constants.MimeDetectionBufferSize)
	n, err := io.ReadFull(file, head)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, fmt.Errorf("failed to read attachment: %w", err)
	}
	head = head[:n]

	mimeType := http.DetectContentType(head)
	if !strings.HasPrefix(mimeType, "image/") {
		return nil, fmt.Errorf("attachment is not an image (detected %s)", mimeType)
	}

	info := &Info{
		Path:     path,
		Name:     filepath.Base(path),
		Size:     size,
		MimeType: mimeType,
	}

	if _, err := file.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("failed to rewind attachment: %w", err)
	}
	// Formats without a registered decoder (webp) skip the dimension check.
	if cfg, _, err := image.DecodeConfig(file); err == nil {
		if cfg.Width > v.config.MaxDimension || cfg.Height > v.config.MaxDimension {
			return nil, fmt.Errorf("image dimensions %dx%d exceed %dpx", cfg.Width, cfg.Height, v.config.MaxDimension)
		}
		info.Width, info.Height = cfg.Width, cfg.Height
	}

	return info, nil
}

func (v *Validator) allowed(ext string) bool {
	for _, t := range v.config.AllowedTypes {
		if strings.EqualFold(strings.TrimPrefix(t, "."), ext) {
			return true
		}
	}
	return false
}

// DetectImage returns the MIME type of inline image bytes, or an error when
// the data is not a recognised image.
func DetectImage(data []byte) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("image data is empty")
	}
	head := data
	if len(head) > constants.MimeDetectionBufferSize {
		head = head[:constants.MimeDetectionBufferSize]
	}
	mimeType := http.DetectContentType(head)
	if !strings.HasPrefix(mimeType, "image/") {
		return "", fmt.Errorf("data is not an image (detected %s)", mimeType)
	}
	if _, _, err := image.DecodeConfig(bytes.NewReader(data)); err != nil && mimeType != "image/webp" {
		return "", fmt.Errorf("corrupt %s data: %w", mimeType, err)
	}
	return mimeType, nil
}
