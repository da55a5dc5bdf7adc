// Package cover produces album cover images from a style prompt.
package cover

import (
	"context"
	"errors"
	"strings"
)

// ErrGenerationFailed wraps every failure of an image generation request.
var ErrGenerationFailed = errors.New("cover generation failed")

// Image is a generated cover stored in the artifact store.
type Image struct {
	Locator  string `json:"locator"`
	MIMEType string `json:"mime_type"`
}

// Gateway turns a style prompt into a stored image or fails with ErrGenerationFailed.
type Gateway interface {
	Generate(ctx context.Context, stylePrompt string) (Image, error)
}

// StylePrompt builds the image prompt from the selected track's style, title and the user's description.
func StylePrompt(style, title, description string) string {
	var b strings.Builder
	b.WriteString("Create a minimalist album cover art.")
	if s := strings.TrimSpace(style); s != "" {
		b.WriteString(" Music style: " + s + ".")
	}
	if t := strings.TrimSpace(title); t != "" {
		b.WriteString(" Title inspiration: " + t + ".")
	}
	if d := strings.TrimSpace(description); d != "" {
		b.WriteString(" Description: " + strings.TrimRight(d, ".") + ".")
	}
	b.WriteString(" No text on the image. Clean, professional, visually striking.")
	return b.String()
}
