package cover

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"

	"github.com/ent0n29/tunesmith/internal/artifacts"
)

// MockGateway renders a flat-colour PNG whose colour depends on the prompt.
type MockGateway struct {
	store *artifacts.Store
	seq   atomic.Int64
}

func NewMockGateway(store *artifacts.Store) *MockGateway {
	return &MockGateway{store: store}
}

func (g *MockGateway) Generate(ctx context.Context, stylePrompt string) (Image, error) {
	select {
	case <-ctx.Done():
		return Image{}, ctx.Err()
	default:
	}

	var sum byte
	for i := 0; i < len(stylePrompt); i++ {
		sum += stylePrompt[i]
	}
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	fill := color.RGBA{R: sum, G: 255 - sum, B: 128, A: 255}
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.Set(x, y, fill)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	name := fmt.Sprintf("mock-cover-%d.png", g.seq.Add(1))
	locator, err := g.store.Save(artifacts.KindImage, name, &buf)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
	}
	return Image{Locator: locator, MIMEType: "image/png"}, nil
}
