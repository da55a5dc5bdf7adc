package video

import (
	"context"
	"fmt"
	"strings"

	"github.com/ent0n29/tunesmith/internal/artifacts"
)

// MockCompositor writes a placeholder file referencing its inputs.
type MockCompositor struct {
	store *artifacts.Store
}

func NewMockCompositor(store *artifacts.Store) *MockCompositor {
	return &MockCompositor{store: store}
}

func (c *MockCompositor) Combine(ctx context.Context, audioLocator, imageLocator string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}
	if !c.store.Exists(audioLocator) || !c.store.Exists(imageLocator) {
		return "", fmt.Errorf("%w: missing input artifact", ErrCompositionFailed)
	}
	body := fmt.Sprintf("mock video\naudio=%s\nimage=%s\n", audioLocator, imageLocator)
	locator, err := c.store.Save(artifacts.KindVideo, OutputName(audioLocator), strings.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCompositionFailed, err)
	}
	return locator, nil
}
