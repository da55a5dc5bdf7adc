package music

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/ent0n29/tunesmith/internal/artifacts"
)

// MockGateway writes placeholder audio files so the full flow works without a backend.
// Ids are random so they stay unique across restarts sharing one artifacts dir.
type MockGateway struct {
	store *artifacts.Store
}

func NewMockGateway(store *artifacts.Store) *MockGateway {
	return &MockGateway{store: store}
}

func (g *MockGateway) Generate(ctx context.Context, params Params) ([]Variant, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	taskID := "mock-task-" + uuid.NewString()
	out := make([]Variant, 0, VariantsPerRequest)
	for i := 0; i < VariantsPerRequest; i++ {
		id := "mock-" + uuid.NewString()
		body := fmt.Sprintf("mock audio %s\nstyle=%s\nprompt=%s\n", id, params.Style, params.Prompt)
		locator, err := g.store.Save(artifacts.KindMusic, id+".mp3", strings.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrGenerationFailed, err)
		}
		out = append(out, Variant{
			ID:      id,
			TaskID:  taskID,
			Locator: locator,
			Params:  params,
		})
	}
	return out, nil
}
