package runner

import (
	"context"
	"errors"
	"testing"

	"github.com/dialogforge/dialogforge/pkg/memory"
	"github.com/dialogforge/dialogforge/pkg/model"
	"github.com/dialogforge/dialogforge/pkg/render"
	"github.com/dialogforge/dialogforge/pkg/session"
)

type stubClient struct{}

func (stubClient) StartSession(context.Context, string) (*session.Info, error) {
	return &session.Info{SessionID: "sess-1"}, nil
}
func (stubClient) EndSession(context.Context, string, string) error { return nil }
func (stubClient) Extract(context.Context, string, string, string) ([]model.LabeledEntity, error) {
	return nil, nil
}
func (stubClient) Score(context.Context, string, string, model.ScorerInput) (*session.Score, error) {
	return nil, errors.New("not scored")
}
func (stubClient) GetApp(context.Context, string) (*model.AppDefinition, error) {
	return nil, errors.New("no app")
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	loader := model.NewLoader(t.TempDir())
	return NewRegistry(stubClient{}, memory.NewMapStore(), loader)
}

func TestRegistryFirstModelIsDefault(t *testing.T) {
	r := newTestRegistry(t)
	opts := Options{Templates: render.NewFileProvider("")}

	r.Add("model-a", opts)
	r.Add("model-b", opts)

	def := r.Default()
	if def == nil || def.ModelID != "model-a" {
		t.Fatalf("default = %+v, want model-a", def)
	}

	// Re-adding the default keeps its slot.
	r.Add("model-a", opts)
	if def := r.Default(); def.ModelID != "model-a" {
		t.Errorf("default after re-add = %q", def.ModelID)
	}

	if _, ok := r.Get("model-b"); !ok {
		t.Error("model-b not registered")
	}
	if len(r.ModelIDs()) != 2 {
		t.Errorf("model ids = %v", r.ModelIDs())
	}
}

func TestRegistryEmptyDefault(t *testing.T) {
	r := newTestRegistry(t)
	if r.Default() != nil {
		t.Error("empty registry should have no default")
	}
	if _, err := r.Route(t.Context(), "conv-1"); err == nil {
		t.Error("routing with no models should fail")
	}
}

func TestRegistryRouteFallsBackToDefault(t *testing.T) {
	r := newTestRegistry(t)
	opts := Options{Templates: render.NewFileProvider("")}
	r.Add("model-a", opts)

	// No switch recorded: the default handles the conversation.
	runner, err := r.Route(t.Context(), "conv-1")
	if err != nil {
		t.Fatalf("Route: %v", err)
	}
	if runner.ModelID != "model-a" {
		t.Errorf("routed to %q, want model-a", runner.ModelID)
	}
}
