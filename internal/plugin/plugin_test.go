package plugin_test

import (
	"context"
	"errors"
	"testing"

	"github.com/voiceforge/voiceforge/internal/plugin"
	"github.com/voiceforge/voiceforge/pkg/contracts"
	"github.com/voiceforge/voiceforge/pkg/models"
)

// fakePlugin counts lifecycle calls so tests can assert load/cleanup behavior.
type fakePlugin struct {
	name     string
	loadOK   bool
	loads    int
	cleanups int
	loaded   bool
}

func (f *fakePlugin) Name() string { return f.name }
func (f *fakePlugin) Load(ctx context.Context, cfg map[string]interface{}) bool {
	f.loads++
	f.loaded = f.loadOK
	return f.loadOK
}
func (f *fakePlugin) Loaded() bool { return f.loaded }
func (f *fakePlugin) Cleanup()     { f.cleanups++; f.loaded = false }

func factoryFor(p *fakePlugin) contracts.Factory {
	return func(cfg map[string]interface{}) contracts.Plugin { return p }
}

func TestRegisterAndGet(t *testing.T) {
	r := plugin.NewRegistry()
	p := &fakePlugin{name: "sv", loadOK: true}

	if err := r.Register(models.CapabilityASR, "sv", factoryFor(p)); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	f, err := r.Get(models.CapabilityASR, "sv")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := f(nil).Name(); got != "sv" {
		t.Errorf("factory().Name() = %q, want %q", got, "sv")
	}
}

func TestRegisterUnknownCapability(t *testing.T) {
	r := plugin.NewRegistry()
	err := r.Register(models.Capability("video"), "x", factoryFor(&fakePlugin{}))

	var unknownErr *plugin.UnknownCapabilityError
	if !errors.As(err, &unknownErr) {
		t.Fatalf("Register() error = %v, want *UnknownCapabilityError", err)
	}
}

func TestRegisterOverwrites(t *testing.T) {
	r := plugin.NewRegistry()
	first := &fakePlugin{name: "first"}
	second := &fakePlugin{name: "second"}

	r.Register(models.CapabilityTTS, "voice", factoryFor(first))
	r.Register(models.CapabilityTTS, "voice", factoryFor(second))

	f, err := r.Get(models.CapabilityTTS, "voice")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got := f(nil).Name(); got != "second" {
		t.Errorf("factory().Name() = %q, want %q (last registration wins)", got, "second")
	}
}

func TestGetNotRegistered(t *testing.T) {
	r := plugin.NewRegistry()
	_, err := r.Get(models.CapabilityLLM, "ghost")

	var notReg *plugin.NotRegisteredError
	if !errors.As(err, &notReg) {
		t.Fatalf("Get() error = %v, want *NotRegisteredError", err)
	}
}

func TestListNames(t *testing.T) {
	r := plugin.NewRegistry()
	r.Register(models.CapabilityASR, "sv", factoryFor(&fakePlugin{}))
	r.Register(models.CapabilityTTS, "cv", factoryFor(&fakePlugin{}))

	names := r.ListNames()
	if len(names) != 3 {
		t.Errorf("len(ListNames()) = %d, want all 3 capabilities", len(names))
	}
	if len(names[models.CapabilityASR]) != 1 || names[models.CapabilityASR][0] != "sv" {
		t.Errorf("ListNames()[asr] = %v, want [sv]", names[models.CapabilityASR])
	}
	if len(names[models.CapabilityLLM]) != 0 {
		t.Errorf("ListNames()[llm] = %v, want empty", names[models.CapabilityLLM])
	}

	// Filtered form lists only the requested capability.
	filtered := r.ListNames(models.CapabilityTTS)
	if len(filtered) != 1 {
		t.Fatalf("len(ListNames(tts)) = %d, want 1", len(filtered))
	}
	if got := filtered[models.CapabilityTTS]; len(got) != 1 || got[0] != "cv" {
		t.Errorf("ListNames(tts) = %v, want [cv]", got)
	}
	if got := r.ListNames(models.Capability("video")); len(got) != 0 {
		t.Errorf("ListNames(unknown) = %v, want empty map", got)
	}
}

func TestGetOrLoadIsIdempotent(t *testing.T) {
	r := plugin.NewRegistry()
	c := plugin.NewCache(r)
	p := &fakePlugin{name: "sv", loadOK: true}
	r.Register(models.CapabilityASR, "sv", factoryFor(p))

	ctx := context.Background()
	first, err := c.GetOrLoad(ctx, models.CapabilityASR, "sv", nil)
	if err != nil {
		t.Fatalf("GetOrLoad() error = %v", err)
	}
	second, err := c.GetOrLoad(ctx, models.CapabilityASR, "sv", nil)
	if err != nil {
		t.Fatalf("GetOrLoad() second call error = %v", err)
	}

	if first != second {
		t.Error("GetOrLoad() returned different instances for the same key")
	}
	if p.loads != 1 {
		t.Errorf("Load called %d times, want 1", p.loads)
	}
}

func TestGetOrLoadFailureIsNotCached(t *testing.T) {
	r := plugin.NewRegistry()
	c := plugin.NewCache(r)
	p := &fakePlugin{name: "sv", loadOK: false}
	r.Register(models.CapabilityASR, "sv", factoryFor(p))

	ctx := context.Background()
	_, err := c.GetOrLoad(ctx, models.CapabilityASR, "sv", nil)
	var loadErr *plugin.LoadError
	if !errors.As(err, &loadErr) {
		t.Fatalf("GetOrLoad() error = %v, want *LoadError", err)
	}

	// Backend comes up; the next call retries and succeeds.
	p.loadOK = true
	if _, err := c.GetOrLoad(ctx, models.CapabilityASR, "sv", nil); err != nil {
		t.Fatalf("GetOrLoad() after recovery error = %v", err)
	}
	if p.loads != 2 {
		t.Errorf("Load called %d times, want 2", p.loads)
	}
}

func TestUnloadCallsCleanup(t *testing.T) {
	r := plugin.NewRegistry()
	c := plugin.NewCache(r)
	p := &fakePlugin{name: "cv", loadOK: true}
	r.Register(models.CapabilityTTS, "cv", factoryFor(p))

	ctx := context.Background()
	if _, err := c.GetOrLoad(ctx, models.CapabilityTTS, "cv", nil); err != nil {
		t.Fatalf("GetOrLoad() error = %v", err)
	}

	c.Unload(models.CapabilityTTS, "cv")
	if p.cleanups != 1 {
		t.Errorf("Cleanup called %d times, want 1", p.cleanups)
	}
	if _, err := c.Get(models.CapabilityTTS, "cv"); err == nil {
		t.Error("Get() after Unload succeeded, want error")
	}

	// Unloading again is a no-op.
	c.Unload(models.CapabilityTTS, "cv")
	if p.cleanups != 1 {
		t.Errorf("Cleanup called %d times after double unload, want 1", p.cleanups)
	}
}

func TestUnloadAll(t *testing.T) {
	r := plugin.NewRegistry()
	c := plugin.NewCache(r)
	a := &fakePlugin{name: "sv", loadOK: true}
	b := &fakePlugin{name: "cv", loadOK: true}
	r.Register(models.CapabilityASR, "sv", factoryFor(a))
	r.Register(models.CapabilityTTS, "cv", factoryFor(b))

	ctx := context.Background()
	c.GetOrLoad(ctx, models.CapabilityASR, "sv", nil)
	c.GetOrLoad(ctx, models.CapabilityTTS, "cv", nil)

	c.UnloadAll()
	if a.cleanups != 1 || b.cleanups != 1 {
		t.Errorf("cleanups = (%d, %d), want (1, 1)", a.cleanups, b.cleanups)
	}
	if got := len(c.List()); got != 0 {
		t.Errorf("List() has %d entries after UnloadAll, want 0", got)
	}
}
