package stage_test

import (
	"testing"

	"github.com/hellosales/coachkernel/internal/kernel/stage"
)

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg := stage.NewRegistry()
	err := reg.Register(stage.Descriptor{
		Name:     "stt",
		Kind:     stage.KindWork,
		Triggers: []string{"pre_llm"},
		New:      func() stage.Stage { return okStage("stt") },
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	d, ok := reg.Lookup("stt")
	if !ok {
		t.Fatal("expected stt to be registered")
	}
	if d.Kind != stage.KindWork {
		t.Errorf("Kind = %v, want %v", d.Kind, stage.KindWork)
	}
}

func TestRegistry_DuplicateRegistrationRejected(t *testing.T) {
	reg := stage.NewRegistry()
	d := stage.Descriptor{Name: "dup", Kind: stage.KindWork, New: func() stage.Stage { return okStage("dup") }}
	if err := reg.Register(d); err != nil {
		t.Fatalf("first Register: %v", err)
	}
	if err := reg.Register(d); err == nil {
		t.Fatal("expected error on duplicate registration, got nil")
	}
}

func TestRegistry_ByKind(t *testing.T) {
	reg := stage.NewRegistry()
	_ = reg.Register(stage.Descriptor{Name: "guard1", Kind: stage.KindGuard, New: func() stage.Stage { return okStage("guard1") }})
	_ = reg.Register(stage.Descriptor{Name: "work1", Kind: stage.KindWork, New: func() stage.Stage { return okStage("work1") }})

	guards := reg.ByKind(stage.KindGuard)
	if len(guards) != 1 || guards[0] != "guard1" {
		t.Errorf("ByKind(Guard) = %v, want [guard1]", guards)
	}
}

func TestRegistry_ByTrigger(t *testing.T) {
	reg := stage.NewRegistry()
	_ = reg.Register(stage.Descriptor{Name: "policy", Kind: stage.KindGuard, Triggers: []string{"pre_llm", "pre_action"}, New: func() stage.Stage { return okStage("policy") }})

	preLLM := reg.ByTrigger("pre_llm")
	if len(preLLM) != 1 || preLLM[0] != "policy" {
		t.Errorf("ByTrigger(pre_llm) = %v, want [policy]", preLLM)
	}
	preAction := reg.ByTrigger("pre_action")
	if len(preAction) != 1 || preAction[0] != "policy" {
		t.Errorf("ByTrigger(pre_action) = %v, want [policy]", preAction)
	}
}

func TestRegistry_New(t *testing.T) {
	reg := stage.NewRegistry()
	_ = reg.Register(stage.Descriptor{Name: "stt", Kind: stage.KindWork, New: func() stage.Stage { return okStage("stt") }})

	s, err := reg.New("stt")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if s.Name() != "stt" {
		t.Errorf("Name() = %q, want stt", s.Name())
	}
}

func TestRegistry_NewUnknown(t *testing.T) {
	reg := stage.NewRegistry()
	_, err := reg.New("ghost")
	if err == nil {
		t.Fatal("expected error for unknown stage, got nil")
	}
}
