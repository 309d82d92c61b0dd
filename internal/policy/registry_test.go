package policy

import (
	"testing"
	"time"

	"github.com/eliteGoblin/focusd/govd/internal/domain"
)

func TestNewRegistry_DefaultOrder(t *testing.T) {
	r := NewRegistry()

	want := []string{"kesl", "node", "snap", "firefox", "brave", "telegram"}
	got := r.List()
	if len(got) != len(want) {
		t.Fatalf("expected %d targets, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("target %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistryWithTargets(NodeTarget(), NodeTarget())
	if err == nil {
		t.Fatal("expected duplicate target error")
	}
}

func TestRegistry_RejectsEmptyName(t *testing.T) {
	r, _ := NewRegistryWithTargets()
	if err := r.Register(domain.MonitorTarget{}); err == nil {
		t.Fatal("expected error for empty name")
	}
}

func TestRegistry_ClassifyFirstMatchWins(t *testing.T) {
	broad := domain.MonitorTarget{Name: "broad", Match: domain.PathContains("fox")}
	narrow := domain.MonitorTarget{Name: "narrow", Match: domain.ExactName("firefox")}
	r, err := NewRegistryWithTargets(broad, narrow)
	if err != nil {
		t.Fatal(err)
	}

	name, ok := r.Classify(domain.ProcessInfo{PID: 10, Name: "firefox", Command: "/usr/lib/firefox/firefox"})
	if !ok || name != "broad" {
		t.Errorf("expected 'broad', got %q (ok=%v)", name, ok)
	}

	if _, ok := r.Classify(domain.ProcessInfo{PID: 11, Name: "bash", Command: "/bin/bash"}); ok {
		t.Error("expected no match for bash")
	}
}

func TestRegistry_ExcludeRemovesHelpers(t *testing.T) {
	r, _ := NewRegistryWithTargets(KeslTarget())

	agent := domain.ProcessInfo{PID: 100, Name: "kesl", Command: "/opt/kaspersky/kesl/libexec/kesl --daemon"}
	helper := domain.ProcessInfo{PID: 101, Name: "wdserver", Command: "/opt/kaspersky/kesl/libexec/kesl/wdserver"}

	if name, ok := r.Classify(agent); !ok || name != "kesl" {
		t.Errorf("expected agent to match kesl, got %q", name)
	}
	if _, ok := r.Classify(helper); ok {
		t.Error("expected wdserver helper to be excluded")
	}
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	all := r.GetAll()
	all[0].Name = "mutated"

	if _, ok := r.Get("kesl"); !ok {
		t.Error("registry must not be affected by mutating GetAll result")
	}
}

func TestKeslTarget_Defaults(t *testing.T) {
	k := KeslTarget()
	if k.Action.Kind != domain.ActionRestartService || k.Action.Service != "kesl" {
		t.Errorf("unexpected kesl action %v", k.Action)
	}
	if k.MaxViolations != 3 {
		t.Errorf("expected max violations 3, got %d", k.MaxViolations)
	}
	if k.Cooldown != 100*time.Second {
		t.Errorf("expected cooldown 100s, got %s", k.Cooldown)
	}
}

func TestBrowserTarget_TwoTiers(t *testing.T) {
	b := BrowserTarget("brave")
	if b.Action.Kind != domain.ActionSuspend || b.MaxViolations != 2 || b.Thresholds.CPUPercent != 80 {
		t.Errorf("unexpected first tier %v max=%d cpu=%g", b.Action, b.MaxViolations, b.Thresholds.CPUPercent)
	}
	if b.KillTier == nil {
		t.Fatal("expected a kill tier")
	}
	if b.KillTier.CPUPercent != 95 || b.KillTier.MaxViolations != 3 {
		t.Errorf("unexpected kill tier %+v", *b.KillTier)
	}
}

func TestSacrificeList_RanksInOrder(t *testing.T) {
	l := DefaultSacrificeList()
	entries := l.Entries()

	want := []string{"brave", "telegram", "nvim", "firefox"}
	for i, e := range entries {
		if e.Name != want[i] {
			t.Errorf("rank %d: expected %q, got %q", i+1, want[i], e.Name)
		}
		if e.Rank != i+1 {
			t.Errorf("%s: expected rank %d, got %d", e.Name, i+1, e.Rank)
		}
	}
	if entries[2].MinMemoryMB != 1024 {
		t.Errorf("expected nvim guard 1024MB, got %d", entries[2].MinMemoryMB)
	}
}

func TestSacrificeList_Duplicate(t *testing.T) {
	_, err := NewSacrificeList(
		domain.SacrificeEntry{Name: "a", Match: domain.ExactName("a")},
		domain.SacrificeEntry{Name: "a", Match: domain.ExactName("b")},
	)
	if err == nil {
		t.Fatal("expected duplicate error")
	}
}

func TestSacrificeList_Classify(t *testing.T) {
	l := DefaultSacrificeList()

	name, ok := l.Classify(domain.ProcessInfo{PID: 5, Name: "brave", Command: "/opt/brave.com/brave/brave --type=renderer"})
	if !ok || name != "brave" {
		t.Errorf("expected brave, got %q", name)
	}
	name, ok = l.Classify(domain.ProcessInfo{PID: 6, Name: "nvim", Command: "nvim main.go"})
	if !ok || name != "nvim" {
		t.Errorf("expected nvim, got %q", name)
	}
}
