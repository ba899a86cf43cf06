package agent

import (
	"math"
	"testing"
)

func TestParseRole(t *testing.T) {
	tests := []struct {
		in      string
		want    Role
		wantErr bool
	}{
		{"leader", RoleLeader, false},
		{"Project_Manager", RoleProjectManager, false},
		{"project-manager", RoleProjectManager, false},
		{"pm", RoleProjectManager, false},
		{" critic ", RoleCritic, false},
		{"analyst", RoleDataAnalyst, false},
		{"janitor", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseRole(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseRole(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseRole(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRoleKnown(t *testing.T) {
	if !RoleFixer.Known() {
		t.Error("expected fixer to be known")
	}
	if Role("janitor").Known() {
		t.Error("expected janitor to be unknown")
	}
}

func TestWeightsForKnownRoles(t *testing.T) {
	reg := NewRegistry(nil)
	for _, r := range AllRoles {
		w := reg.WeightsFor(r)
		if math.Abs(w.Sum()-1.0) > 1e-9 {
			t.Errorf("weights for %s sum to %v, want 1", r, w.Sum())
		}
	}

	pm := reg.WeightsFor(RoleProjectManager)
	if pm[DimTimeline] <= pm[DimQuality] {
		t.Errorf("expected project manager to weigh timeline over quality, got %v", pm)
	}
	critic := reg.WeightsFor(RoleCritic)
	if critic[DimRisk] <= critic[DimTimeline] {
		t.Errorf("expected critic to weigh risk over timeline, got %v", critic)
	}
}

func TestWeightsForUnknownRoleIsUniform(t *testing.T) {
	reg := NewRegistry(nil)
	w := reg.WeightsFor(Role("janitor"))
	for _, d := range Dimensions {
		if math.Abs(w[d]-0.2) > 1e-9 {
			t.Errorf("expected uniform weight 0.2 for %s, got %v", d, w[d])
		}
	}
}

func TestRegistryOverrides(t *testing.T) {
	reg := NewRegistry(map[Role]Weights{
		RoleCritic: {DimTimeline: 0.9},
	})
	w := reg.WeightsFor(RoleCritic)
	if w[DimTimeline] != 0.9 {
		t.Errorf("expected overridden timeline 0.9, got %v", w[DimTimeline])
	}
	if w[DimRisk] != 0.4 {
		t.Errorf("expected untouched risk 0.4, got %v", w[DimRisk])
	}
}

func TestWeightsForReturnsCopy(t *testing.T) {
	reg := NewRegistry(nil)
	w := reg.WeightsFor(RoleLeader)
	w[DimStrategy] = 0
	if reg.WeightsFor(RoleLeader)[DimStrategy] == 0 {
		t.Error("mutating the returned weights must not affect the registry")
	}
}
