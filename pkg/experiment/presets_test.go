package experiment

import "testing"

func TestPresets(t *testing.T) {
	active := Presets(false)
	if len(active) != 1 {
		t.Fatalf("active presets = %d, want 1", len(active))
	}
	if active[0].Name != "ddp-baseline" {
		t.Errorf("active preset = %s, want ddp-baseline", active[0].Name)
	}

	all := Presets(true)
	if len(all) != 4 {
		t.Errorf("all presets = %d, want 4", len(all))
	}
}

func TestPresetsValidate(t *testing.T) {
	// Every built-in must normalize into a valid spec
	for _, p := range Presets(true) {
		spec := p.Spec
		spec.Normalize()
		if err := spec.Validate(); err != nil {
			t.Errorf("preset %s does not validate: %v", p.Name, err)
		}
	}
}

func TestFindPreset(t *testing.T) {
	p, err := FindPreset("semi-stac")
	if err != nil {
		t.Fatalf("FindPreset(semi-stac): %v", err)
	}
	if !p.Archived || !p.Spec.DoSemi {
		t.Errorf("semi-stac should be archived and semi-supervised, got %+v", p)
	}

	if _, err := FindPreset("nope"); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestFindPresetReturnsCopy(t *testing.T) {
	p, err := FindPreset("ddp-baseline")
	if err != nil {
		t.Fatal(err)
	}
	p.Spec.Batch = 1

	again, _ := FindPreset("ddp-baseline")
	if again.Spec.Batch != 96 {
		t.Error("FindPreset should return a copy, not a pointer into the table")
	}
}

func TestDefaultPreset(t *testing.T) {
	p := DefaultPreset()
	if p.Name != "ddp-baseline" || p.Archived {
		t.Errorf("DefaultPreset = %s (archived=%v), want active ddp-baseline", p.Name, p.Archived)
	}
}
