package generate

import (
	"errors"
	"testing"
)

func TestParseMode(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"normal", ModeNormal, false},
		{"Sassy", ModeSassy, false},
		{" custom ", ModeCustom, false},
		{"", ModeNormal, false},
		{"grumpy", "", true},
	}
	for _, tc := range tests {
		got, err := ParseMode(tc.in)
		if (err != nil) != tc.wantErr {
			t.Errorf("ParseMode(%q) err = %v, wantErr %v", tc.in, err, tc.wantErr)
		}
		if err != nil && !errors.Is(err, ErrUnknownMode) {
			t.Errorf("ParseMode(%q) err = %v, want ErrUnknownMode", tc.in, err)
		}
		if got != tc.want {
			t.Errorf("ParseMode(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestDefaultProfiles(t *testing.T) {
	t.Parallel()
	table := DefaultProfiles()
	if err := table.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	normal, _ := table.Lookup(ModeNormal)
	sassy, _ := table.Lookup(ModeSassy)
	if normal.MaxTokens != 150 || normal.Temperature != 0.2 {
		t.Errorf("normal = %d/%v, want 150/0.2", normal.MaxTokens, normal.Temperature)
	}
	if sassy.MaxTokens != 100 || sassy.Temperature != 0.7 {
		t.Errorf("sassy = %d/%v, want 100/0.7", sassy.MaxTokens, sassy.Temperature)
	}
	if normal.SystemPrompt == sassy.SystemPrompt || normal.Fallback == sassy.Fallback {
		t.Error("normal and sassy profiles must differ in prompt and fallback")
	}
}

func TestProfileTable_Validate(t *testing.T) {
	t.Parallel()

	missing := DefaultProfiles()
	delete(missing, ModeCustom)
	if err := missing.Validate(); err == nil {
		t.Error("expected error for missing custom profile")
	}

	unknown := DefaultProfiles()
	unknown["grumpy"] = unknown[ModeNormal]
	if err := unknown.Validate(); err == nil {
		t.Error("expected error for unknown mode")
	}

	bad := DefaultProfiles()
	bad[ModeSassy] = Profile{Temperature: 3}
	err := bad.Validate()
	if err == nil {
		t.Fatal("expected error for invalid profile")
	}
}

func TestProfileTable_LookupUnknown(t *testing.T) {
	t.Parallel()
	if _, err := DefaultProfiles().Lookup("grumpy"); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("err = %v, want ErrUnknownMode", err)
	}
}

func TestProfileTable_Clone(t *testing.T) {
	t.Parallel()
	a := DefaultProfiles()
	b := a.Clone()
	b[ModeCustom] = Profile{SystemPrompt: "x", MaxTokens: 1, Fallback: "y"}
	if a[ModeCustom].SystemPrompt == "x" {
		t.Error("Clone shares storage with the original")
	}
}
