package pipeline

import "testing"

func TestVariablesCaseInsensitiveLookup(t *testing.T) {
	vars := NewVariables()
	vars.Set("Octopus.Action.Package.PackageId", "Acme.Web")

	got, ok := vars.Get("octopus.action.package.packageid")
	if !ok || got != "Acme.Web" {
		t.Fatalf("Get = %q, %t; want case-insensitive hit", got, ok)
	}
}

func TestVariablesOverwriteKeepsOrderAndSpelling(t *testing.T) {
	vars := NewVariables()
	vars.Set("First", "1")
	vars.Set("Second", "2")
	vars.Set("FIRST", "one")

	if vars.Len() != 2 {
		t.Fatalf("Len = %d, want 2", vars.Len())
	}

	var keys []string
	var values []string
	vars.Each(func(k, v string) {
		keys = append(keys, k)
		values = append(values, v)
	})
	if keys[0] != "First" || keys[1] != "Second" {
		t.Errorf("keys = %v, want first-seen spellings in insertion order", keys)
	}
	if values[0] != "one" {
		t.Errorf("values[0] = %q, overwrite through different casing must win", values[0])
	}
}

func TestVariablesIsSet(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"true", true},
		{"True", true},
		{"TRUE", true},
		{"1", true},
		{"yes", true},
		{" true ", true},
		{"false", false},
		{"0", false},
		{"", false},
		{"banana", false},
	}
	for _, tt := range tests {
		vars := NewVariables()
		vars.Set("flag", tt.value)
		if got := vars.IsSet("FLAG"); got != tt.want {
			t.Errorf("IsSet(%q) = %t, want %t", tt.value, got, tt.want)
		}
	}

	if NewVariables().IsSet("missing") {
		t.Error("IsSet on an absent key must be false")
	}
}

func TestVariablesGetOrDefault(t *testing.T) {
	vars := NewVariables()
	vars.Set("present", "value")

	if got := vars.GetOrDefault("present", "fallback"); got != "value" {
		t.Errorf("GetOrDefault(present) = %q", got)
	}
	if got := vars.GetOrDefault("absent", "fallback"); got != "fallback" {
		t.Errorf("GetOrDefault(absent) = %q", got)
	}
}
