package names

import "testing"

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    Version
		wantErr bool
	}{
		{in: "1.2.3", want: Version{Major: 1, Minor: 2, Patch: 3}},
		{in: "1.0.0.0", want: Version{Major: 1}},
		{in: "1.0", want: Version{Major: 1}},
		{in: "10.20.30.40", want: Version{Major: 10, Minor: 20, Patch: 30, Revision: 40}},
		{in: "2.0.0-beta.1", want: Version{Major: 2, Prerelease: "beta.1"}},
		{in: "", wantErr: true},
		{in: "1.2.3.4.5", wantErr: true},
		{in: "1.x.3", wantErr: true},
		{in: "1.02.3", wantErr: true},
		{in: "1.2.3-", wantErr: true},
		{in: "-1.2.3", wantErr: true},
	}

	for _, tt := range tests {
		got, err := ParseVersion(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseVersion(%q): expected error, got %v", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseVersion(%q): unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseVersion(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestParseTagVersion(t *testing.T) {
	for _, tag := range []string{"v1.2.3", "V1.2.3", "1.2.3"} {
		got, err := ParseTagVersion(tag)
		if err != nil {
			t.Fatalf("ParseTagVersion(%q): %v", tag, err)
		}
		want := Version{Major: 1, Minor: 2, Patch: 3}
		if !got.Equal(want) {
			t.Errorf("ParseTagVersion(%q) = %v, want %v", tag, got, want)
		}
	}

	if _, err := ParseTagVersion("release-1.2.3"); err == nil {
		t.Error("ParseTagVersion accepted a non-version tag")
	}
}

func TestVersionEquality(t *testing.T) {
	tests := []struct {
		a, b  string
		equal bool
	}{
		{"1.0", "1.0.0", true},
		{"1.0", "1.0.0.0", true},
		{"1.2.3", "1.2.3.0", true},
		{"1.2.3", "1.2.3.1", false},
		{"1.0.0", "1.0.1", false},
		{"2.0.0-beta", "2.0.0", false},
		{"2.0.0-beta.1", "2.0.0-beta.1", true},
	}

	for _, tt := range tests {
		a, err := ParseVersion(tt.a)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", tt.a, err)
		}
		b, err := ParseVersion(tt.b)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", tt.b, err)
		}
		if got := a.Equal(b); got != tt.equal {
			t.Errorf("%q == %q: got %v, want %v", tt.a, tt.b, got, tt.equal)
		}
	}
}

func TestVersionCompare(t *testing.T) {
	ordered := []string{
		"0.9.0",
		"1.0.0-alpha",
		"1.0.0-alpha.1",
		"1.0.0-alpha.beta",
		"1.0.0-beta.2",
		"1.0.0-beta.11",
		"1.0.0",
		"1.0.0.1",
		"1.0.1",
		"2.0.0",
	}

	for i := 0; i < len(ordered)-1; i++ {
		a, err := ParseVersion(ordered[i])
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", ordered[i], err)
		}
		b, err := ParseVersion(ordered[i+1])
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", ordered[i+1], err)
		}
		if a.Compare(b) != -1 {
			t.Errorf("expected %q < %q", ordered[i], ordered[i+1])
		}
		if b.Compare(a) != 1 {
			t.Errorf("expected %q > %q", ordered[i+1], ordered[i])
		}
	}
}

func TestVersionString(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"1.2.3", "1.2.3"},
		{"1.2.3.0", "1.2.3"},
		{"1.2.3.4", "1.2.3.4"},
		{"1.0", "1.0.0"},
		{"2.0.0-rc.1", "2.0.0-rc.1"},
	}

	for _, tt := range tests {
		v, err := ParseVersion(tt.in)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", tt.in, err)
		}
		if got := v.String(); got != tt.want {
			t.Errorf("String(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
