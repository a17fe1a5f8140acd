package ref

import "testing"

func TestParse(t *testing.T) {
	tests := []struct {
		in      string
		want    Ref
		wantErr bool
	}{
		{in: "task:12", want: Ref{Type: Task, ID: 12}},
		{in: "Project:3", want: Ref{Type: Project, ID: 3}},
		{in: "task", wantErr: true},
		{in: "widget:1", wantErr: true},
		{in: "task:0", wantErr: true},
		{in: "task:abc", wantErr: true},
	}
	for _, tt := range tests {
		got, err := Parse(tt.in)
		if tt.wantErr {
			if err == nil {
				t.Errorf("Parse(%q) = %v, want error", tt.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("Parse(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Parse(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if back, err := Parse(got.String()); err != nil || back != got {
			t.Errorf("Parse(String()) = %v, %v; want %v", back, err, got)
		}
	}
}

func TestString(t *testing.T) {
	if got := New(Project, 3).String(); got != "project:3" {
		t.Errorf("String() = %q, want %q", got, "project:3")
	}
}

func TestZero(t *testing.T) {
	var r Ref
	if !r.IsZero() || r.String() != "" {
		t.Errorf("zero ref: IsZero=%v String=%q", r.IsZero(), r.String())
	}
}
