package rules

import "testing"

func TestFormatMapper_Map(t *testing.T) {
	m := NewFormatMapper(nil)
	tests := []struct {
		in     string
		want   string
		wantOK bool
	}{
		{"YYYY-MM-DD", "yyyy-MM-dd", true},
		{"YYYYMMDD", "yyyyMMdd", true},
		{"YYYY-MM-DD HH24:MI:SS", "yyyy-MM-dd HH:mm:ss", true},
		{"HH12:MI", "hh:mm", true},
		{"YY/MM", "yy/MM", true},
		{"DD.MM.YYYY", "dd.MM.yyyy", true},
		{"", "", true},
		{"YYYY-Q", "", false},
		{"MON-YYYY", "", false},
		{"HH:MI", "", false}, // bare HH is ambiguous between HH12 and HH24
		{"YYYY-MM-DD DY", "", false},
	}
	for _, tt := range tests {
		got, ok := m.Map(tt.in)
		if ok != tt.wantOK {
			t.Errorf("Map(%q) ok = %v, want %v", tt.in, ok, tt.wantOK)
			continue
		}
		if ok && got != tt.want {
			t.Errorf("Map(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatMapper_CaseInsensitive(t *testing.T) {
	m := NewFormatMapper(nil)
	got, ok := m.Map("yyyy-mm-dd")
	if !ok || got != "yyyy-MM-dd" {
		t.Errorf("Map lowercase = %q, %v", got, ok)
	}
}

func TestFormatMapper_AllowList(t *testing.T) {
	m := NewFormatMapper([]string{"yyyy", "MM"})
	if got, ok := m.Map("YYYY-MM"); !ok || got != "yyyy-MM" {
		t.Errorf("allow-listed tokens: got %q, %v", got, ok)
	}
	if _, ok := m.Map("YYYY-MM-DD"); ok {
		t.Error("DD is outside the allow-list and must not map")
	}
	// Allow-list entries outside the built-in table are ignored.
	m = NewFormatMapper([]string{"FF9"})
	if _, ok := m.Map("YYYY"); ok {
		t.Error("nothing should map when the allow-list excludes every builtin")
	}
}
