package models

import "testing"

func TestFormatID(t *testing.T) {
	tests := []struct {
		kind Kind
		n    int64
		want string
	}{
		{KindFeature, 1, "FEAT-001"},
		{KindFeature, 42, "FEAT-042"},
		{KindBug, 7, "BUG-007"},
		{KindDebt, 103, "DEBT-103"},
	}
	for _, tt := range tests {
		if got := FormatID(tt.kind, tt.n); got != tt.want {
			t.Errorf("FormatID(%v, %d) = %q, want %q", tt.kind, tt.n, got, tt.want)
		}
	}
}

func TestKindForID(t *testing.T) {
	tests := []struct {
		id   string
		want Kind
		ok   bool
	}{
		{"FEAT-001", KindFeature, true},
		{"BUG-010", KindBug, true},
		{"DEBT-002", KindDebt, true},
		{"TASK-001", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, ok := KindForID(tt.id)
		if got != tt.want || ok != tt.ok {
			t.Errorf("KindForID(%q) = (%v, %v), want (%v, %v)", tt.id, got, ok, tt.want, tt.ok)
		}
	}
}

func TestWorkItemValidate(t *testing.T) {
	tests := []struct {
		name    string
		item    WorkItem
		wantErr bool
	}{
		{"valid feature", WorkItem{ID: "FEAT-001", Kind: KindFeature, Name: "login"}, false},
		{"missing id", WorkItem{Kind: KindFeature, Name: "login"}, true},
		{"bad kind", WorkItem{ID: "FEAT-001", Kind: "task", Name: "login"}, true},
		{"missing name", WorkItem{ID: "FEAT-001", Kind: KindFeature}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.item.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
