package models

import "testing"

func TestParseSessionType(t *testing.T) {
	tests := []struct {
		input   string
		want    SessionType
		wantErr bool
	}{
		{"INIT", SessionInit, false},
		{"BROWNFIELD_INIT", SessionBrownfieldInit, false},
		{"IMPLEMENT", SessionImplement, false},
		{"BUGFIX", SessionBugfix, false},
		{"REVIEW", SessionReview, false},
		{"FIX", SessionFix, false},
		{"ARCHITECTURE", SessionArchitecture, false},
		{"implement", "", true},
		{"DEPLOY", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := ParseSessionType(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseSessionType(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseSessionType(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestSessionValidate(t *testing.T) {
	tests := []struct {
		name    string
		session Session
		wantErr bool
	}{
		{
			"complete record",
			Session{AgentType: SessionImplement, Outcome: OutcomeReadyForReview, Summary: "built FEAT-001"},
			false,
		},
		{
			"unknown agent type",
			Session{AgentType: "DEPLOY", Outcome: OutcomeSuccess, Summary: "s"},
			true,
		},
		{
			"unknown outcome",
			Session{AgentType: SessionReview, Outcome: "MAYBE", Summary: "s"},
			true,
		},
		{
			"missing summary",
			Session{AgentType: SessionInit, Outcome: OutcomeSuccess},
			true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.session.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestOutcomeValid(t *testing.T) {
	valid := []Outcome{
		OutcomeSuccess, OutcomeReadyForReview, OutcomeApproved, OutcomeRequestChanges,
		OutcomePassWithComments, OutcomeReject, OutcomeCannotReproduce, OutcomeError,
	}
	for _, o := range valid {
		if !o.Valid() {
			t.Errorf("%v.Valid() = false, want true", o)
		}
	}
	if Outcome("DONE").Valid() {
		t.Error(`Outcome("DONE").Valid() = true, want false`)
	}
}
