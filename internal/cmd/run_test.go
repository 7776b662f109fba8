package cmd

import (
	"testing"

	"github.com/spf13/cobra"
)

func flagCmd(goal, contextJSON string) *cobra.Command {
	c := &cobra.Command{}
	c.Flags().String("goal", goal, "")
	c.Flags().String("context", contextJSON, "")
	return c
}

func TestParseGoal(t *testing.T) {
	tests := []struct {
		name    string
		goal    string
		want    map[string]float64
		wantErr bool
	}{
		{
			name: "two hypotheses",
			goal: "on_track=1,off_track=0",
			want: map[string]float64{"on_track": 1, "off_track": 0},
		},
		{
			name: "whitespace tolerated",
			goal: " a = 0.7 , b = 0.3 ",
			want: map[string]float64{"a": 0.7, "b": 0.3},
		},
		{
			name:    "missing weight",
			goal:    "on_track",
			wantErr: true,
		},
		{
			name:    "non-numeric weight",
			goal:    "a=high",
			wantErr: true,
		},
		{
			name:    "empty",
			goal:    "",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseGoal(flagCmd(tt.goal, ""))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %v, want %v", got, tt.want)
			}
			for k, v := range tt.want {
				if got[k] != v {
					t.Fatalf("goal[%s] = %v, want %v", k, got[k], v)
				}
			}
		})
	}
}

func TestParseContext(t *testing.T) {
	got, err := parseContext(flagCmd("", `{"uncertainty": 0.8, "notes": "x"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got["uncertainty"] != 0.8 {
		t.Fatalf("context = %v", got)
	}

	if got, err := parseContext(flagCmd("", "")); err != nil || got != nil {
		t.Fatalf("empty context should parse to nil, got %v, %v", got, err)
	}

	if _, err := parseContext(flagCmd("", "not json")); err == nil {
		t.Fatal("invalid JSON must error")
	}
}
