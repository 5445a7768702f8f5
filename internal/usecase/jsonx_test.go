package usecase

import (
	"errors"
	"testing"

	"guidebot/internal/domain"
)

func TestExtractJSON(t *testing.T) {
	type reply struct {
		Intent   string `json:"intent"`
		Location string `json:"location"`
	}

	tests := []struct {
		name    string
		raw     string
		want    reply
		wantErr bool
	}{
		{
			name: "bare object",
			raw:  `{"intent":"guide_search","location":"Bangkok"}`,
			want: reply{Intent: "guide_search", Location: "Bangkok"},
		},
		{
			name: "object wrapped in prose",
			raw:  "Sure! Here is the classification:\n{\"intent\":\"general\"}\nHope that helps.",
			want: reply{Intent: "general"},
		},
		{
			name: "markdown fenced",
			raw:  "```json\n{\"intent\":\"more_guides\"}\n```",
			want: reply{Intent: "more_guides"},
		},
		{
			name: "braces inside strings",
			raw:  `{"intent":"general","location":"somewhere {odd}"}`,
			want: reply{Intent: "general", Location: "somewhere {odd}"},
		},
		{
			name:    "no object at all",
			raw:     "I cannot answer that.",
			wantErr: true,
		},
		{
			name:    "unbalanced",
			raw:     `{"intent":"general"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got reply
			err := ExtractJSON(tt.raw, &got)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if !errors.Is(err, domain.ErrInvalidInput) {
					t.Errorf("error = %v, want ErrInvalidInput", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractJSON: %v", err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestExtractJSONNested(t *testing.T) {
	raw := `Analysis: {"outer":{"inner":"value"},"n":2} trailing text`
	var got struct {
		Outer map[string]string `json:"outer"`
		N     int               `json:"n"`
	}
	if err := ExtractJSON(raw, &got); err != nil {
		t.Fatalf("ExtractJSON: %v", err)
	}
	if got.Outer["inner"] != "value" || got.N != 2 {
		t.Errorf("got %+v", got)
	}
}
