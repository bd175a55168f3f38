package brain

import (
	"errors"
	"testing"
)

func TestExtractJSON(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{"bare object", `{"a":1}`, `{"a":1}`, false},
		{"prose around", "Sure! Here it is: {\"a\":{\"b\":2}} Hope that helps.", `{"a":{"b":2}}`, false},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`, false},
		{"array", "tasks: [1,2,3] done", `[1,2,3]`, false},
		{"object before array", `{"tasks":[1]}`, `{"tasks":[1]}`, false},
		{"bracketed prose before object", `Assessment [draft]: {"complexity_score": 5}`, `{"complexity_score": 5}`, false},
		{"array of objects", `here: [{"a":1},{"a":2}]`, `[{"a":1},{"a":2}]`, false},
		{"none", "no json here", "", true},
		{"unclosed", "{ oops", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ExtractJSON(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrNoJSON) {
					t.Errorf("err = %v, want ErrNoJSON", err)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var v struct {
		Score int    `json:"complexity_score"`
		Level string `json:"complexity_level"`
	}
	if err := DecodeJSON("Assessment: {\"complexity_score\": 6, \"complexity_level\": \"moderate\"}", &v); err != nil {
		t.Fatal(err)
	}
	if v.Score != 6 || v.Level != "moderate" {
		t.Errorf("decoded %+v", v)
	}

	v.Score = 0
	if err := DecodeJSON(`Assessment [draft]: {"complexity_score": 5} [end]`, &v); err != nil {
		t.Fatalf("bracketed prose: %v", err)
	}
	if v.Score != 5 {
		t.Errorf("score = %d, want 5", v.Score)
	}

	if err := DecodeJSON(`{"complexity_score": "six"}`, &v); err == nil {
		t.Error("expected type error")
	}
	if err := DecodeJSON("nothing", &v); !errors.Is(err, ErrNoJSON) {
		t.Errorf("err = %v, want ErrNoJSON", err)
	}
}

func TestCodeBlock(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		wantCode string
		wantLang string
		wantOK   bool
	}{
		{"language line", "Here:\n```Python\nprint('hi')\n```\nbye", "print('hi')", "python", true},
		{"single line fence", "Run this: ```print(1)``` and done", "print(1)", "", true},
		{"unclosed single line", "```print(1)", "", "", false},
		{"empty single line fence", "``````", "", "", false},
		{"no fences", "no fences", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, lang, ok := CodeBlock(tt.in)
			if ok != tt.wantOK || code != tt.wantCode || lang != tt.wantLang {
				t.Errorf("got %q %q %v, want %q %q %v", code, lang, ok, tt.wantCode, tt.wantLang, tt.wantOK)
			}
		})
	}
}
