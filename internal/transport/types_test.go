package transport

import "testing"

func TestParseChatTarget(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		raw  string
		want ChatTarget
		ok   bool
	}{
		{name: "chat", raw: "-1001234", want: ChatTarget{ChatID: -1001234}, ok: true},
		{name: "chat and thread", raw: "-1001234:17", want: ChatTarget{ChatID: -1001234, ThreadID: 17}, ok: true},
		{name: "spaces", raw: " 42 ", want: ChatTarget{ChatID: 42}, ok: true},
		{name: "empty", raw: ""},
		{name: "zero", raw: "0"},
		{name: "text", raw: "general"},
		{name: "bad thread", raw: "42:x"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseChatTarget(tt.raw)
			if !tt.ok {
				if err == nil {
					t.Fatalf("ParseChatTarget(%q) expected error", tt.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("ParseChatTarget(%q) error: %v", tt.raw, err)
			}
			if got != tt.want {
				t.Fatalf("ParseChatTarget(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
			if back, _ := ParseChatTarget(got.String()); back != got {
				t.Fatalf("String() = %q does not parse back", got.String())
			}
		})
	}
}
