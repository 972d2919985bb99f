package identity

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGenerateSlug(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"simple", "Acme", "acme"},
		{"spaces become hyphens", "Acme Corp", "acme-corp"},
		{"underscores become hyphens", "acme_corp", "acme-corp"},
		{"special characters stripped", "Acme, Inc. (EU)!", "acme-inc-eu"},
		{"hyphen runs collapsed", "a -- b", "a-b"},
		{"leading and trailing trimmed", "  --Acme--  ", "acme"},
		{"unicode stripped", "Größe 大きい", "gre"},
		{"apostrophe", "Jane's Workspace", "janes-workspace"},
		{"already slugged", "acme-corp", "acme-corp"},
		{"empty", "", ""},
		{"only invalid chars", "!!!", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, GenerateSlug(tc.in))
		})
	}
}

func TestGenerateSlug_Deterministic(t *testing.T) {
	assert.Equal(t, GenerateSlug("Acme Corp"), GenerateSlug("Acme Corp"))
}

func TestGenerateSlug_CapsAt100(t *testing.T) {
	long := strings.Repeat("a", 150)
	assert.Len(t, GenerateSlug(long), 100)
}

func TestUserMirror_DisplayName(t *testing.T) {
	cases := []struct {
		name string
		user UserMirror
		want string
	}{
		{"full name", UserMirror{FirstName: "Jane", LastName: "Doe", Email: "j@x.io"}, "Jane Doe"},
		{"first only", UserMirror{FirstName: "Jane", Email: "j@x.io"}, "Jane"},
		{"last only", UserMirror{LastName: "Doe", Email: "j@x.io"}, "Doe"},
		{"email fallback", UserMirror{Email: "j@x.io"}, "j@x.io"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.user.DisplayName())
		})
	}
}
