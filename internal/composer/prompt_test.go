package composer

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestNew_DefaultBudget(t *testing.T) {
	if got := New(0).MaxMaterialChars; got != defaultMaxMaterialChars {
		t.Errorf("MaxMaterialChars = %d, want %d", got, defaultMaxMaterialChars)
	}
	if got := New(10).MaxMaterialChars; got != 10 {
		t.Errorf("MaxMaterialChars = %d, want 10", got)
	}
}

func TestStory(t *testing.T) {
	c := New(0)
	got := c.Story([]string{"dinosaurs", "space"}, "English", "")
	if !strings.Contains(got, "dinosaurs, space") {
		t.Errorf("prompt missing interests: %q", got)
	}
	if !strings.Contains(got, "in English") {
		t.Errorf("prompt missing language: %q", got)
	}
	if !strings.Contains(got, "exactly 5 paragraphs") {
		t.Errorf("prompt missing paragraph count: %q", got)
	}
	if strings.Contains(got, "[Learner Profile]") {
		t.Error("empty learner summary should not add a profile section")
	}
}

func TestWithLearnerPrependsProfile(t *testing.T) {
	c := New(0)
	got := c.Health("Why do we sleep?", "English", "Name: Mia\nAge: 7")
	if !strings.HasPrefix(got, "[Learner Profile]\nName: Mia\nAge: 7\n\n---\n\n") {
		t.Errorf("profile section not prepended: %q", got)
	}
	if !strings.Contains(got, `User Question: "Why do we sleep?"`) {
		t.Errorf("question missing: %q", got)
	}
}

func TestStudyImageStyleBySubject(t *testing.T) {
	tests := []struct {
		subject string
		want    string
	}{
		{SubjectMedicine, "high quality 3D render"},
		{"cs", "clear, colorful educational illustration"},
		{"history", "clear, colorful educational illustration"},
	}
	for _, tt := range tests {
		t.Run(tt.subject, func(t *testing.T) {
			if got := StudyImageStyle(tt.subject); !strings.Contains(got, tt.want) {
				t.Errorf("StudyImageStyle(%q) = %q, want it to contain %q", tt.subject, got, tt.want)
			}
		})
	}
}

func TestStudy_DefaultSubject(t *testing.T) {
	got := New(0).Study("What is a loop?", "", "English", "", "")
	if !strings.Contains(got, "Subject: cs.") {
		t.Errorf("default subject not applied: %q", got)
	}
	if strings.Contains(got, "[Worksheet]") {
		t.Error("blank material should not add a worksheet section")
	}
}

func TestStudy_MaterialTruncated(t *testing.T) {
	c := New(5)
	got := c.Study("q", "math", "English", "héllo world", "")
	if !strings.HasSuffix(got, "[Worksheet]\nhéllo") {
		t.Errorf("material not truncated to 5 runes: %q", got)
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"abc", 5, "abc"},
		{"abcdef", 3, "abc"},
		{"日本語テキスト", 3, "日本語"},
		{"abc", 0, "abc"},
	}
	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8", tt.in, tt.n)
		}
	}
}

func TestMnemonicAndAdventure(t *testing.T) {
	c := New(0)
	m := c.Mnemonic([]string{"apple", "moon", "shoe"}, "French")
	if !strings.Contains(m, "apple, moon, shoe") || !strings.Contains(m, "French") {
		t.Errorf("mnemonic prompt = %q", m)
	}
	a := c.Adventure("a brave astronaut", "English")
	if !strings.Contains(a, "into a brave astronaut") {
		t.Errorf("adventure prompt = %q", a)
	}
}
