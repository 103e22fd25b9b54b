package composer

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	defaultMaxMaterialChars = 4000

	// SubjectMedicine selects the 3D-render image style for study answers.
	SubjectMedicine = "medicine"
	// DefaultSubject is used when a study question names no subject.
	DefaultSubject = "cs"

	// StoryImageStyle is the illustration style requested for story and
	// mnemonic images.
	StoryImageStyle = "A delightful and colorful illustration for a children's book"
)

// Composer builds the prompt text for each generation feature. Learner
// profile summaries and attached study material are injected as separate
// sections ahead of the task instructions.
type Composer struct {
	MaxMaterialChars int
}

// New creates a Composer that keeps at most maxMaterialChars characters of
// attached study material. If maxMaterialChars <= 0, the default (4000) is used.
func New(maxMaterialChars int) *Composer {
	if maxMaterialChars <= 0 {
		maxMaterialChars = defaultMaxMaterialChars
	}
	return &Composer{MaxMaterialChars: maxMaterialChars}
}

// Story asks for a five-paragraph story with one image prompt per paragraph.
func (c *Composer) Story(interests []string, lang, learner string) string {
	prompt := fmt.Sprintf("Create a short, magical, and positive story for a young child (around 5-7 years old) based on these interests: %s. "+
		"The story should be in %s. Divide the story into exactly 5 paragraphs. Each paragraph should be a distinct part of the story.",
		strings.Join(interests, ", "), lang)
	return withLearner(prompt, learner)
}

// StoryImagePromptHint describes the per-paragraph image prompt field.
func StoryImagePromptHint() string {
	return fmt.Sprintf("A simple, vibrant, and child-friendly image prompt for this paragraph, in English. Style: %q.", StoryImageStyle)
}

// Health asks for a well-organized health answer plus a 3D-render image prompt.
func (c *Composer) Health(question, lang, learner string) string {
	var sb strings.Builder
	sb.WriteString("You are a highly knowledgeable, friendly, and professional AI Health Adviser.\n\n")
	fmt.Fprintf(&sb, "User Question: %q\nLanguage: %s\n\n", question, lang)
	sb.WriteString("Your task:\n")
	sb.WriteString("1. Provide a comprehensive, accurate, and well-organized answer about nutrition, health, sports, or diseases.\n")
	sb.WriteString("2. Use formatting like bullet points, numbered lists, or short paragraphs to make it very easy to understand.\n")
	sb.WriteString("3. Create a prompt for an image generation model to create a \"high-quality 3D render\" that visually explains the concept or anatomy discussed.\n\n")
	sb.WriteString("The image prompt MUST specifically ask for a \"hyper-realistic 3D render\", \"medical visualization\", or \"scientific 3D illustration\" style.")
	return withLearner(sb.String(), learner)
}

// Study asks a tutor-style answer plus an image prompt whose style depends
// on the subject. Material, when present, is appended as reference text and
// truncated to MaxMaterialChars.
func (c *Composer) Study(question, subject, lang, material, learner string) string {
	if subject == "" {
		subject = DefaultSubject
	}

	var sb strings.Builder
	sb.WriteString("You are a helpful, encouraging AI tutor for students.\n")
	fmt.Fprintf(&sb, "Subject: %s.\nQuestion: %q.\nLanguage: %s.\n\n", subject, question, lang)
	sb.WriteString("Please provide:\n")
	sb.WriteString("1. A clear, concise, and accurate answer to the question suitable for a student.\n")
	sb.WriteString("2. An image prompt that I can use to generate a visual explanation of the answer.\n")
	sb.WriteString(StudyImageStyle(subject))

	if m := strings.TrimSpace(material); m != "" {
		sb.WriteString("\n\n[Worksheet]\n")
		sb.WriteString(truncate(m, c.MaxMaterialChars))
	}
	return withLearner(sb.String(), learner)
}

// StudyImageStyle returns the image style instruction for subject.
func StudyImageStyle(subject string) string {
	if subject == SubjectMedicine {
		return "The image prompt MUST describe a 'high quality 3D render' of the anatomical or biological concept related to the question. " +
			"It should be scientifically accurate but visually clear."
	}
	return "The image prompt MUST describe a 'clear, colorful educational illustration' explaining the concept. " +
		"It should be suitable for a school textbook."
}

// Mnemonic describes a single image that ties all words together.
func (c *Composer) Mnemonic(words []string, lang string) string {
	return fmt.Sprintf("Create a single, creative, memorable, and fun mnemonic image for a child to remember these words: %s. "+
		"The image should visually connect all the words in a playful, vibrant and clever way. Style: %q. The language of the words is %s.",
		strings.Join(words, ", "), StoryImageStyle, lang)
}

// Adventure asks to restyle the person in the attached photo as theme.
func (c *Composer) Adventure(theme, lang string) string {
	return fmt.Sprintf("Transform the person in this photo into %s. Blend the person's face and features seamlessly into the new character and scene. "+
		"The final style should be vibrant, high-quality, and child-friendly, like a still from a modern animated movie. The request is in %s.",
		theme, lang)
}

func withLearner(prompt, learner string) string {
	if learner == "" {
		return prompt
	}
	return "[Learner Profile]\n" + learner + "\n\n---\n\n" + prompt
}

// truncate cuts s to at most n runes without splitting a UTF-8 sequence.
func truncate(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
