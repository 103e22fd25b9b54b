package profile

// Profile describes the child the app talks to. Language and Interests fill
// in request fields the caller leaves empty.
type Profile struct {
	Name      string   `json:"name,omitempty"`
	Age       int      `json:"age,omitempty"`
	Language  string   `json:"language,omitempty"`
	Interests []string `json:"interests,omitempty"`
}

// Profile keys as stored in the user_profile table. Interests is a JSON array,
// age a JSON number, the rest plain strings.
const (
	KeyName      = "name"
	KeyAge       = "age"
	KeyLanguage  = "language"
	KeyInterests = "interests"
)

// IsZero reports whether nothing has been configured.
func (p Profile) IsZero() bool {
	return p.Name == "" && p.Age == 0 && p.Language == "" && len(p.Interests) == 0
}
