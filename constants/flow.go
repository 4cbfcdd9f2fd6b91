package constants

import "strings"

// Flow selects which admission pipeline variant a job runs.
type Flow string

const (
	FlowUniversity Flow = "university" // DU-style: login, single form, OTP then payment
	FlowFaculty    Flow = "faculty"    // BUP-style: sectioned form, CAPTCHA then payment
)

// Faculty codes accepted by the faculty admission flow.
type Faculty string

const (
	FacultyArts     Faculty = "FASS"
	FacultyBusiness Faculty = "FBS"
	FacultyScience  Faculty = "FST"
	FacultySecurity Faculty = "FSSS"
)

var facultySynonyms = map[string]Faculty{
	"arts and social sciences":       FacultyArts,
	"business studies":               FacultyBusiness,
	"science and technology":         FacultyScience,
	"security and strategic studies": FacultySecurity,
}

// CanonicalFaculty maps free-form faculty input to a known code.
// The second return is false when the input did not match.
func CanonicalFaculty(input string) (Faculty, bool) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	normalized = strings.TrimPrefix(normalized, "faculty of ")
	if normalized == "" {
		return "", false
	}
	if f, ok := facultySynonyms[normalized]; ok {
		return f, true
	}
	for _, f := range []Faculty{FacultyArts, FacultyBusiness, FacultyScience, FacultySecurity} {
		if strings.EqualFold(normalized, string(f)) {
			return f, true
		}
	}
	return "", false
}
