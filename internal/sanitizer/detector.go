package sanitizer

import (
	"regexp"

	"github.com/zifrone/contact/internal/contact"
)

// pattern names a content signature that suggests an injection attempt
type pattern struct {
	name  string
	regex *regexp.Regexp
}

var dangerousPatterns = []pattern{
	{"script", regexp.MustCompile(`(?i)<script`)},
	{"javascript_uri", regexp.MustCompile(`(?i)javascript:`)},
	{"vbscript_uri", regexp.MustCompile(`(?i)vbscript:`)},
	{"event_handler", regexp.MustCompile(`(?i)on\w+\s*=`)},
	{"iframe", regexp.MustCompile(`(?i)<iframe`)},
	{"object", regexp.MustCompile(`(?i)<object`)},
	{"embed", regexp.MustCompile(`(?i)<embed`)},
	{"applet", regexp.MustCompile(`(?i)<applet`)},
	{"form", regexp.MustCompile(`(?i)<form`)},
}

// Detect returns the names of the dangerous patterns found in input.
// Detection never blocks a submission; callers log and count the findings.
func Detect(input string) []string {
	var found []string
	for _, p := range dangerousPatterns {
		if p.regex.MatchString(input) {
			found = append(found, p.name)
		}
	}
	if RemoveDataURIs(input) != input {
		found = append(found, "data_uri")
	}
	return found
}

// ContainsDangerousContent reports whether any dangerous pattern is present
func ContainsDangerousContent(input string) bool {
	return len(Detect(input)) > 0
}

// DetectSubmission runs Detect over every field and returns findings per field
func DetectSubmission(sub contact.Submission) map[contact.Field][]string {
	findings := make(map[contact.Field][]string)
	for _, f := range contact.Fields {
		if found := Detect(sub.Get(f)); len(found) > 0 {
			findings[f] = found
		}
	}
	return findings
}
