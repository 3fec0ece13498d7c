package domain

import (
	"regexp"
	"strings"
	"unicode"
)

// RoadType is the Spanish road classification derived from the road name.
type RoadType string

const (
	RoadAutopista  RoadType = "autopista"  // A-x / AP-x motorways and toll motorways
	RoadNacional   RoadType = "nacional"   // N-x national roads
	RoadAutonomica RoadType = "autonomica" // two-letter regional roads (BI-20, GI-11)
	RoadProvincial RoadType = "provincial" // single-letter provincial/county roads (C-12, L-501)
	RoadLocal      RoadType = "local"
)

// Pattern order matters: AP-/A- must win over the generic single-letter rule,
// N- over the generic rule, and two-letter prefixes over one-letter prefixes.
var roadPatterns = []struct {
	re    *regexp.Regexp
	class RoadType
}{
	{regexp.MustCompile(`^AP?-?\d`), RoadAutopista},
	{regexp.MustCompile(`^N-?\d`), RoadNacional},
	{regexp.MustCompile(`^[A-Z]{2}-?\d`), RoadAutonomica},
	{regexp.MustCompile(`^[A-Z]-?\d`), RoadProvincial},
}

// ClassifyRoadType derives the road class from a road name prefix.
// Names that carry letters but match no national pattern are local roads.
// Returns nil when the name is absent or carries no classifiable content.
func ClassifyRoadType(roadName *string) *RoadType {
	if roadName == nil {
		return nil
	}
	name := strings.ToUpper(strings.TrimSpace(*roadName))
	if name == "" {
		return nil
	}

	for _, p := range roadPatterns {
		if p.re.MatchString(name) {
			rt := p.class
			return &rt
		}
	}

	for _, r := range name {
		if unicode.IsLetter(r) {
			rt := RoadLocal
			return &rt
		}
	}
	return nil
}
