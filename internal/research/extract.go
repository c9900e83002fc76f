package research

import (
	"regexp"
	"strings"

	"github.com/ownedby/ownership-cli/internal/model"
)

// ownerName matches a capitalized company name, optionally with a legal
// suffix. Kept deliberately tight: a loose match here becomes a
// hallucinated owner downstream.
const ownerName = `([A-Z][\w&.''-]*(?:\s+[A-Z&][\w&.''-]*){0,5}(?:\s+(?:A/S|ApS|AB|AS|ASA|AG|GmbH|S\.A\.|S\.p\.A\.|B\.V\.|N\.V\.|PLC|Plc|Ltd\.?|LLC|Inc\.?|Corp\.?|Co\.?|Company|Group|Holdings?))?)`

type pattern struct {
	re           *regexp.Regexp
	evidenceType model.EvidenceType
	// ownerGroup is the capture group holding the owning entity.
	ownerGroup int
}

var patterns = []pattern{
	{regexp.MustCompile(`(?:is|are)\s+(?:a\s+)?(?:wholly.owned\s+)?subsidiar(?:y|ies)\s+of\s+` + ownerName), model.EvidenceSubsidiary, 1},
	{regexp.MustCompile(`(?:was|were|been|is|are)\s+acquired\s+by\s+` + ownerName), model.EvidenceAcquisition, 1},
	{regexp.MustCompile(`parent\s+(?:company|organization|group)\s+(?:is|of\s+[\w\s]+\s+is)\s+` + ownerName), model.EvidenceParent, 1},
	{regexp.MustCompile(`(?:is|are)\s+(?:a\s+)?(?:division|unit|brand)\s+of\s+` + ownerName), model.EvidenceDivision, 1},
	{regexp.MustCompile(`(?:is\s+)?owned\s+(?:and\s+operated\s+)?by\s+` + ownerName), model.EvidenceMention, 1},
	{regexp.MustCompile(ownerName + `\s+(?:owns|acquired|bought|purchased)\s+`), model.EvidenceMention, 1},
}

// snippetRadius is how much surrounding text each finding keeps.
const snippetRadius = 120

// Extract pulls ownership assertions out of page or snippet text. The
// source URL determines each finding's confidence contribution.
func Extract(text, source string) []model.Finding {
	trust := TrustScore(source)
	var findings []model.Finding
	seen := make(map[string]bool)

	for _, p := range patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			ownerStart, ownerEnd := loc[2*p.ownerGroup], loc[2*p.ownerGroup+1]
			if ownerStart < 0 {
				continue
			}
			owner := cleanOwner(text[ownerStart:ownerEnd])
			if owner == "" {
				continue
			}
			key := strings.ToLower(owner) + "|" + string(p.evidenceType)
			if seen[key] {
				continue
			}
			seen[key] = true

			start := loc[0] - snippetRadius
			if start < 0 {
				start = 0
			}
			end := loc[1] + snippetRadius
			if end > len(text) {
				end = len(text)
			}
			findings = append(findings, model.Finding{
				Owner:        owner,
				Source:       source,
				EvidenceType: p.evidenceType,
				Snippet:      strings.TrimSpace(text[start:end]),
				Contribution: trust,
			})
		}
	}
	return findings
}

// stopOwners are capitalized phrases the name pattern can catch that are
// never company names.
var stopOwners = map[string]bool{
	"the": true, "it": true, "its": true, "this": true, "that": true,
	"a": true, "an": true, "in": true, "as": true, "the company": true,
}

func cleanOwner(s string) string {
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ".,;:")
	if len(s) < 2 || stopOwners[strings.ToLower(s)] {
		return ""
	}
	return s
}
