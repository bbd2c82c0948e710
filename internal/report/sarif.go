package report

import (
	"encoding/json"
	"io"
)

// No SARIF-producing library exists anywhere in the retrieval pack (see
// DESIGN.md); SARIF is a plain JSON schema, so this renders it directly
// with encoding/json rather than reaching for an unrelated dependency.

const sarifVersion = "2.1.0"
const sarifSchema = "https://raw.githubusercontent.com/oasis-tcs/sarif-spec/master/Schemata/sarif-schema-2.1.0.json"

type sarifLog struct {
	Schema  string     `json:"$schema"`
	Version string     `json:"version"`
	Runs    []sarifRun `json:"runs"`
}

type sarifRun struct {
	Tool              sarifTool               `json:"tool"`
	AutomationDetails *sarifAutomationDetails `json:"automationDetails,omitempty"`
	Results           []sarifResult           `json:"results"`
}

type sarifAutomationDetails struct {
	ID string `json:"id"`
}

type sarifTool struct {
	Driver sarifDriver `json:"driver"`
}

type sarifDriver struct {
	Name  string      `json:"name"`
	Rules []sarifRule `json:"rules"`
}

type sarifRule struct {
	ID string `json:"id"`
}

type sarifResult struct {
	RuleID     string              `json:"ruleId"`
	Level      string              `json:"level"`
	Message    sarifMessage        `json:"message"`
	Locations  []sarifLocation     `json:"locations"`
	Properties sarifResultPropsBag `json:"properties"`
	Suppressions []sarifSuppression `json:"suppressions,omitempty"`
}

type sarifMessage struct {
	Text string `json:"text"`
}

type sarifLocation struct {
	PhysicalLocation sarifPhysicalLocation `json:"physicalLocation"`
}

type sarifPhysicalLocation struct {
	ArtifactLocation sarifArtifactLocation `json:"artifactLocation"`
	Region           sarifRegion           `json:"region"`
}

type sarifArtifactLocation struct {
	URI string `json:"uri"`
}

type sarifRegion struct {
	ByteOffset int64 `json:"byteOffset"`
	StartLine  *int  `json:"startLine,omitempty"`
}

type sarifResultPropsBag struct {
	Confidence int    `json:"confidence"`
	MD5        string `json:"md5"`
}

type sarifSuppression struct {
	Kind   string `json:"kind"`
	Reason string `json:"justification,omitempty"`
}

// WriteSARIF renders findings as a SARIF 2.1.0 log to w. runID, when
// non-empty, is recorded as the run's automationDetails.id so separate
// invocations (e.g. parallel CI shards) stay distinguishable downstream.
func WriteSARIF(w io.Writer, findings []Finding, runID string) error {
	ruleSet := map[string]bool{}
	var rules []sarifRule
	results := make([]sarifResult, 0, len(findings))

	for _, f := range findings {
		if !ruleSet[f.Source.RuleID] {
			ruleSet[f.Source.RuleID] = true
			rules = append(rules, sarifRule{ID: f.Source.RuleID})
		}

		level := "warning"
		var suppressions []sarifSuppression
		if f.Ignored != nil {
			level = "none"
			suppressions = []sarifSuppression{{Kind: "external", Reason: f.Ignored.Reason}}
		}

		results = append(results, sarifResult{
			RuleID: f.Source.RuleID,
			Level:  level,
			Message: sarifMessage{
				Text: f.Source.Description,
			},
			Locations: []sarifLocation{{
				PhysicalLocation: sarifPhysicalLocation{
					ArtifactLocation: sarifArtifactLocation{URI: f.Path},
					Region: sarifRegion{
						ByteOffset: f.Location.Offset,
						StartLine:  f.Location.Line,
					},
				},
			}},
			Properties: sarifResultPropsBag{
				Confidence: f.Confidence,
				MD5:        f.MD5,
			},
			Suppressions: suppressions,
		})
	}

	run := sarifRun{
		Tool:    sarifTool{Driver: sarifDriver{Name: "stacs", Rules: rules}},
		Results: results,
	}
	if runID != "" {
		run.AutomationDetails = &sarifAutomationDetails{ID: runID}
	}

	doc := sarifLog{
		Schema:  sarifSchema,
		Version: sarifVersion,
		Runs:    []sarifRun{run},
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
