package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

const stationsJSON = `{
  "Bihar": {
    "12": {
      "ac_name": "Sample AC",
      "groups": {
        "Group 1": {"polling_stations": [
          {"name": "PS 4 Govt School", "gps_location": "25.59,85.13", "latitude": 25.59, "longitude": 85.13},
          {"name": "PS 9 Panchayat Bhawan", "latitude": 0, "longitude": 0}
        ]}
      }
    },
    "13": {
      "ac_name": "Other AC",
      "groups": {"Group 2": {"polling_stations": [
        {"name": "PS 4 Govt School", "latitude": 25.7, "longitude": 85.2}
      ]}}
    }
  }
}`

func TestLoadSamplingPoints(t *testing.T) {
	path := filepath.Join(t.TempDir(), "polling_stations.json")
	if err := os.WriteFile(path, []byte(stationsJSON), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	pts, err := LoadSamplingPoints(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if pts.Len() != 2 {
		t.Fatalf("expected 2 stations with coordinates, got %d", pts.Len())
	}

	ctx := context.Background()
	p, ok, _ := pts.Resolve(ctx, "12", "ps 4 govt school")
	if !ok || p.Lat != 25.59 || p.Group != "Group 1" {
		t.Fatalf("resolve by AC number: %+v %v", p, ok)
	}
	p, ok, _ = pts.Resolve(ctx, "OTHER AC", "PS 4 Govt School")
	if !ok || p.ACNo != 13 {
		t.Fatalf("resolve by AC name: %+v %v", p, ok)
	}
	if _, ok, _ := pts.Resolve(ctx, "", "PS 4 Govt School"); ok {
		t.Fatalf("ambiguous station name without AC must not resolve")
	}
}

func TestLoadSurveyRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rules.json")
	body := `{"s1": {"eligibilityQuestionId": "q_voter", "ineligibleAnswers": ["No", "Not registered"], "contactQuestionId": "q_phone"}}`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	rules, err := LoadSurveyRules(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if rules["s1"].ContactQuestionID != "q_phone" || len(rules["s1"].IneligibleAnswers) != 2 {
		t.Fatalf("unexpected rules %+v", rules)
	}
}
