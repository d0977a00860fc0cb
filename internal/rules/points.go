package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"survey-platform/internal/priority"
)

// SamplingPoint is a polling station an in-person interviewer is sent to.
type SamplingPoint struct {
	State  string  `json:"state"`
	ACNo   int     `json:"ac_no"`
	ACName string  `json:"ac_name"`
	Group  string  `json:"group"`
	Name   string  `json:"name"`
	Lat    float64 `json:"latitude"`
	Lng    float64 `json:"longitude"`
}

// PointResolver finds the sampling point a response names. ac may be an AC
// name, an AC number or empty.
type PointResolver interface {
	Resolve(ctx context.Context, ac, name string) (SamplingPoint, bool, error)
}

// StaticPoints is an in-memory PointResolver.
type StaticPoints struct {
	byAC   map[string]map[string]SamplingPoint
	byName map[string][]SamplingPoint
}

func NewStaticPoints(points []SamplingPoint) *StaticPoints {
	s := &StaticPoints{byAC: map[string]map[string]SamplingPoint{}, byName: map[string][]SamplingPoint{}}
	for _, p := range points {
		name := priority.Normalize(p.Name)
		for _, ac := range []string{priority.Normalize(p.ACName), strconv.Itoa(p.ACNo)} {
			if ac == "" || ac == "0" {
				continue
			}
			if s.byAC[ac] == nil {
				s.byAC[ac] = map[string]SamplingPoint{}
			}
			s.byAC[ac][name] = p
		}
		s.byName[name] = append(s.byName[name], p)
	}
	return s
}

// Resolve matches by AC and station name, or by station name alone when it
// is unique across ACs.
func (s *StaticPoints) Resolve(ctx context.Context, ac, name string) (SamplingPoint, bool, error) {
	n := priority.Normalize(name)
	if key := priority.Normalize(ac); key != "" {
		p, ok := s.byAC[key][n]
		return p, ok, nil
	}
	if cands := s.byName[n]; len(cands) == 1 {
		return cands[0], true, nil
	}
	return SamplingPoint{}, false, nil
}

func (s *StaticPoints) Len() int {
	n := 0
	for _, c := range s.byName {
		n += len(c)
	}
	return n
}

// pollingStationFile is the state -> AC number -> groups layout produced by
// the polling-station import.
type pollingStationFile map[string]map[string]struct {
	ACName string `json:"ac_name"`
	Groups map[string]struct {
		PollingStations []struct {
			Name      string  `json:"name"`
			Latitude  float64 `json:"latitude"`
			Longitude float64 `json:"longitude"`
		} `json:"polling_stations"`
	} `json:"groups"`
}

// ParseSamplingPoints decodes polling-station JSON. Stations without
// coordinates are skipped.
func ParseSamplingPoints(b []byte) ([]SamplingPoint, error) {
	var f pollingStationFile
	if err := json.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse sampling points: %w", err)
	}
	var out []SamplingPoint
	for state, acs := range f {
		for acNo, ac := range acs {
			no, _ := strconv.Atoi(acNo)
			for group, g := range ac.Groups {
				for _, ps := range g.PollingStations {
					if ps.Name == "" || (ps.Latitude == 0 && ps.Longitude == 0) {
						continue
					}
					out = append(out, SamplingPoint{
						State:  state,
						ACNo:   no,
						ACName: ac.ACName,
						Group:  group,
						Name:   ps.Name,
						Lat:    ps.Latitude,
						Lng:    ps.Longitude,
					})
				}
			}
		}
	}
	return out, nil
}

func LoadSamplingPoints(path string) (*StaticPoints, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sampling points: %w", err)
	}
	pts, err := ParseSamplingPoints(b)
	if err != nil {
		return nil, err
	}
	return NewStaticPoints(pts), nil
}

// LoadSurveyRules reads a JSON object of survey id -> SurveyRules.
func LoadSurveyRules(path string) (map[string]SurveyRules, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read survey rules: %w", err)
	}
	out := map[string]SurveyRules{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("parse survey rules: %w", err)
	}
	return out, nil
}
