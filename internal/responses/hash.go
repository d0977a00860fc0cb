package responses

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// HashBucket is the start-time granularity of the content hash.
const HashBucket = time.Minute

// ContentHash identifies one physical interview across retried submissions.
// Answers are compared independent of order, case and surrounding whitespace.
func ContentHash(interviewerID, surveyID string, start time.Time, answers []Answer) string {
	h := sha256.New()
	write := func(s string) {
		h.Write([]byte(s))
		h.Write([]byte{0})
	}
	write(interviewerID)
	write(surveyID)
	write(strconv.FormatInt(start.UTC().Truncate(HashBucket).Unix(), 10))

	for _, line := range normalizedAnswers(answers) {
		write(line)
	}
	return hex.EncodeToString(h.Sum(nil))
}

func normalizedAnswers(answers []Answer) []string {
	sorted := make([]Answer, len(answers))
	copy(sorted, answers)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].QuestionID < sorted[j].QuestionID })

	out := make([]string, 0, len(sorted))
	for _, a := range sorted {
		codes := make([]string, len(a.ResponseCodes))
		for i, c := range a.ResponseCodes {
			codes[i] = strings.ToLower(strings.TrimSpace(c))
		}
		sort.Strings(codes)
		out = append(out, a.QuestionID+"="+canonicalValue(a.Response)+"|"+strings.Join(codes, ","))
	}
	return out
}

// canonicalValue renders an answer value so equal answers compare equal.
func canonicalValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(t))
	case []any:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = canonicalValue(p)
		}
		return "[" + strings.Join(parts, ",") + "]"
	case primitive.A:
		return canonicalValue([]any(t))
	case []string:
		parts := make([]string, len(t))
		for i, p := range t {
			parts[i] = canonicalValue(p)
		}
		return "[" + strings.Join(parts, ",") + "]"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// SameAnswers reports full response-content equality.
func SameAnswers(a, b []Answer) bool {
	x, y := normalizedAnswers(a), normalizedAnswers(b)
	if len(x) != len(y) {
		return false
	}
	for i := range x {
		if x[i] != y[i] {
			return false
		}
	}
	return true
}

// AnswersKey is a compact canonical form of the answers; equal keys mean
// full response-content equality.
func AnswersKey(answers []Answer) string {
	return strings.Join(normalizedAnswers(answers), "\n")
}
