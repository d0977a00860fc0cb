package reports

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"survey-platform/internal/responses"
)

// ResponseSource pages through stored responses.
type ResponseSource interface {
	List(ctx context.Context, f responses.Filter, after responses.Cursor, limit int) ([]responses.Response, error)
}

const exportPageSize = 500

var fixedColumns = []string{
	"Response ID", "Survey ID", "Interviewer ID", "Mode", "Status",
	"Start Time", "Duration (s)", "AC", "Sampling Point", "Latitude", "Longitude",
}

// CollectReportable returns the responses a report may count: approved and
// pending review. Rejected, abandoned and terminated responses are left out.
func CollectReportable(ctx context.Context, src ResponseSource, f responses.Filter) ([]responses.Response, error) {
	var (
		out    []responses.Response
		cursor responses.Cursor
	)
	for {
		page, err := src.List(ctx, f, cursor, exportPageSize)
		if err != nil {
			return nil, eris.Wrap(err, "reports: list responses")
		}
		for _, r := range page {
			switch r.Disposition.Kind {
			case responses.DispositionApproved, responses.DispositionPendingApproval:
				out = append(out, r)
			}
		}
		if len(page) < exportPageSize {
			return out, nil
		}
		last := page[len(page)-1]
		cursor = responses.Cursor{CreatedAt: last.CreatedAt, ID: last.ID}
	}
}

// WriteResponsesXLSX writes one row per response and one column per question.
// Question columns are ordered by question id.
func WriteResponsesXLSX(path string, rows []responses.Response) error {
	qids := map[string]string{}
	for _, r := range rows {
		for _, a := range r.Answers {
			if _, ok := qids[a.QuestionID]; !ok || qids[a.QuestionID] == "" {
				qids[a.QuestionID] = a.QuestionText
			}
		}
	}
	questions := make([]string, 0, len(qids))
	for id := range qids {
		questions = append(questions, id)
	}
	sort.Strings(questions)

	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Responses")
	if err != nil {
		return eris.Wrap(err, "reports: add sheet")
	}
	header := sheet.AddRow()
	for _, c := range fixedColumns {
		header.AddCell().SetString(c)
	}
	for _, id := range questions {
		title := id
		if t := qids[id]; t != "" {
			title = id + " " + t
		}
		header.AddCell().SetString(title)
	}

	for _, r := range rows {
		row := sheet.AddRow()
		row.AddCell().SetString(r.ID)
		row.AddCell().SetString(r.SurveyID)
		row.AddCell().SetString(r.InterviewerID)
		row.AddCell().SetString(string(r.Mode))
		row.AddCell().SetString(string(r.Disposition.Kind))
		row.AddCell().SetString(r.StartTime.UTC().Format("2006-01-02 15:04:05"))
		row.AddCell().SetInt(r.TotalTimeSpentSeconds)
		row.AddCell().SetString(r.AC)
		row.AddCell().SetString(r.SamplingPoint)
		if r.Location != nil {
			row.AddCell().SetString(strconv.FormatFloat(r.Location.Lat, 'f', 6, 64))
			row.AddCell().SetString(strconv.FormatFloat(r.Location.Lng, 'f', 6, 64))
		} else {
			row.AddCell().SetString("")
			row.AddCell().SetString("")
		}
		for _, id := range questions {
			a, _ := r.Find(id)
			row.AddCell().SetString(a.Text())
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "reports: save %s", path)
	}
	return nil
}

// RunSurvey exports a survey's reportable responses and feeds them to the generator.
func (g *Generator) RunSurvey(ctx context.Context, src ResponseSource, surveyID string, refDate time.Time) (Result, error) {
	if surveyID == "" {
		return Result{}, fmt.Errorf("%w: survey id required", ErrInvalidRequest)
	}
	rows, err := CollectReportable(ctx, src, responses.Filter{SurveyID: surveyID})
	if err != nil {
		return Result{}, err
	}
	if len(rows) == 0 {
		return Result{}, fmt.Errorf("%w: survey %s has no reportable responses", ErrInvalidRequest, surveyID)
	}
	dir, err := os.MkdirTemp("", "survey-export-*")
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(dir)

	input := filepath.Join(dir, surveyID+".xlsx")
	if err := WriteResponsesXLSX(input, rows); err != nil {
		return Result{}, err
	}
	return g.Run(ctx, Request{SurveyID: surveyID, InputPath: input, RefDate: refDate})
}
