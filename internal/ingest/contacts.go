package ingest

import (
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"survey-platform/internal/queue"
)

// Options configures the contact sheet reader.
type Options struct {
	SheetIndex int    // default 0
	SheetName  string // if set, overrides SheetIndex
	// HeaderRow is the zero-based row holding column titles.
	HeaderRow int
}

// Result is the parsed sheet plus what was dropped on the way.
type Result struct {
	Contacts []queue.Contact
	// Dropped counts data rows without a usable phone number.
	Dropped int
	// Columns maps each recognized field to its column title.
	Columns map[string]string
}

const (
	fieldName    = "name"
	fieldPhone   = "phone"
	fieldAC      = "ac"
	fieldPC      = "pc"
	fieldPS      = "ps"
	fieldEmail   = "email"
	fieldAddress = "address"
)

var headerAliases = map[string]string{
	"name":                       fieldName,
	"full name":                  fieldName,
	"respondent name":            fieldName,
	"respondent":                 fieldName,
	"agent name":                 fieldName,
	"phone":                      fieldPhone,
	"phone number":               fieldPhone,
	"phone no":                   fieldPhone,
	"mobile":                     fieldPhone,
	"mobile number":              fieldPhone,
	"mobile no":                  fieldPhone,
	"contact":                    fieldPhone,
	"contact number":             fieldPhone,
	"contact no":                 fieldPhone,
	"ac":                         fieldAC,
	"ac name":                    fieldAC,
	"assembly constituency":      fieldAC,
	"pc":                         fieldPC,
	"pc name":                    fieldPC,
	"parliamentary constituency": fieldPC,
	"ps":                         fieldPS,
	"ps name":                    fieldPS,
	"polling station":            fieldPS,
	"email":                      fieldEmail,
	"email id":                   fieldEmail,
	"address":                    fieldAddress,
}

// ReadContacts reads respondent contacts from an xlsx sheet.
func ReadContacts(path string, opts Options) ([]queue.Contact, error) {
	res, err := ReadContactSheet(path, opts)
	if err != nil {
		return nil, err
	}
	return res.Contacts, nil
}

// ReadContactSheet is ReadContacts with the drop count and column mapping.
func ReadContactSheet(path string, opts Options) (Result, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return Result{}, eris.Wrap(err, "ingest: open contact sheet")
	}
	sheet, err := getSheet(f, opts)
	if err != nil {
		return Result{}, err
	}
	rows := make([][]string, 0, len(sheet.Rows))
	for _, row := range sheet.Rows {
		rows = append(rows, rowToStrings(row))
	}
	return ParseRows(rows, opts.HeaderRow)
}

// ParseRows maps sheet rows to contacts. The phone column is required; rows
// with an empty phone cell are dropped.
func ParseRows(rows [][]string, headerRow int) (Result, error) {
	if headerRow < 0 || headerRow >= len(rows) {
		return Result{}, eris.Errorf("ingest: header row %d not present (sheet has %d rows)", headerRow, len(rows))
	}
	cols, titles := mapHeader(rows[headerRow])
	if _, ok := cols[fieldPhone]; !ok {
		return Result{}, eris.New("ingest: no phone column in header")
	}

	res := Result{Contacts: []queue.Contact{}, Columns: titles}
	for _, cells := range rows[headerRow+1:] {
		if blank(cells) {
			continue
		}
		get := func(field string) string {
			i, ok := cols[field]
			if !ok || i >= len(cells) {
				return ""
			}
			return strings.TrimSpace(cells[i])
		}
		phone := cleanPhone(get(fieldPhone))
		if phone == "" {
			res.Dropped++
			continue
		}
		res.Contacts = append(res.Contacts, queue.Contact{
			Name:    get(fieldName),
			Phone:   phone,
			AC:      get(fieldAC),
			PC:      get(fieldPC),
			PS:      get(fieldPS),
			Email:   get(fieldEmail),
			Address: get(fieldAddress),
		})
	}
	return res, nil
}

func mapHeader(header []string) (map[string]int, map[string]string) {
	cols := map[string]int{}
	titles := map[string]string{}
	for i, h := range header {
		field, ok := headerAliases[normalizeHeader(h)]
		if !ok {
			continue
		}
		// first matching column wins
		if _, dup := cols[field]; dup {
			continue
		}
		cols[field] = i
		titles[field] = strings.TrimSpace(h)
	}
	return cols, titles
}

func normalizeHeader(h string) string {
	h = strings.ToLower(h)
	var b strings.Builder
	space := false
	for _, r := range h {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			if space && b.Len() > 0 {
				b.WriteByte(' ')
			}
			space = false
			b.WriteRune(r)
			continue
		}
		space = true
	}
	return b.String()
}

// cleanPhone undoes spreadsheet number formatting ("9876543210.0", "9.87654321E+09").
func cleanPhone(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if strings.ContainsAny(v, "eE") {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return strconv.FormatFloat(f, 'f', 0, 64)
		}
	}
	if i := strings.Index(v, "."); i > 0 && strings.Trim(v[i+1:], "0") == "" {
		v = v[:i]
	}
	return v
}

func blank(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func getSheet(f *xlsx.File, opts Options) (*xlsx.Sheet, error) {
	if opts.SheetName != "" {
		sheet, ok := f.Sheet[opts.SheetName]
		if !ok {
			return nil, eris.Errorf("ingest: sheet %q not found", opts.SheetName)
		}
		return sheet, nil
	}
	if opts.SheetIndex < 0 || opts.SheetIndex >= len(f.Sheets) {
		return nil, eris.Errorf("ingest: sheet index %d out of range (file has %d sheets)", opts.SheetIndex, len(f.Sheets))
	}
	return f.Sheets[opts.SheetIndex], nil
}

func rowToStrings(row *xlsx.Row) []string {
	cells := make([]string, len(row.Cells))
	for j, cell := range row.Cells {
		cells[j] = cell.String()
	}
	return cells
}
