package services

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"gorm.io/datatypes"
)

// Canonical column names understood by the batch processor.
const (
	colCompanyName    = "company_name"
	colDomain         = "domain"
	colIndustry       = "industry"
	colCompanySize    = "company_size"
	colAddress        = "address"
	colCity           = "city"
	colState          = "state"
	colCountry        = "country"
	colContactName    = "contact_name"
	colEmail          = "email"
	colPhone          = "phone"
	colTitle          = "title"
	colLinkedInURL    = "linkedin_url"
	colIntentScore    = "intent_score"
	colFreshnessScore = "freshness_score"
)

// headerAliases maps normalized header cells to canonical columns.
var headerAliases = map[string]string{
	"company_name":    colCompanyName,
	"company":         colCompanyName,
	"business_name":   colCompanyName,
	"business":        colCompanyName,
	"organization":    colCompanyName,
	"account_name":    colCompanyName,
	"domain":          colDomain,
	"website":         colDomain,
	"company_domain":  colDomain,
	"url":             colDomain,
	"industry":        colIndustry,
	"sector":          colIndustry,
	"company_size":    colCompanySize,
	"size":            colCompanySize,
	"employees":       colCompanySize,
	"address":         colAddress,
	"street":          colAddress,
	"street_address":  colAddress,
	"city":            colCity,
	"town":            colCity,
	"state":           colState,
	"region":          colState,
	"province":        colState,
	"country":         colCountry,
	"contact_name":    colContactName,
	"contact":         colContactName,
	"full_name":       colContactName,
	"email":           colEmail,
	"email_address":   colEmail,
	"contact_email":   colEmail,
	"phone":           colPhone,
	"phone_number":    colPhone,
	"telephone":       colPhone,
	"title":           colTitle,
	"job_title":       colTitle,
	"linkedin_url":    colLinkedInURL,
	"linkedin":        colLinkedInURL,
	"intent_score":    colIntentScore,
	"intent":          colIntentScore,
	"freshness_score": colFreshnessScore,
	"freshness":       colFreshnessScore,
}

var errMissingCompanyColumn = errors.New("header has no company_name column")

func headerKey(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.NewReplacer(" ", "_", "-", "_", ".", "_").Replace(h)
}

type extraColumn struct {
	name string
	idx  int
}

// columnMap resolves canonical columns to record positions. Columns that
// match no alias are kept as extras and stored in the lead's attributes.
type columnMap struct {
	idx    map[string]int
	extras []extraColumn
	width  int
}

func newColumnMap(header []string) (*columnMap, error) {
	m := &columnMap{idx: make(map[string]int, len(header)), width: len(header)}
	for i, h := range header {
		key := headerKey(h)
		if key == "" {
			continue
		}
		if canon, ok := headerAliases[key]; ok {
			if _, dup := m.idx[canon]; !dup {
				m.idx[canon] = i
			}
			continue
		}
		m.extras = append(m.extras, extraColumn{name: key, idx: i})
	}
	if _, ok := m.idx[colCompanyName]; !ok {
		return nil, errMissingCompanyColumn
	}
	return m, nil
}

func (m *columnMap) get(rec []string, col string) string {
	i, ok := m.idx[col]
	if !ok || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func (m *columnMap) attributes(rec []string) datatypes.JSON {
	if len(m.extras) == 0 {
		return nil
	}
	out := make(map[string]string, len(m.extras))
	for _, e := range m.extras {
		if e.idx < len(rec) {
			if v := strings.TrimSpace(rec[e.idx]); v != "" {
				out[e.name] = v
			}
		}
	}
	if len(out) == 0 {
		return nil
	}
	b, err := json.Marshal(out)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// leadRow is one parsed data row before normalization.
type leadRow struct {
	CompanyName    string
	Domain         string
	Industry       string
	CompanySize    string
	Address        string
	City           string
	State          string
	Country        string
	ContactName    string
	Email          string
	Phone          string
	Title          string
	LinkedInURL    string
	IntentScore    int
	FreshnessScore int
}

// Validate implements validation.Validatable.
func (r leadRow) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.CompanyName, validation.Required, validation.RuneLength(1, 255)),
		validation.Field(&r.Domain, is.Domain),
		validation.Field(&r.Email, is.EmailFormat),
		validation.Field(&r.LinkedInURL, is.URL),
		validation.Field(&r.IntentScore, validation.Min(0), validation.Max(100)),
		validation.Field(&r.FreshnessScore, validation.Min(0), validation.Max(100)),
		validation.Field(&r.Country, validation.RuneLength(0, 128)),
		validation.Field(&r.City, validation.RuneLength(0, 128)),
		validation.Field(&r.State, validation.RuneLength(0, 128)),
	)
}

// hasIdentity reports whether the row carries at least one identifying
// field: email, phone, domain or a city and country pair.
func (r leadRow) hasIdentity() bool {
	return r.Email != "" || r.Phone != "" || r.Domain != "" || (r.City != "" && r.Country != "")
}

// parseRow maps rec onto a leadRow. Score cells that are not integers are
// reported as validation errors.
func parseRow(m *columnMap, rec []string) (leadRow, error) {
	r := leadRow{
		CompanyName: m.get(rec, colCompanyName),
		Domain:      m.get(rec, colDomain),
		Industry:    m.get(rec, colIndustry),
		CompanySize: m.get(rec, colCompanySize),
		Address:     m.get(rec, colAddress),
		City:        m.get(rec, colCity),
		State:       m.get(rec, colState),
		Country:     m.get(rec, colCountry),
		ContactName: m.get(rec, colContactName),
		Email:       m.get(rec, colEmail),
		Phone:       m.get(rec, colPhone),
		Title:       m.get(rec, colTitle),
		LinkedInURL: m.get(rec, colLinkedInURL),
	}
	var err error
	if r.IntentScore, err = parseScore(m.get(rec, colIntentScore)); err != nil {
		return r, invalid(colIntentScore, "must be an integer")
	}
	if r.FreshnessScore, err = parseScore(m.get(rec, colFreshnessScore)); err != nil {
		return r, invalid(colFreshnessScore, "must be an integer")
	}
	return r, nil
}

func parseScore(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true
	return cr
}

type rejectedRow struct {
	row    int
	rec    []string
	reason string
}

// rejectLog collects invalid rows from concurrent workers and renders them
// as a CSV report in row order.
type rejectLog struct {
	mu     sync.Mutex
	header []string
	rows   []rejectedRow
}

func newRejectLog(header []string) *rejectLog {
	return &rejectLog{header: append([]string(nil), header...)}
}

func (l *rejectLog) add(row int, rec []string, reason string) {
	l.mu.Lock()
	l.rows = append(l.rows, rejectedRow{row: row, rec: rec, reason: reason})
	l.mu.Unlock()
}

func (l *rejectLog) len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rows)
}

// encode writes the original header plus row_number and rejection_reason.
// Records are padded or cut to the header width.
func (l *rejectLog) encode() ([]byte, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	sort.Slice(l.rows, func(i, j int) bool { return l.rows[i].row < l.rows[j].row })

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	width := len(l.header)
	if err := w.Write(append(append([]string(nil), l.header...), "row_number", "rejection_reason")); err != nil {
		return nil, err
	}
	for _, r := range l.rows {
		out := make([]string, width, width+2)
		copy(out, r.rec)
		out = append(out, strconv.Itoa(r.row), r.reason)
		if err := w.Write(out); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}
