package lead

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode"

	"github.com/jmoiron/sqlx"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/asd12288/meydacrm/internal/auth"
	"github.com/asd12288/meydacrm/internal/history"
	"github.com/asd12288/meydacrm/internal/realtime"
	"github.com/asd12288/meydacrm/internal/validation"
)

// ErrNoNameColumn is returned when an import header has neither a first
// nor a last name column.
var ErrNoNameColumn = errors.New("colonne Prénom ou Nom manquante")

// headerAliases lists the accepted header names per field, French first.
var headerAliases = map[string][]string{
	"external_id": {"Référence", "Réf", "ID externe", "external_id", "reference"},
	"first_name":  {"Prénom", "first_name", "first name", "firstname"},
	"last_name":   {"Nom", "last_name", "last name", "lastname", "surname", "Nom de famille"},
	"email":       {"Email", "E-mail", "Courriel", "Mail"},
	"phone":       {"Téléphone", "Tél", "Tel", "Phone", "Mobile", "Portable"},
	"company":     {"Entreprise", "Société", "Company"},
	"job_title":   {"Poste", "Fonction", "job_title", "Job title", "Title"},
	"address":     {"Adresse", "Address"},
	"city":        {"Ville", "City"},
	"postal_code": {"Code postal", "CP", "postal_code", "Postal code", "Zip", "Zip code"},
	"country":     {"Pays", "Country"},
	"source":      {"Source", "Origine"},
	"status":      {"Statut", "Status"},
	"notes":       {"Notes", "Note", "Commentaire", "Remarques"},
}

var headerIndex = func() map[string]string {
	idx := map[string]string{}
	for field, names := range headerAliases {
		for _, n := range names {
			idx[foldKey(n)] = field
		}
	}
	return idx
}()

// foldKey lowercases s, strips accents and drops everything that is not a
// letter or digit, so "Téléphone", "telephone" and "TÉLÉ-PHONE" compare equal.
func foldKey(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	var b strings.Builder
	for _, r := range strings.ToLower(folded) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ImportError reports a rejected CSV line.
type ImportError struct {
	Line    int    `json:"line"`
	Message string `json:"message"`
}

// ImportResult summarizes an import.
type ImportResult struct {
	Imported int           `json:"imported"`
	Skipped  int           `json:"skipped"`
	Errors   []ImportError `json:"errors"`
}

// Import reads leads from a CSV whose first row is a header. Rows failing
// validation are reported and skipped; the valid ones are created in one
// transaction, assigned to defaultAssignee when set.
func (s *Service) Import(ctx context.Context, r io.Reader, actor auth.Principal, defaultAssignee *int64) (*ImportResult, error) {
	if err := requireAdmin(actor); err != nil {
		return nil, err
	}

	br := bufio.NewReader(r)
	if bom, _ := br.Peek(3); bytes.Equal(bom, []byte("\xef\xbb\xbf")) {
		_, _ = br.Discard(3)
	}
	cr := csv.NewReader(br)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comma = sniffComma(br)

	header, err := cr.Read()
	if err == io.EOF {
		return &ImportResult{Errors: []ImportError{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	columns := mapHeader(header)
	if !hasColumn(columns, "first_name") && !hasColumn(columns, "last_name") {
		return nil, ErrNoNameColumn
	}

	res := &ImportResult{Errors: []ImportError{}}
	type row struct {
		line int
		in   Input
	}
	var rows []row
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				res.Errors = append(res.Errors, ImportError{Line: perr.StartLine, Message: "ligne illisible"})
				res.Skipped++
				continue
			}
			return nil, fmt.Errorf("reading csv: %w", err)
		}
		if blank(record) {
			continue
		}
		line, _ := cr.FieldPos(0)

		in, err := inputFromRecord(record, columns)
		if err == nil {
			in.trim()
			err = validation.Struct(in)
		}
		if err != nil {
			res.Errors = append(res.Errors, ImportError{Line: line, Message: err.Error()})
			res.Skipped++
			continue
		}
		if in.AssignedTo == nil {
			in.AssignedTo = defaultAssignee
		}
		rows = append(rows, row{line: line, in: in})
	}

	if len(rows) == 0 {
		return res, nil
	}

	err = s.withTx(ctx, func(tx *sqlx.Tx) error {
		if defaultAssignee != nil {
			if err := s.checkAssignees(ctx, tx, []int64{*defaultAssignee}); err != nil {
				return err
			}
		}
		for _, rw := range rows {
			if _, err := s.createTx(ctx, tx, rw.in, actor, history.Imported); err != nil {
				return fmt.Errorf("line %d: %w", rw.line, err)
			}
			res.Imported++
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateStats(ctx)
	logger(ctx).Info().Int("imported", res.Imported).Int("skipped", res.Skipped).Msg("leads imported")
	if defaultAssignee != nil {
		s.countAssigned(defaultAssignee, res.Imported)
	}
	s.publish(realtime.LeadCreated, map[string]int{"imported": res.Imported}, defaultAssignee)
	return res, nil
}

// sniffComma picks the separator that occurs most often in the header
// line: ',' by default, ';' for French spreadsheet exports and tab for
// pasted or TSV files.
func sniffComma(br *bufio.Reader) rune {
	head, _ := br.Peek(4096)
	if i := bytes.IndexByte(head, '\n'); i >= 0 {
		head = head[:i]
	}
	best, most := ',', bytes.Count(head, []byte(","))
	for _, c := range []rune{';', '\t'} {
		if n := bytes.Count(head, []byte(string(c))); n > most {
			best, most = c, n
		}
	}
	return best
}

func mapHeader(header []string) map[string]int {
	columns := map[string]int{}
	for i, h := range header {
		if i == 0 {
			h = strings.TrimPrefix(h, "\ufeff")
		}
		field, ok := headerIndex[foldKey(h)]
		if !ok {
			continue
		}
		if _, dup := columns[field]; !dup {
			columns[field] = i
		}
	}
	return columns
}

func hasColumn(columns map[string]int, field string) bool {
	_, ok := columns[field]
	return ok
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func inputFromRecord(record []string, columns map[string]int) (Input, error) {
	get := func(field string) string {
		i, ok := columns[field]
		if !ok || i >= len(record) {
			return ""
		}
		return strings.TrimPrefix(record[i], "'")
	}

	in := Input{
		ExternalID: get("external_id"),
		FirstName:  get("first_name"),
		LastName:   get("last_name"),
		Email:      get("email"),
		Phone:      get("phone"),
		Company:    get("company"),
		JobTitle:   get("job_title"),
		Address:    get("address"),
		City:       get("city"),
		PostalCode: get("postal_code"),
		Country:    get("country"),
		Source:     get("source"),
		Notes:      get("notes"),
	}
	if raw := strings.TrimSpace(get("status")); raw != "" {
		st, err := ParseStatus(raw)
		if err != nil {
			return in, validation.Errors{"status": "Statut inconnu : " + raw}
		}
		in.Status = st
	}
	return in, nil
}
