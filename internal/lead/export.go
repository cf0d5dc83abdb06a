package lead

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/asd12288/meydacrm/internal/auth"
)

const exportDateLayout = "02/01/2006 15:04"

var exportHeader = []string{
	"ID", "Prénom", "Nom", "Email", "Téléphone", "Entreprise", "Poste", "Adresse",
	"Ville", "Code postal", "Pays", "Source", "Statut", "Assigné à", "Créé le", "Mis à jour le",
}

// Export writes the leads matching f within scope as a UTF-8 CSV with a
// byte order mark, French headers and CRLF line endings.
func (s *Service) Export(ctx context.Context, w io.Writer, f Filter, scope auth.Principal) (int, error) {
	for _, st := range f.Statuses {
		if !st.IsValid() {
			return 0, ErrInvalidStatus
		}
	}
	leads, err := s.repo.list(ctx, f, scope, 0, 0)
	if err != nil {
		return 0, err
	}
	if err := WriteCSV(w, leads, s.loc); err != nil {
		return 0, err
	}
	return len(leads), nil
}

// WriteCSV renders leads in the export format, formatting dates in loc.
func WriteCSV(w io.Writer, leads []*Lead, loc *time.Location) error {
	if loc == nil {
		loc = time.UTC
	}
	if _, err := io.WriteString(w, "\ufeff"); err != nil {
		return fmt.Errorf("writing bom: %w", err)
	}

	cw := csv.NewWriter(w)
	cw.UseCRLF = true
	if err := cw.Write(exportHeader); err != nil {
		return fmt.Errorf("writing header: %w", err)
	}
	for _, l := range leads {
		record := []string{
			strconv.FormatInt(l.ID, 10),
			l.FirstName, l.LastName, l.Email, l.Phone, l.Company, l.JobTitle,
			l.Address, l.City, l.PostalCode, l.Country, l.Source,
			l.Status.Label(),
			l.AssigneeName,
			l.CreatedAt.In(loc).Format(exportDateLayout),
			l.UpdatedAt.In(loc).Format(exportDateLayout),
		}
		for i := range record {
			record[i] = guardFormula(record[i])
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("writing lead %d: %w", l.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// guardFormula keeps spreadsheets from evaluating user text as a formula.
func guardFormula(v string) string {
	if v == "" {
		return v
	}
	switch v[0] {
	case '=', '+', '-', '@':
		return "'" + v
	}
	return v
}
