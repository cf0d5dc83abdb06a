package lead

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteCSV(t *testing.T) {
	created := time.Date(2024, 3, 5, 14, 7, 0, 0, time.UTC)
	leads := []*Lead{
		{
			ID: 1, FirstName: `Jean "Jo"`, LastName: "Durand, fils", Email: "jo@example.fr",
			Phone: "+33 6 12 34 56 78", City: "Lyon", Status: StatusCallback, AssigneeName: "alice",
			Notes: "jamais exporté", CreatedAt: created, UpdatedAt: created.Add(time.Hour),
		},
		{ID: 2, LastName: "=HYPERLINK(\"x\")", Address: "1 rue X, Bât. B", Notes: "ligne 1\nligne 2", Status: StatusWon, CreatedAt: created, UpdatedAt: created},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, leads, time.UTC))
	out := buf.String()

	require.True(t, strings.HasPrefix(out, "\ufeff"), "starts with a byte order mark")
	lines := strings.Split(strings.TrimPrefix(out, "\ufeff"), "\r\n")

	assert.Equal(t, "ID,Prénom,Nom,Email,Téléphone,Entreprise,Poste,Adresse,Ville,Code postal,Pays,Source,Statut,Assigné à,Créé le,Mis à jour le", lines[0])
	assert.Equal(t, `1,"Jean ""Jo""","Durand, fils",jo@example.fr,'+33 6 12 34 56 78,,,,Lyon,,,,À rappeler,alice,05/03/2024 14:07,05/03/2024 15:07`, lines[1])
	assert.Equal(t, `2,,"'=HYPERLINK(""x"")",,,,,"1 rue X, Bât. B",,,,,Gagné,,05/03/2024 14:07,05/03/2024 14:07`, lines[2])
	assert.Equal(t, "", lines[3], "ends with CRLF")
	assert.NotContains(t, out, "jamais exporté")
}

func TestWriteCSVQuotesNewlines(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []*Lead{{ID: 1, LastName: "Durand", Company: "ligne 1\nligne 2", Status: StatusNew}}, nil))
	assert.Contains(t, buf.String(), "\"ligne 1\r\nligne 2\"")
}

func TestWriteCSVLocation(t *testing.T) {
	paris := time.FixedZone("CET", 3600)
	created := time.Date(2024, 1, 10, 23, 30, 0, 0, time.UTC)

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []*Lead{{ID: 1, LastName: "Durand", Status: StatusNew, CreatedAt: created, UpdatedAt: created}}, paris))
	assert.Contains(t, buf.String(), "11/01/2024 00:30")
}

func TestGuardFormula(t *testing.T) {
	tests := map[string]string{
		"":          "",
		"=1+1":      "'=1+1",
		"+33612":    "'+33612",
		"-2":        "'-2",
		"@SUM(A1)":  "'@SUM(A1)",
		"Durand":    "Durand",
		"a=b":       "a=b",
		" =padding": " =padding",
	}
	for in, want := range tests {
		assert.Equal(t, want, guardFormula(in), in)
	}
}

func TestExportRespectsScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.lead(t, "Jeanne", "Durand", ref(f.alice.ProfileID))
	f.lead(t, "Paul", "Martin", nil)

	var buf bytes.Buffer
	n, err := f.svc.Export(ctx, &buf, Filter{}, f.alice)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Contains(t, buf.String(), "Durand")
	assert.NotContains(t, buf.String(), "Martin")

	buf.Reset()
	n, err = f.svc.Export(ctx, &buf, Filter{Sort: "last_name"}, f.admin)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Less(t, strings.Index(buf.String(), "Durand"), strings.Index(buf.String(), "Martin"))
}
