package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/asd12288/meydacrm/internal/db/dbtest"
	"github.com/asd12288/meydacrm/internal/validation"
)

func testProfileStore(t *testing.T) *ProfileStore {
	t.Helper()
	return NewProfileStore(dbtest.Open(t))
}

func mustCreate(t *testing.T, s *ProfileStore, username string, role Role) *Profile {
	t.Helper()
	p, err := s.Create(context.Background(), NewProfile{
		Username: username,
		Role:     role,
		Password: "motdepasse",
	})
	require.NoError(t, err)
	return p
}

func TestProfileCreate(t *testing.T) {
	s := testProfileStore(t)
	ctx := context.Background()

	p, err := s.Create(ctx, NewProfile{
		Username:    "  Camille ",
		DisplayName: "Camille Martin",
		Email:       "camille@example.fr",
		Role:        RoleSales,
		Password:    "motdepasse",
	})
	require.NoError(t, err)

	assert.Equal(t, "camille", p.Username)
	assert.Equal(t, "Camille Martin", p.DisplayName)
	assert.True(t, p.Active)
	assert.NotEqual(t, "motdepasse", p.PasswordHash)
	assert.Nil(t, p.LastLoginAt)

	got, err := s.GetByUsername(ctx, "CAMILLE")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestProfileCreateRejects(t *testing.T) {
	s := testProfileStore(t)
	mustCreate(t, s, "camille", RoleSales)

	tests := []struct {
		name  string
		in    NewProfile
		field string
		err   error
	}{
		{"duplicate username", NewProfile{Username: "Camille", Role: RoleSales, Password: "motdepasse"}, "", ErrUsernameTaken},
		{"short password", NewProfile{Username: "paul", Role: RoleSales, Password: "court"}, "password", nil},
		{"unknown role", NewProfile{Username: "paul", Role: "boss", Password: "motdepasse"}, "role", nil},
		{"bad email", NewProfile{Username: "paul", Email: "paul@", Role: RoleSales, Password: "motdepasse"}, "email", nil},
		{"username with space", NewProfile{Username: "paul dupont", Role: RoleSales, Password: "motdepasse"}, "username", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Create(context.Background(), tt.in)
			require.Error(t, err)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				return
			}
			var verrs validation.Errors
			require.True(t, errors.As(err, &verrs))
			assert.Contains(t, verrs, tt.field)
		})
	}
}

func TestProfileAuthenticate(t *testing.T) {
	s := testProfileStore(t)
	ctx := context.Background()
	created := mustCreate(t, s, "camille", RoleSales)

	p, err := s.Authenticate(ctx, "Camille", "motdepasse")
	require.NoError(t, err)
	assert.Equal(t, created.ID, p.ID)
	require.NotNil(t, p.LastLoginAt)

	stored, err := s.GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.NotNil(t, stored.LastLoginAt)

	_, err = s.Authenticate(ctx, "camille", "mauvais-mdp")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = s.Authenticate(ctx, "inconnu", "motdepasse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestProfileAuthenticateInactive(t *testing.T) {
	s := testProfileStore(t)
	ctx := context.Background()
	p := mustCreate(t, s, "camille", RoleSales)

	require.NoError(t, s.SetActive(ctx, p.ID, false))

	_, err := s.Authenticate(ctx, "camille", "motdepasse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestProfileListAssignable(t *testing.T) {
	s := testProfileStore(t)
	ctx := context.Background()
	mustCreate(t, s, "admin", RoleAdmin)
	a := mustCreate(t, s, "alice", RoleSales)
	b := mustCreate(t, s, "bruno", RoleSales)
	c := mustCreate(t, s, "chloe", RoleSales)
	require.NoError(t, s.SetActive(ctx, b.ID, false))

	got, err := s.ListAssignable(ctx)
	require.NoError(t, err)

	ids := make([]int64, len(got))
	for i, p := range got {
		ids[i] = p.ID
	}
	assert.Equal(t, []int64{a.ID, c.ID}, ids)

	all, err := s.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestProfileUpdate(t *testing.T) {
	s := testProfileStore(t)
	ctx := context.Background()
	mustCreate(t, s, "admin", RoleAdmin)
	p := mustCreate(t, s, "camille", RoleSales)

	name := "Camille M."
	role := RoleAdmin
	got, err := s.Update(ctx, p.ID, ProfileUpdate{DisplayName: &name, Role: &role})
	require.NoError(t, err)
	assert.Equal(t, "Camille M.", got.DisplayName)
	assert.Equal(t, RoleAdmin, got.Role)

	_, err = s.Update(ctx, 9999, ProfileUpdate{DisplayName: &name})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProfileLastAdminGuard(t *testing.T) {
	s := testProfileStore(t)
	ctx := context.Background()
	admin := mustCreate(t, s, "admin", RoleAdmin)

	sales := RoleSales
	_, err := s.Update(ctx, admin.ID, ProfileUpdate{Role: &sales})
	assert.ErrorIs(t, err, ErrLastAdmin)

	err = s.SetActive(ctx, admin.ID, false)
	assert.ErrorIs(t, err, ErrLastAdmin)

	second := mustCreate(t, s, "admin2", RoleAdmin)
	require.NoError(t, s.SetActive(ctx, admin.ID, false))

	_, err = s.Update(ctx, second.ID, ProfileUpdate{Role: &sales})
	assert.ErrorIs(t, err, ErrLastAdmin, "the remaining active admin is protected")
}

func TestProfileMutualDemotionKeepsAnAdmin(t *testing.T) {
	s := testProfileStore(t)
	ctx := context.Background()
	first := mustCreate(t, s, "admin", RoleAdmin)
	second := mustCreate(t, s, "admin2", RoleAdmin)

	sales := RoleSales
	var wg sync.WaitGroup
	for _, id := range []int64{first.ID, second.ID} {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, _ = s.Update(ctx, id, ProfileUpdate{Role: &sales})
		}(id)
	}
	wg.Wait()

	n, err := s.countActiveAdmins(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 1)
}

func TestDummyHashMatchesRealCost(t *testing.T) {
	hash, err := hashPassword("motdepasse")
	require.NoError(t, err)

	realCost, err := bcrypt.Cost([]byte(hash))
	require.NoError(t, err)
	dummy, err := bcrypt.Cost(dummyHash)
	require.NoError(t, err)
	assert.Equal(t, realCost, dummy)
}

func TestIsUniqueViolation(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"postgres unique", &pq.Error{Code: "23505"}, true},
		{"postgres wrapped", fmt.Errorf("inserting: %w", &pq.Error{Code: "23505"}), true},
		{"postgres not null", &pq.Error{Code: "23502"}, false},
		{"sqlite unique", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintUnique}, true},
		{"sqlite foreign key", sqlite3.Error{Code: sqlite3.ErrConstraint, ExtendedCode: sqlite3.ErrConstraintForeignKey}, false},
		{"plain text", errors.New("UNIQUE constraint failed"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isUniqueViolation(tt.err))
		})
	}
}

func TestProfileSetPassword(t *testing.T) {
	s := testProfileStore(t)
	ctx := context.Background()
	p := mustCreate(t, s, "camille", RoleSales)

	assert.Error(t, s.SetPassword(ctx, p.ID, "court"))
	require.NoError(t, s.SetPassword(ctx, p.ID, "nouveau-mdp"))

	_, err := s.Authenticate(ctx, "camille", "motdepasse")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = s.Authenticate(ctx, "camille", "nouveau-mdp")
	assert.NoError(t, err)

	assert.ErrorIs(t, s.SetPassword(ctx, 9999, "nouveau-mdp"), ErrNotFound)
}

func TestEnsureAdmin(t *testing.T) {
	s := testProfileStore(t)
	ctx := context.Background()

	_, err := s.EnsureAdmin(ctx, "", "")
	assert.Error(t, err, "no admin and no bootstrap credentials")

	created, err := s.EnsureAdmin(ctx, "patron", "motdepasse")
	require.NoError(t, err)
	assert.True(t, created)

	created, err = s.EnsureAdmin(ctx, "autre", "motdepasse")
	require.NoError(t, err)
	assert.False(t, created)

	p, err := s.GetByUsername(ctx, "patron")
	require.NoError(t, err)
	assert.Equal(t, RoleAdmin, p.Role)
}
