package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
)

func TestPGUserStoreGet(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`select name, display_name, email, password_hash, active, admin, created_at, updated_at`).
		WithArgs("trillian").
		WillReturnRows(sqlmock.NewRows([]string{
			"name", "display_name", "email", "password_hash", "active", "admin", "created_at", "updated_at",
		}).AddRow("trillian", "Tricia", "t@example.org", "hash", true, false, created, created))

	store := NewPGStores(db).Stores().Users
	user, err := store.Get(context.Background(), "trillian")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if user.Name != "trillian" || !user.Active || user.Admin {
		t.Fatalf("user = %+v", user)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGUserStoreGetNotFound(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`select name, display_name`).
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{
			"name", "display_name", "email", "password_hash", "active", "admin", "created_at", "updated_at",
		}))

	store := NewPGStores(db).Stores().Users
	if _, err := store.Get(context.Background(), "nobody"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestPGGroupStoreAll(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`select g.name, coalesce`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "user_name"}).
			AddRow("crew", "trillian").
			AddRow("crew", "marvin").
			AddRow("empty", ""))

	groups, err := (&pgGroupStore{db: db}).All(context.Background())
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(groups) != 2 {
		t.Fatalf("groups = %+v", groups)
	}
	if groups[0].Name != "crew" || len(groups[0].Members) != 2 {
		t.Fatalf("crew = %+v", groups[0])
	}
	if groups[1].Name != "empty" || len(groups[1].Members) != 0 {
		t.Fatalf("empty = %+v", groups[1])
	}
}

func TestPGRepositoryStoreAll(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`select r.id, r.namespace`).
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "namespace", "name", "archived", "public_readable", "perm_name", "is_group", "verbs",
		}).
			AddRow("42", "hitchhikers", "guide", false, false, "trillian", false, "read,write").
			AddRow("42", "hitchhikers", "guide", false, false, "crew", true, "read").
			AddRow("77", "infra", "deep-thought", true, false, "", false, ""))

	repos, err := (&pgRepositoryStore{db: db}).All(context.Background())
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	if len(repos) != 2 {
		t.Fatalf("repos = %+v", repos)
	}
	if len(repos[0].Permissions) != 2 {
		t.Fatalf("permissions = %+v", repos[0].Permissions)
	}
	if got := repos[0].Permissions[0].Verbs; len(got) != 2 || got[0] != "read" || got[1] != "write" {
		t.Fatalf("verbs = %v", got)
	}
	if len(repos[1].Permissions) != 0 || !repos[1].Archived {
		t.Fatalf("archived repo = %+v", repos[1])
	}
}

func TestPGGrantStoreRoundTrip(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	grant := &AssignedPermission{
		ID: "g1", Name: "trillian", Permission: "repository:create", CreatedAt: created,
	}
	mock.ExpectExec(`insert into assigned_permissions`).
		WithArgs("g1", "trillian", false, "repository:create", created).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`select id, name, is_group, permission, created_at`).
		WithArgs("g1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "is_group", "permission", "created_at"}).
			AddRow("g1", "trillian", false, "repository:create", created))
	mock.ExpectExec(`delete from assigned_permissions`).
		WithArgs("g1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`delete from assigned_permissions`).
		WithArgs("g1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := &pgGrantStore{db: db}
	ctx := context.Background()
	if err := store.Add(ctx, grant); err != nil {
		t.Fatalf("add: %v", err)
	}
	got, err := store.Get(ctx, "g1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Permission != "repository:create" {
		t.Fatalf("grant = %+v", got)
	}
	if err := store.Remove(ctx, "g1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := store.Remove(ctx, "g1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestPGKeyStoreGetOrCreate(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()

	created := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	stored := []byte("stored-key-material")
	// The insert loses the race; the select returns the winner's key.
	mock.ExpectExec(`insert into secure_keys`).
		WithArgs("trillian", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`select key, created_at from secure_keys`).
		WithArgs("trillian").
		WillReturnRows(sqlmock.NewRows([]string{"key", "created_at"}).AddRow(stored, created))

	key, err := (&pgKeyStore{db: db}).GetOrCreate(context.Background(), "trillian")
	if err != nil {
		t.Fatalf("get or create: %v", err)
	}
	if string(key.Bytes) != string(stored) {
		t.Fatal("expected the stored key to win")
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
