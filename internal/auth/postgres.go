package auth

import (
	"context"
	"crypto/rand"
	"database/sql"
	"fmt"
	"strings"
)

// PGStores implements every store interface over PostgreSQL. Open the
// database with the pgx stdlib driver.
type PGStores struct {
	db *sql.DB
}

func NewPGStores(db *sql.DB) *PGStores {
	return &PGStores{db: db}
}

// Stores bundles the PostgreSQL stores into the shape the service expects.
func (s *PGStores) Stores() Stores {
	return Stores{
		Users:        &pgUserStore{db: s.db},
		Groups:       &pgGroupStore{db: s.db},
		Repositories: &pgRepositoryStore{db: s.db},
		Grants:       &pgGrantStore{db: s.db},
		Keys:         &pgKeyStore{db: s.db},
	}
}

// User store ---------------------------------------------------------------
type pgUserStore struct{ db *sql.DB }

func (s *pgUserStore) Get(ctx context.Context, name string) (*User, error) {
	row := s.db.QueryRowContext(ctx,
		`select name, display_name, email, password_hash, active, admin, created_at, updated_at
		 from users where name=$1`, name)
	var u User
	if err := row.Scan(&u.Name, &u.DisplayName, &u.Email, &u.PasswordHash,
		&u.Active, &u.Admin, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: user %q", ErrNotFound, name)
		}
		return nil, err
	}
	return &u, nil
}

func (s *pgUserStore) Update(ctx context.Context, user *User) error {
	res, err := s.db.ExecContext(ctx,
		`update users set display_name=$2, email=$3, password_hash=$4, active=$5, admin=$6, updated_at=now()
		 where name=$1`,
		user.Name, user.DisplayName, user.Email, user.PasswordHash, user.Active, user.Admin,
	)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: user %q", ErrNotFound, user.Name)
	}
	return nil
}

// Group store ---------------------------------------------------------------
type pgGroupStore struct{ db *sql.DB }

func (s *pgGroupStore) All(ctx context.Context) ([]Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`select g.name, coalesce(m.user_name, '')
		 from groups g left join group_members m on m.group_name = g.name
		 order by g.name asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Group
	index := make(map[string]int)
	for rows.Next() {
		var groupName, member string
		if err := rows.Scan(&groupName, &member); err != nil {
			return nil, err
		}
		i, ok := index[groupName]
		if !ok {
			i = len(res)
			index[groupName] = i
			res = append(res, Group{Name: groupName})
		}
		if member != "" {
			res[i].Members = append(res[i].Members, member)
		}
	}
	return res, rows.Err()
}

// Repository store ----------------------------------------------------------
type pgRepositoryStore struct{ db *sql.DB }

func (s *pgRepositoryStore) All(ctx context.Context) ([]Repository, error) {
	rows, err := s.db.QueryContext(ctx,
		`select r.id, r.namespace, r.name, r.archived, r.public_readable,
		        coalesce(p.name, ''), coalesce(p.is_group, false), coalesce(p.verbs, '')
		 from repositories r left join repository_permissions p on p.repository_id = r.id
		 order by r.namespace asc, r.name asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Repository
	index := make(map[string]int)
	for rows.Next() {
		var (
			repo    Repository
			name    string
			isGroup bool
			verbs   string
		)
		if err := rows.Scan(&repo.ID, &repo.Namespace, &repo.Name, &repo.Archived,
			&repo.PublicReadable, &name, &isGroup, &verbs); err != nil {
			return nil, err
		}
		i, ok := index[repo.ID]
		if !ok {
			i = len(res)
			index[repo.ID] = i
			res = append(res, repo)
		}
		if name != "" {
			res[i].Permissions = append(res[i].Permissions, RepositoryPermission{
				Name:  name,
				Group: isGroup,
				Verbs: splitVerbs(verbs),
			})
		}
	}
	return res, rows.Err()
}

func splitVerbs(verbs string) []string {
	if verbs == "" {
		return nil
	}
	return strings.Split(verbs, ",")
}

// Grant store ---------------------------------------------------------------
type pgGrantStore struct{ db *sql.DB }

func (s *pgGrantStore) All(ctx context.Context) ([]AssignedPermission, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, is_group, permission, created_at
		 from assigned_permissions order by created_at asc`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []AssignedPermission
	for rows.Next() {
		var g AssignedPermission
		if err := rows.Scan(&g.ID, &g.Name, &g.Group, &g.Permission, &g.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, g)
	}
	return res, rows.Err()
}

func (s *pgGrantStore) Get(ctx context.Context, id string) (*AssignedPermission, error) {
	row := s.db.QueryRowContext(ctx,
		`select id, name, is_group, permission, created_at
		 from assigned_permissions where id=$1`, id)
	var g AssignedPermission
	if err := row.Scan(&g.ID, &g.Name, &g.Group, &g.Permission, &g.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: grant %q", ErrNotFound, id)
		}
		return nil, err
	}
	return &g, nil
}

func (s *pgGrantStore) Add(ctx context.Context, grant *AssignedPermission) error {
	_, err := s.db.ExecContext(ctx,
		`insert into assigned_permissions(id, name, is_group, permission, created_at)
		 values($1,$2,$3,$4,$5)`,
		grant.ID, grant.Name, grant.Group, grant.Permission, grant.CreatedAt,
	)
	return err
}

func (s *pgGrantStore) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`delete from assigned_permissions where id=$1`, id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("%w: grant %q", ErrNotFound, id)
	}
	return nil
}

// Key store -----------------------------------------------------------------
type pgKeyStore struct{ db *sql.DB }

func (s *pgKeyStore) GetOrCreate(ctx context.Context, subject string) (SecureKey, error) {
	buf := make([]byte, 64)
	if _, err := rand.Read(buf); err != nil {
		return SecureKey{}, fmt.Errorf("generate signing key: %w", err)
	}
	// Insert first; when a racing caller already created the key the
	// conflict clause makes this a no-op and the select below returns the
	// winner's key for both callers.
	if _, err := s.db.ExecContext(ctx,
		`insert into secure_keys(subject, key, created_at) values($1,$2,now())
		 on conflict (subject) do nothing`,
		subject, buf,
	); err != nil {
		return SecureKey{}, err
	}
	row := s.db.QueryRowContext(ctx,
		`select key, created_at from secure_keys where subject=$1`, subject)
	var key SecureKey
	if err := row.Scan(&key.Bytes, &key.CreatedAt); err != nil {
		return SecureKey{}, err
	}
	return key, nil
}
