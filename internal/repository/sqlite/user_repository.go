package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"crowdcounter/internal/errs"
	"crowdcounter/internal/model"

	"github.com/mattn/go-sqlite3"
)

// UserRepository implements repository.UserRepository for SQLite.
type UserRepository struct {
	db *DB
}

// NewUserRepository creates a new SQLite user repository.
func NewUserRepository(db *DB) *UserRepository {
	return &UserRepository{db: db}
}

// Insert adds a user. A duplicate email yields an error wrapping errs.ErrConflict.
func (r *UserRepository) Insert(u *model.User) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO users (name, email, password_hash) VALUES (?, ?, ?)
	`, u.Name, strings.ToLower(u.Email), u.PasswordHash)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return 0, fmt.Errorf("%w: email %s already registered", errs.ErrConflict, u.Email)
		}
		return 0, fmt.Errorf("failed to insert user: %w", err)
	}
	return result.LastInsertId()
}

// GetByEmail retrieves a user by email. It returns nil when no user exists.
func (r *UserRepository) GetByEmail(email string) (*model.User, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var u model.User
	err := r.db.Conn().QueryRow(`
		SELECT id, name, email, password_hash, created_at FROM users WHERE email = ?
	`, strings.ToLower(email)).Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}
