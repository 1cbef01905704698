package storage

import (
	"context"
	"database/sql"
	"strings"

	"github.com/artefact/eats/db"
	"github.com/artefact/eats/eats/types"
	"github.com/artefact/eats/errors"
)

// CreateUser creates an editor with no editable authorities.
func (s *Store) CreateUser(ctx context.Context, username string) (*types.User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("user requires a username")
	}
	res, err := s.q.ExecContext(ctx, `INSERT INTO users (username) VALUES (?)`, username)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return nil, &errors.DuplicateNameError{Kind: "user", Name: username}
		}
		return nil, errors.Wrapf(err, "insert user %q", username)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "read user id")
	}
	return &types.User{ID: id, Username: username}, nil
}

// GetUser loads a user with its editable authorities.
func (s *Store) GetUser(ctx context.Context, id int64) (*types.User, error) {
	return s.loadUser(ctx, `WHERE id = ?`, id)
}

// GetUserByName loads a user by username.
func (s *Store) GetUserByName(ctx context.Context, username string) (*types.User, error) {
	return s.loadUser(ctx, `WHERE username = ?`, username)
}

func (s *Store) loadUser(ctx context.Context, where string, arg any) (*types.User, error) {
	var u types.User
	var authority, language, script sql.NullInt64
	err := s.q.QueryRowContext(ctx, `
		SELECT id, username, default_authority_id, default_language_id, default_script_id
		FROM users `+where, arg).Scan(&u.ID, &u.Username, &authority, &language, &script)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("user %v", arg)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "load user %v", arg)
	}
	u.DefaultAuthorityID = authority.Int64
	u.DefaultLanguageID = language.Int64
	u.DefaultScriptID = script.Int64

	u.EditableAuthorities, err = s.queryIDs(ctx,
		`SELECT authority_id FROM user_authorities WHERE user_id = ? ORDER BY authority_id`, u.ID)
	if err != nil {
		return nil, errors.Wrapf(err, "load editable authorities of user %d", u.ID)
	}
	return &u, nil
}

// SetUserEditableAuthorities replaces the set of authorities the user may
// create assertions under.
func (s *Store) SetUserEditableAuthorities(ctx context.Context, userID int64, authorityIDs []int64) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			return err
		}
		if _, err := tx.q.ExecContext(ctx, `DELETE FROM user_authorities WHERE user_id = ?`, userID); err != nil {
			return errors.Wrapf(err, "clear authorities of user %d", userID)
		}
		seen := make(map[int64]bool, len(authorityIDs))
		for _, id := range authorityIDs {
			if seen[id] {
				continue
			}
			seen[id] = true
			if _, err := tx.GetAuthority(ctx, id); err != nil {
				return err
			}
			if _, err := tx.q.ExecContext(ctx,
				`INSERT INTO user_authorities (user_id, authority_id) VALUES (?, ?)`, userID, id); err != nil {
				return errors.Wrapf(err, "add authority %d to user %d", id, userID)
			}
		}
		return nil
	})
}

// SetUserDefaults records the authority, language and script used for the
// user's preferred-name selection. Zero clears a default.
func (s *Store) SetUserDefaults(ctx context.Context, userID, authorityID, languageID, scriptID int64) error {
	return s.WithTx(ctx, func(tx *Store) error {
		if authorityID != 0 {
			if _, err := tx.GetAuthority(ctx, authorityID); err != nil {
				return err
			}
		}
		if languageID != 0 {
			if _, err := tx.GetItemOfKind(ctx, types.KindLanguage, languageID); err != nil {
				return err
			}
		}
		if scriptID != 0 {
			if _, err := tx.GetItemOfKind(ctx, types.KindScript, scriptID); err != nil {
				return err
			}
		}
		res, err := tx.q.ExecContext(ctx, `
			UPDATE users SET default_authority_id = ?, default_language_id = ?, default_script_id = ?
			WHERE id = ?`, nullID(authorityID), nullID(languageID), nullID(scriptID), userID)
		if err != nil {
			return errors.Wrapf(err, "update defaults of user %d", userID)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return errors.NewNotFoundError("user %d", userID)
		}
		return nil
	})
}
