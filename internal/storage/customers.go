package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

var customerModel = model[Customer]{
	table:   TableCustomer,
	columns: []string{"id", "email", "email_verified", "name", "image", "metadata", "created_at", "updated_at"},
	key:     []string{"id"},
	values: func(c *Customer) []any {
		return []any{c.ID, c.Email, timeArg(c.EmailVerified), c.Name, c.Image, jsonArg(c.Metadata),
			formatTime(c.CreatedAt), formatTime(c.UpdatedAt)}
	},
	scan: func(sc rowScanner) (Customer, error) {
		var c Customer
		var verified, image, metadata, created, updated sql.NullString
		if err := sc.Scan(&c.ID, &c.Email, &verified, &c.Name, &image, &metadata, &created, &updated); err != nil {
			return Customer{}, err
		}
		var err error
		if c.EmailVerified, err = optionalTime(verified, "email_verified"); err != nil {
			return Customer{}, err
		}
		if c.CreatedAt, err = requiredTime(created, "created_at"); err != nil {
			return Customer{}, err
		}
		if c.UpdatedAt, err = requiredTime(updated, "updated_at"); err != nil {
			return Customer{}, err
		}
		c.Image = nullString(image)
		c.Metadata = nullJSON(metadata)
		return c, nil
	},
}

// CreateCustomer inserts c, assigning an id when empty and stamping both
// timestamps with the same instant.
func (s *Store) CreateCustomer(ctx context.Context, c *Customer) error {
	if err := s.checkJSON(TableCustomer, "metadata", c.Metadata); err != nil {
		return err
	}
	if err := s.assignID(TableCustomer, &c.ID); err != nil {
		return err
	}
	c.CreatedAt = s.now()
	c.UpdatedAt = c.CreatedAt
	return insertRow(ctx, s, customerModel, c)
}

// UpdateCustomer writes c's mutable fields and advances updated_at.
func (s *Store) UpdateCustomer(ctx context.Context, c *Customer) error {
	if err := s.checkJSON(TableCustomer, "metadata", c.Metadata); err != nil {
		return err
	}
	c.UpdatedAt = s.now()
	return updateRow(ctx, s, customerModel, c)
}

// GetCustomer returns ErrNotFound when no customer has id.
func (s *Store) GetCustomer(ctx context.Context, id string) (*Customer, error) {
	return getByKey(ctx, s, customerModel, id)
}

func (s *Store) ListCustomers(ctx context.Context, limit int) ([]Customer, error) {
	return listRecent(ctx, s, customerModel, limit)
}

// DeleteCustomer removes the customer and, through cascading foreign keys,
// its accounts, sessions, conversations with their messages and feedback,
// and knowledge-base articles.
func (s *Store) DeleteCustomer(ctx context.Context, id string) (int64, error) {
	return deleteByKey(ctx, s, customerModel, id)
}

var accountModel = model[Account]{
	table: TableAccount,
	columns: []string{"user_id", "type", "provider", "provider_account_id", "refresh_token", "access_token",
		"expires_at", "token_type", "scope", "id_token", "session_state"},
	key: []string{"provider", "provider_account_id"},
	values: func(a *Account) []any {
		return []any{a.UserID, string(a.Type), a.Provider, a.ProviderAccountID, a.RefreshToken, a.AccessToken,
			a.ExpiresAt, a.TokenType, a.Scope, a.IDToken, a.SessionState}
	},
	scan: func(sc rowScanner) (Account, error) {
		var a Account
		var typ string
		var refresh, access, tokenType, scope, idToken, state sql.NullString
		var expires sql.NullInt64
		if err := sc.Scan(&a.UserID, &typ, &a.Provider, &a.ProviderAccountID, &refresh, &access,
			&expires, &tokenType, &scope, &idToken, &state); err != nil {
			return Account{}, err
		}
		a.Type = AccountType(typ)
		a.RefreshToken = nullString(refresh)
		a.AccessToken = nullString(access)
		a.ExpiresAt = nullInt(expires)
		a.TokenType = nullString(tokenType)
		a.Scope = nullString(scope)
		a.IDToken = nullString(idToken)
		a.SessionState = nullString(state)
		return a, nil
	},
}

func (s *Store) CreateAccount(ctx context.Context, a *Account) error {
	if err := s.checkEnum(TableAccount, "type", string(a.Type)); err != nil {
		return err
	}
	if err := s.canonicalUUID(TableAccount, "user_id", &a.UserID); err != nil {
		return err
	}
	return insertRow(ctx, s, accountModel, a)
}

// GetAccount returns ErrNotFound when no account matches the provider pair.
func (s *Store) GetAccount(ctx context.Context, provider, providerAccountID string) (*Account, error) {
	return getByKey(ctx, s, accountModel, provider, providerAccountID)
}

func (s *Store) DeleteAccount(ctx context.Context, provider, providerAccountID string) (int64, error) {
	return deleteByKey(ctx, s, accountModel, provider, providerAccountID)
}

var sessionModel = model[Session]{
	table:   TableSession,
	columns: []string{"session_token", "user_id", "expires"},
	key:     []string{"session_token"},
	values: func(se *Session) []any {
		return []any{se.SessionToken, se.UserID, formatTime(se.Expires)}
	},
	scan: func(sc rowScanner) (Session, error) {
		var se Session
		var expires sql.NullString
		if err := sc.Scan(&se.SessionToken, &se.UserID, &expires); err != nil {
			return Session{}, err
		}
		t, err := requiredTime(expires, "expires")
		if err != nil {
			return Session{}, err
		}
		se.Expires = t
		return se, nil
	},
}

// CreateSession inserts se, generating a random token when empty.
func (s *Store) CreateSession(ctx context.Context, se *Session) error {
	if se.SessionToken == "" {
		se.SessionToken = uuid.NewString()
	}
	if se.Expires.IsZero() {
		return fmt.Errorf("creating session: expiry is required")
	}
	if err := s.canonicalUUID(TableSession, "user_id", &se.UserID); err != nil {
		return err
	}
	return insertRow(ctx, s, sessionModel, se)
}

// LookupSession returns the session for token if it exists and has not
// expired. Expired and unknown tokens both yield ErrNotFound.
func (s *Store) LookupSession(ctx context.Context, token string) (*Session, error) {
	se, err := getByKey(ctx, s, sessionModel, token)
	if err != nil {
		return nil, err
	}
	if !se.Expires.After(s.now()) {
		return nil, ErrNotFound
	}
	return se, nil
}

func (s *Store) DeleteSession(ctx context.Context, token string) (int64, error) {
	return deleteByKey(ctx, s, sessionModel, token)
}
