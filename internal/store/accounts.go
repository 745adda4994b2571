package store

import (
	"context"
	"errors"
	"time"

	"github.com/chronos-sync/core/internal/crypto"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrAccountNotFound    = errors.New("google account not found")
	ErrAccountExists      = errors.New("google account already connected")
	ErrTokensNotFound     = errors.New("google account tokens not found")
)

// OAuthCredentials holds a single OAuth2 token pair for a Google account.
type OAuthCredentials struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time
}

// GoogleAccount is one Google identity a user has connected for sync.
type GoogleAccount struct {
	ID          uuid.UUID
	UserID      uuid.UUID
	GoogleEmail string
	DisplayName string
	Scopes      []string
	NeedsReauth bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// AccountStore provides PostgreSQL-backed storage for Google accounts and
// their OAuth tokens. Tokens are stored in a separate table so that listing
// accounts never touches encrypted material.
type AccountStore struct {
	pool   *pgxpool.Pool
	crypto *crypto.Service
}

func NewAccountStore(pool *pgxpool.Pool, cryptoSvc *crypto.Service) *AccountStore {
	return &AccountStore{pool: pool, crypto: cryptoSvc}
}

// Create registers a new Google account for userID and stores its initial
// encrypted tokens.
func (s *AccountStore) Create(ctx context.Context, userID uuid.UUID, googleEmail, displayName string, scopes []string, creds OAuthCredentials) (*GoogleAccount, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	now := time.Now().UTC()
	acct := &GoogleAccount{
		ID:          uuid.New(),
		UserID:      userID,
		GoogleEmail: googleEmail,
		DisplayName: displayName,
		Scopes:      scopes,
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO google_accounts (id, user_id, google_email, display_name, scopes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		RETURNING id, created_at, updated_at
	`, acct.ID, userID, googleEmail, displayName, scopes, now).Scan(&acct.ID, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if isDuplicateKeyError(err) {
			return nil, ErrAccountExists
		}
		return nil, err
	}

	if err := s.writeTokens(ctx, tx, acct.ID, userID, creds); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	return acct, nil
}

func (s *AccountStore) writeTokens(ctx context.Context, tx pgx.Tx, accountID, userID uuid.UUID, creds OAuthCredentials) error {
	accessEnc, err := s.crypto.Encrypt([]byte(creds.AccessToken), userID.String())
	if err != nil {
		return err
	}
	refreshEnc, err := s.crypto.Encrypt([]byte(creds.RefreshToken), userID.String())
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO google_account_tokens (account_id, access_token_encrypted, refresh_token_encrypted, expires_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (account_id) DO UPDATE SET
			access_token_encrypted = EXCLUDED.access_token_encrypted,
			refresh_token_encrypted = EXCLUDED.refresh_token_encrypted,
			expires_at = EXCLUDED.expires_at,
			updated_at = EXCLUDED.updated_at
	`, accountID, accessEnc, refreshEnc, creds.Expiry, time.Now().UTC())
	return err
}

// UpdateTokens persists a refreshed token pair for accountID.
func (s *AccountStore) UpdateTokens(ctx context.Context, accountID, userID uuid.UUID, creds OAuthCredentials) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := s.writeTokens(ctx, tx, accountID, userID, creds); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// GetTokens returns the decrypted OAuth credentials for accountID.
func (s *AccountStore) GetTokens(ctx context.Context, accountID, userID uuid.UUID) (*OAuthCredentials, error) {
	var accessEnc, refreshEnc string
	var expiry time.Time

	err := s.pool.QueryRow(ctx, `
		SELECT access_token_encrypted, refresh_token_encrypted, expires_at
		FROM google_account_tokens WHERE account_id = $1
	`, accountID).Scan(&accessEnc, &refreshEnc, &expiry)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTokensNotFound
		}
		return nil, err
	}

	access, err := s.crypto.Decrypt(accessEnc, userID.String())
	if err != nil {
		return nil, err
	}
	refresh, err := s.crypto.Decrypt(refreshEnc, userID.String())
	if err != nil {
		return nil, err
	}

	return &OAuthCredentials{
		AccessToken:  string(access),
		RefreshToken: string(refresh),
		TokenType:    "Bearer",
		Expiry:       expiry,
	}, nil
}

func (s *AccountStore) GetByID(ctx context.Context, accountID uuid.UUID) (*GoogleAccount, error) {
	acct := &GoogleAccount{}
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, google_email, display_name, scopes, needs_reauth, created_at, updated_at
		FROM google_accounts WHERE id = $1
	`, accountID).Scan(&acct.ID, &acct.UserID, &acct.GoogleEmail, &acct.DisplayName, &acct.Scopes, &acct.NeedsReauth, &acct.CreatedAt, &acct.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return acct, nil
}

func (s *AccountStore) ListForUser(ctx context.Context, userID uuid.UUID) ([]*GoogleAccount, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, google_email, display_name, scopes, needs_reauth, created_at, updated_at
		FROM google_accounts WHERE user_id = $1 ORDER BY created_at ASC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var accounts []*GoogleAccount
	for rows.Next() {
		acct := &GoogleAccount{}
		if err := rows.Scan(&acct.ID, &acct.UserID, &acct.GoogleEmail, &acct.DisplayName, &acct.Scopes, &acct.NeedsReauth, &acct.CreatedAt, &acct.UpdatedAt); err != nil {
			return nil, err
		}
		accounts = append(accounts, acct)
	}
	return accounts, rows.Err()
}

// MarkNeedsReauth flags an account whose refresh token Google has revoked.
func (s *AccountStore) MarkNeedsReauth(ctx context.Context, accountID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE google_accounts SET needs_reauth = true, updated_at = $2 WHERE id = $1
	`, accountID, time.Now().UTC())
	return err
}

// ClearNeedsReauth clears the flag after the user re-links the account.
func (s *AccountStore) ClearNeedsReauth(ctx context.Context, accountID uuid.UUID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE google_accounts SET needs_reauth = false, updated_at = $2 WHERE id = $1
	`, accountID, time.Now().UTC())
	return err
}

func (s *AccountStore) Delete(ctx context.Context, userID, accountID uuid.UUID) error {
	result, err := s.pool.Exec(ctx, `
		DELETE FROM google_accounts WHERE id = $1 AND user_id = $2
	`, accountID, userID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}
