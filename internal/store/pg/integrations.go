package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/store"
)

// IntegrationStore reads company integration bindings and shared credential
// sets. Secrets stay encrypted here; the resolver decrypts.
type IntegrationStore struct {
	db *sql.DB
}

func NewIntegrationStore(db *sql.DB) *IntegrationStore {
	return &IntegrationStore{db: db}
}

func (s *IntegrationStore) GetBinding(ctx context.Context, companyID uuid.UUID, provider string) (*store.IntegrationBinding, error) {
	var (
		b         store.IntegrationBinding
		setID     uuid.NullUUID
		configRaw []byte
		secEnc    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT mode, credential_set_id, config_override, secrets_override_enc
		FROM core.company_integration_bindings
		WHERE company_id = $1 AND provider = $2
		LIMIT 1`, companyID, provider).
		Scan(&b.Mode, &setID, &configRaw, &secEnc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get integration binding: %w", err)
	}
	if setID.Valid {
		b.CredentialSetID = &setID.UUID
	}
	b.ConfigOverride = unmarshalMap(configRaw)
	b.SecretsOverrideEnc = derefStr(secEnc)
	return &b, nil
}

func (s *IntegrationStore) DefaultCredentialSet(ctx context.Context, provider string) (*store.CredentialSet, error) {
	return s.credentialSet(ctx, `
		SELECT id, provider, config, secrets_enc
		FROM core.integration_credential_sets
		WHERE provider = $1 AND is_default = true
		LIMIT 1`, provider)
}

func (s *IntegrationStore) CredentialSetByID(ctx context.Context, id uuid.UUID) (*store.CredentialSet, error) {
	return s.credentialSet(ctx, `
		SELECT id, provider, config, secrets_enc
		FROM core.integration_credential_sets
		WHERE id = $1
		LIMIT 1`, id)
}

func (s *IntegrationStore) credentialSet(ctx context.Context, query string, arg any) (*store.CredentialSet, error) {
	var (
		cs        store.CredentialSet
		configRaw []byte
		secEnc    sql.NullString
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(&cs.ID, &cs.Provider, &configRaw, &secEnc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load credential set: %w", err)
	}
	cs.Config = unmarshalMap(configRaw)
	cs.SecretsEnc = derefStr(secEnc)
	return &cs, nil
}
