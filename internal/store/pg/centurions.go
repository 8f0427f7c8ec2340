package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/store"
)

// CenturionStore reads bot configurations and channel instances.
type CenturionStore struct {
	db *sql.DB
}

func NewCenturionStore(db *sql.DB) *CenturionStore {
	return &CenturionStore{db: db}
}

const centurionCols = `id, company_id, name, prompt, qualification_rules, required_fields,
	debounce_wait_ms, chunking_enabled, chunk_max_chars, chunk_delay_ms,
	tool_call_limit, temperature, can_process_audio, is_active`

func scanCenturion(scan func(dest ...any) error) (*store.Centurion, error) {
	var (
		c         store.Centurion
		prompt    sql.NullString
		rulesRaw  []byte
		fieldsRaw []byte
	)
	err := scan(&c.ID, &c.CompanyID, &c.Name, &prompt, &rulesRaw, &fieldsRaw,
		&c.DebounceWaitMS, &c.ChunkingEnabled, &c.ChunkMaxChars, &c.ChunkDelayMS,
		&c.ToolCallLimit, &c.Temperature, &c.CanProcessAudio, &c.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Prompt = derefStr(prompt)
	c.QualificationRules = rulesRaw
	c.RequiredFields = unmarshalStrings(fieldsRaw)
	return &c, nil
}

func (s *CenturionStore) Get(ctx context.Context, id uuid.UUID) (*store.Centurion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+centurionCols+` FROM core.centurions WHERE id = $1`, id)
	c, err := scanCenturion(row.Scan)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get centurion: %w", err)
	}
	return c, err
}

func (s *CenturionStore) GetActiveForCompany(ctx context.Context, companyID uuid.UUID) (*store.Centurion, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+centurionCols+`
		FROM core.centurions
		WHERE company_id = $1 AND is_active = true
		ORDER BY created_at DESC
		LIMIT 1`, companyID)
	c, err := scanCenturion(row.Scan)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("active centurion: %w", err)
	}
	return c, err
}

const instanceCols = `id, company_id, centurion_id, channel_type, external_id, is_active`

func scanInstance(scan func(dest ...any) error) (*store.ChannelInstance, error) {
	var (
		inst       store.ChannelInstance
		centurion  uuid.NullUUID
		externalID sql.NullString
	)
	err := scan(&inst.ID, &inst.CompanyID, &centurion, &inst.ChannelType, &externalID, &inst.IsActive)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if centurion.Valid {
		inst.CenturionID = centurion.UUID
	}
	inst.ExternalID = derefStr(externalID)
	return &inst, nil
}

// GetInstance resolves a channel instance by its provider-side identifier.
func (s *CenturionStore) GetInstance(ctx context.Context, externalID string) (*store.ChannelInstance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceCols+` FROM core.channel_instances WHERE external_id = $1 LIMIT 1`, externalID)
	inst, err := scanInstance(row.Scan)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get channel instance: %w", err)
	}
	return inst, err
}

func (s *CenturionStore) GetInstanceByID(ctx context.Context, id uuid.UUID) (*store.ChannelInstance, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+instanceCols+` FROM core.channel_instances WHERE id = $1`, id)
	inst, err := scanInstance(row.Scan)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("get channel instance: %w", err)
	}
	return inst, err
}

func (s *CenturionStore) FindActiveInstance(ctx context.Context, companyID uuid.UUID, channelType string) (*store.ChannelInstance, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+instanceCols+`
		FROM core.channel_instances
		WHERE company_id = $1 AND channel_type = $2 AND is_active = true
		ORDER BY created_at DESC
		LIMIT 1`, companyID, channelType)
	inst, err := scanInstance(row.Scan)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("find channel instance: %w", err)
	}
	return inst, err
}
