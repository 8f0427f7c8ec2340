// Package handoff writes a qualified lead into the company's CRM schema and
// moves the lead into its terminal handed-off state.
package handoff

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/store"
)

// Initial status for deals created by the bot.
const dealStatusNew = "negocio_novo"

// utm keys copied from qualification data into the deal row when present.
var utmFields = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"}

// Service performs the CRM handoff.
type Service struct {
	crm    store.CRMStore
	leads  store.LeadStore
	logger *slog.Logger
}

func NewService(crm store.CRMStore, leads store.LeadStore, logger *slog.Logger) *Service {
	return &Service{crm: crm, leads: leads, logger: logger}
}

// Execute creates the deal and index entry for the lead. Re-running for an
// already handed-off lead returns the recorded entry without writing again.
func (s *Service) Execute(ctx context.Context, lead *store.Lead) (*store.DealIndexEntry, error) {
	if lead.Lifecycle == store.LifecycleHandoffDone {
		return s.existingEntry(ctx, lead)
	}

	crm, err := s.crm.PrimaryCRM(ctx, lead.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("resolve crm for company %s: %w", lead.CompanyID, err)
	}

	fields := map[string]any{
		"deal_full_name":      dealName(lead),
		"phone":               lead.Phone,
		"status":              dealStatusNew,
		"contact_fingerprint": fingerprint(lead.CompanyID, lead.Phone),
	}
	if lead.Email != "" {
		fields["email"] = lead.Email
	}
	if lead.PixelConfigID != nil {
		fields["pixel_config_id"] = *lead.PixelConfigID
	}
	if cpf, ok := lead.QualificationData["cpf"].(string); ok && cpf != "" {
		fields["cpf"] = cpf
	}
	for _, key := range utmFields {
		if v, ok := lead.QualificationData[key].(string); ok && v != "" {
			fields[key] = v
		}
	}

	localDealID, err := s.crm.InsertDeal(ctx, crm.SchemaName, fields)
	if err != nil {
		return nil, fmt.Errorf("insert deal in %s: %w", crm.SchemaName, err)
	}

	entry, err := s.crm.InsertDealIndex(ctx, lead.CompanyID, crm.SchemaName, localDealID)
	if err != nil {
		return nil, err
	}

	patch := map[string]any{
		"deal_index_id": entry.ID.String(),
		"local_deal_id": localDealID.String(),
		"schema_name":   crm.SchemaName,
	}
	if err := s.leads.MergeQualificationData(ctx, lead.ID, patch, store.LifecycleHandoffDone); err != nil {
		return nil, fmt.Errorf("mark lead %s handed off: %w", lead.ID, err)
	}

	s.logger.Info("handoff.completed",
		"lead_id", lead.ID,
		"schema", crm.SchemaName,
		"local_deal_id", localDealID,
	)
	return entry, nil
}

// existingEntry resolves the index row recorded by the previous handoff.
func (s *Service) existingEntry(ctx context.Context, lead *store.Lead) (*store.DealIndexEntry, error) {
	schema, _ := lead.QualificationData["schema_name"].(string)
	localRaw, _ := lead.QualificationData["local_deal_id"].(string)
	if schema == "" || localRaw == "" {
		return nil, fmt.Errorf("lead %s handed off but deal reference missing", lead.ID)
	}
	localDealID, err := uuid.Parse(localRaw)
	if err != nil {
		return nil, fmt.Errorf("lead %s deal reference invalid: %w", lead.ID, err)
	}
	return s.crm.FindDealIndex(ctx, lead.CompanyID, schema, localDealID)
}

func dealName(lead *store.Lead) string {
	if lead.Name != "" {
		return lead.Name
	}
	return lead.Phone
}

// fingerprint keys the contact across schemas without storing the phone
// twice.
func fingerprint(companyID uuid.UUID, phone string) string {
	sum := sha256.Sum256([]byte(companyID.String() + ":" + phone))
	return hex.EncodeToString(sum[:])
}
