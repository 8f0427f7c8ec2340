package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/secrets"
	"github.com/wolfganghq/centurion/internal/store"
)

// ToolStore reads tenant tool and MCP server configurations. Auth secrets are
// stored encrypted; a decrypt failure logs a warning and yields an empty auth
// config rather than failing the whole listing.
type ToolStore struct {
	db      *sql.DB
	keyring *secrets.Keyring
}

func NewToolStore(db *sql.DB, keyring *secrets.Keyring) *ToolStore {
	return &ToolStore{db: db, keyring: keyring}
}

func (s *ToolStore) decryptAuth(ctx context.Context, enc string, label string, id uuid.UUID) map[string]any {
	if enc == "" {
		return map[string]any{}
	}
	if s.keyring == nil {
		// Legacy plaintext rows only.
		var m map[string]any
		if err := json.Unmarshal([]byte(enc), &m); err == nil {
			return m
		}
		return map[string]any{}
	}
	cfg, err := s.keyring.DecryptJSON(enc)
	if err != nil {
		slog.WarnContext(ctx, "failed to decrypt auth config", "kind", label, "id", id, "error", err)
		return map[string]any{}
	}
	return cfg
}

// ListTools returns the enabled custom HTTP tools visible to the bot.
func (s *ToolStore) ListTools(ctx context.Context, companyID, centurionID uuid.UUID) ([]*store.ToolConfig, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, centurion_id, tool_name, description, endpoint, method,
		       headers, auth_type, auth_config_enc, input_schema, output_schema, timeout_ms, enabled
		FROM core.tools
		WHERE company_id = $1 AND enabled = true
		  AND (centurion_id IS NULL OR centurion_id = $2)
		ORDER BY tool_name ASC`, companyID, centurionID)
	if err != nil {
		return nil, fmt.Errorf("list tools: %w", err)
	}
	defer rows.Close()

	var out []*store.ToolConfig
	for rows.Next() {
		var (
			t           store.ToolConfig
			centurion   uuid.NullUUID
			description sql.NullString
			method      sql.NullString
			headersRaw  []byte
			authType    sql.NullString
			authEnc     sql.NullString
			inputRaw    []byte
			outputRaw   []byte
		)
		if err := rows.Scan(&t.ID, &t.CompanyID, &centurion, &t.ToolName, &description, &t.Endpoint, &method,
			&headersRaw, &authType, &authEnc, &inputRaw, &outputRaw, &t.TimeoutMS, &t.Enabled); err != nil {
			return nil, err
		}
		if centurion.Valid {
			t.CenturionID = centurion.UUID
		}
		t.Description = derefStr(description)
		t.Method = derefStr(method)
		t.AuthType = derefStr(authType)
		t.AuthConfig = s.decryptAuth(ctx, derefStr(authEnc), "tool", t.ID)
		t.InputSchema = inputRaw
		t.OutputSchema = outputRaw

		headers := unmarshalMap(headersRaw)
		t.Headers = make(map[string]string, len(headers))
		for k, v := range headers {
			if sv, ok := v.(string); ok {
				t.Headers[k] = sv
			}
		}
		if t.TimeoutMS <= 0 {
			t.TimeoutMS = 15000
		}
		out = append(out, &t)
	}
	return out, rows.Err()
}

// ListMCPServers returns the enabled MCP servers visible to the bot.
func (s *ToolStore) ListMCPServers(ctx context.Context, companyID, centurionID uuid.UUID) ([]*store.MCPServer, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, company_id, centurion_id, name, server_url, auth_type, auth_config_enc,
		       tools_available, connection_status, last_tools_sync_at, last_error, enabled
		FROM core.mcp_servers
		WHERE company_id = $1 AND enabled = true
		  AND (centurion_id IS NULL OR centurion_id = $2)
		ORDER BY name ASC`, companyID, centurionID)
	if err != nil {
		return nil, fmt.Errorf("list mcp servers: %w", err)
	}
	defer rows.Close()

	var out []*store.MCPServer
	for rows.Next() {
		var (
			srv       store.MCPServer
			centurion uuid.NullUUID
			authType  sql.NullString
			authEnc   sql.NullString
			toolsRaw  []byte
			status    sql.NullString
			syncAt    sql.NullTime
			lastErr   sql.NullString
		)
		if err := rows.Scan(&srv.ID, &srv.CompanyID, &centurion, &srv.Name, &srv.ServerURL, &authType, &authEnc,
			&toolsRaw, &status, &syncAt, &lastErr, &srv.Enabled); err != nil {
			return nil, err
		}
		if centurion.Valid {
			srv.CenturionID = centurion.UUID
		}
		srv.AuthType = derefStr(authType)
		srv.AuthConfig = s.decryptAuth(ctx, derefStr(authEnc), "mcp_server", srv.ID)
		srv.ToolsAvailable = toolsRaw
		srv.ConnectionStatus = derefStr(status)
		if syncAt.Valid {
			srv.LastToolsSyncAt = &syncAt.Time
		}
		srv.LastError = derefStr(lastErr)
		out = append(out, &srv)
	}
	return out, rows.Err()
}

// UpdateMCPSync stores the latest tool listing and connection status.
func (s *ToolStore) UpdateMCPSync(ctx context.Context, serverID uuid.UUID, tools json.RawMessage, status, lastError string) error {
	if len(tools) == 0 {
		tools = json.RawMessage("[]")
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE core.mcp_servers
		SET tools_available = $2,
		    connection_status = $3,
		    last_error = $4,
		    last_tools_sync_at = $5,
		    updated_at = now()
		WHERE id = $1`,
		serverID, []byte(tools), status, nilStr(lastError), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update mcp sync: %w", err)
	}
	return nil
}
