package tools

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/wolfganghq/centurion/internal/llm"
	"github.com/wolfganghq/centurion/internal/store"
)

// MediaSearchToolName is the built-in asset lookup exposed to the model on
// media-capable channels.
const MediaSearchToolName = "media_search_assets"

var mediaSearchParams = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {"type": "string", "description": "Texto livre para buscar no nome e na descrição dos arquivos"},
		"media_type": {"type": "string", "enum": ["audio", "image", "video", "document"], "description": "Filtra por tipo de mídia"},
		"tags": {"type": "array", "items": {"type": "string"}, "description": "Filtra por tags"},
		"limit": {"type": "integer", "minimum": 1, "maximum": 10}
	}
}`)

func mediaSearchDefinition() llm.ToolDefinition {
	return llm.ToolDefinition{
		Name: MediaSearchToolName,
		Description: "Busca arquivos de mídia (áudios, imagens, vídeos, documentos) disponíveis para envio ao cliente. " +
			"Use o asset_id retornado em um bloco ```media``` na resposta para enviar o arquivo.",
		Parameters: mediaSearchParams,
	}
}

type mediaSearchArgs struct {
	Query     string   `json:"query"`
	MediaType string   `json:"media_type"`
	Tags      []string `json:"tags"`
	Limit     int      `json:"limit"`
}

func executeMediaSearch(ctx context.Context, media store.MediaStore, companyID, centurionID uuid.UUID, rawArgs map[string]any) Result {
	encoded, err := json.Marshal(rawArgs)
	if err != nil {
		return failure("invalid arguments", err.Error())
	}
	var args mediaSearchArgs
	if err := json.Unmarshal(encoded, &args); err != nil {
		return failure("invalid arguments", err.Error())
	}

	assets, err := media.Search(ctx, companyID, centurionID, args.Query, args.Tags, args.MediaType, args.Limit)
	if err != nil {
		return failure("media search failed", err.Error())
	}

	items := make([]map[string]any, 0, len(assets))
	for _, a := range assets {
		items = append(items, map[string]any{
			"asset_id":    a.ID.String(),
			"name":        a.Name,
			"description": a.Description,
			"media_type":  a.MediaType,
			"tags":        a.Tags,
		})
	}
	return Result{OK: true, StatusCode: 200, Body: map[string]any{"assets": items}}
}
