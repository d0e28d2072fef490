package httpapi

import (
	"fmt"

	"github.com/sxm1129/FireRed-OpenStoryline/internal/media"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/pipeline"
	"github.com/sxm1129/FireRed-OpenStoryline/internal/session"
)

// sessionSnapshot is the JSON shape returned by session create/get.
type sessionSnapshot struct {
	ID            string            `json:"id"`
	Lang          string            `json:"lang"`
	DeveloperMode bool              `json:"developer_mode"`
	ChatModel     string            `json:"chat_model"`
	VLMModel      string            `json:"vlm_model"`
	MediaCount    int               `json:"media_count"`
	PendingMedia  []mediaDTO        `json:"pending_media"`
	History       []historyEntryDTO `json:"history"`
}

type historyEntryDTO struct {
	Role       string  `json:"role"`
	Text       string  `json:"text,omitempty"`
	ToolCallID string  `json:"tool_call_id,omitempty"`
	ToolName   string  `json:"tool_name,omitempty"`
	Status     string  `json:"status,omitempty"`
	Progress   float64 `json:"progress,omitempty"`
	Summary    any     `json:"summary,omitempty"`
	IsError    bool    `json:"isError,omitempty"`
	Timestamp  string  `json:"timestamp"`
}

type mediaDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Kind      string `json:"kind"`
	CreatedAt string `json:"created_at"`
	ThumbURL  string `json:"thumb_url"`
	FileURL   string `json:"file_url"`
}

func toMediaDTO(sessionID string, m session.MediaMeta) mediaDTO {
	return mediaDTO{
		ID:        m.ID,
		Name:      m.Name,
		Kind:      string(m.Kind),
		CreatedAt: m.CreatedAt.UTC().Format(timeLayout),
		ThumbURL:  fmt.Sprintf("/api/sessions/%s/media/%s/thumb", sessionID, m.ID),
		FileURL:   fmt.Sprintf("/api/sessions/%s/media/%s/file", sessionID, m.ID),
	}
}

const timeLayout = "2006-01-02T15:04:05.000Z07:00"

func toSnapshot(sess *session.Session) sessionSnapshot {
	pending := sess.PendingMedia()
	pendingDTOs := make([]mediaDTO, 0, len(pending))
	for _, m := range pending {
		pendingDTOs = append(pendingDTOs, toMediaDTO(sess.ID, m))
	}

	history := sess.History
	historyDTOs := make([]historyEntryDTO, 0, len(history))
	for _, h := range history {
		historyDTOs = append(historyDTOs, historyEntryDTO{
			Role:       h.Role,
			Text:       h.Text,
			ToolCallID: h.ToolCallID,
			ToolName:   h.ToolName,
			Status:     h.Status,
			Progress:   h.Progress,
			Summary:    h.Summary,
			IsError:    h.IsError,
			Timestamp:  h.Timestamp.UTC().Format(timeLayout),
		})
	}

	return sessionSnapshot{
		ID:            sess.ID,
		Lang:          sess.Lang,
		DeveloperMode: sess.DeveloperMode,
		ChatModel:     sess.ChatModelKey,
		VLMModel:      sess.VLMModelKey,
		MediaCount:    sess.MediaCount(),
		PendingMedia:  pendingDTOs,
		History:       historyDTOs,
	}
}

// nodeSpecDTO is one row of the GET /api/node-map response.
type nodeSpecDTO struct {
	NodeID               string   `json:"node_id"`
	ProducedKind         string   `json:"produced_kind"`
	RequiredKindsAuto    []string `json:"required_kinds_auto"`
	RequiredKindsDefault []string `json:"required_kinds_default"`
}

func toNodeSpecDTO(spec pipeline.NodeSpec) nodeSpecDTO {
	return nodeSpecDTO{
		NodeID:               spec.ID,
		ProducedKind:         string(spec.ProducedKind),
		RequiredKindsAuto:    kindsToStrings(spec.RequiredKindsAuto),
		RequiredKindsDefault: kindsToStrings(spec.RequiredKindsDefault),
	}
}

func kindsToStrings(kinds []pipeline.Kind) []string {
	out := make([]string, 0, len(kinds))
	for _, k := range kinds {
		out = append(out, string(k))
	}
	return out
}

func detectKind(displayName string, head []byte) media.Kind {
	if k := media.DetectKindByExt(displayName); k != media.KindUnknown {
		return k
	}
	return media.DetectKindBySignature(head)
}
