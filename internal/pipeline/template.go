package pipeline

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

// NodeMode is one node's execution mode within a template.
type NodeMode string

const (
	ModeAuto    NodeMode = "auto"
	ModeSkip    NodeMode = "skip"
	ModeDefault NodeMode = "default"
)

// NodeConfig is one node's configuration within an EditTemplate.
type NodeConfig struct {
	NodeID          string         `json:"node_id"`
	Mode            NodeMode       `json:"mode"`
	Params          map[string]any `json:"params"`
	ConfirmRequired bool           `json:"confirm_required"`
}

// AutoMode selects between fully unattended and confirm-gated
// execution.
type AutoMode string

const (
	AutoModeFull AutoMode = "full_auto"
	AutoModeSemi AutoMode = "semi_auto"
)

// EditTemplate is a reusable pipeline configuration: per-node modes
// and params, plus the semi-auto confirmation timeout.
type EditTemplate struct {
	TemplateID         string       `json:"template_id"`
	Name               string       `json:"name"`
	Description        string       `json:"description"`
	Nodes              []NodeConfig `json:"nodes"`
	AutoMode           AutoMode     `json:"auto_mode"`
	SemiAutoTimeoutSec int          `json:"semi_auto_timeout_sec"`
	IsPreset           bool         `json:"is_preset"`
	CreatedAt          float64      `json:"created_at"`
	UpdatedAt          float64      `json:"updated_at"`
}

// NewTemplateID mints a 12-hex-character template id.
func NewTemplateID() (string, error) {
	buf := make([]byte, 6)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("pipeline: generate template id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

func cfg(nodeID string, mode NodeMode, params map[string]any, confirm bool) NodeConfig {
	return NodeConfig{NodeID: nodeID, Mode: mode, Params: params, ConfirmRequired: confirm}
}

// PresetTravelVlog is the built-in template tuned for travel footage.
func PresetTravelVlog() EditTemplate {
	return EditTemplate{
		TemplateID:  "preset_travel_vlog",
		Name:        "Travel Vlog",
		Description: "For travel footage: auto voiceover and an upbeat BGM.",
		IsPreset:    true,
		AutoMode:    AutoModeFull,
		Nodes: []NodeConfig{
			cfg("search_media", ModeSkip, nil, false),
			cfg("load_media", ModeAuto, nil, false),
			cfg("split_shots", ModeAuto, nil, false),
			cfg("understand_clips", ModeAuto, nil, false),
			cfg("filter_clips", ModeAuto, map[string]any{
				"user_request": "keep scenic shots with a travel feel",
			}, false),
			cfg("group_clips", ModeAuto, map[string]any{
				"user_request": "organize along the trip timeline, overview then detail",
			}, false),
			cfg("generate_script", ModeAuto, map[string]any{
				"user_request": "light, upbeat travel-vlog voiceover copy",
			}, false),
			cfg("generate_voiceover", ModeAuto, nil, false),
			cfg("select_BGM", ModeAuto, map[string]any{
				"filter_include": map[string]any{
					"mood":  []string{"Chill", "Happy"},
					"scene": []string{"Travel", "Vlog"},
				},
			}, false),
			cfg("plan_timeline", ModeAuto, nil, false),
			cfg("render_video", ModeAuto, nil, false),
		},
	}
}

// PresetFoodShort mirrors _preset_food_short.
func PresetFoodShort() EditTemplate {
	return EditTemplate{
		TemplateID:  "preset_food_short",
		Name:        "Food Short",
		Description: "For food/restaurant footage, emphasizing texture and plating.",
		IsPreset:    true,
		AutoMode:    AutoModeFull,
		Nodes: []NodeConfig{
			cfg("search_media", ModeSkip, nil, false),
			cfg("load_media", ModeAuto, nil, false),
			cfg("split_shots", ModeAuto, nil, false),
			cfg("understand_clips", ModeAuto, nil, false),
			cfg("filter_clips", ModeAuto, map[string]any{
				"user_request": "keep close-ups of food and the cooking process",
			}, false),
			cfg("group_clips", ModeAuto, map[string]any{
				"user_request": "organize by cooking flow, ingredients to finished dish",
			}, false),
			cfg("generate_script", ModeAuto, map[string]any{
				"user_request": "concise food narration emphasizing ingredients and taste",
			}, false),
			cfg("generate_voiceover", ModeAuto, nil, false),
			cfg("select_BGM", ModeAuto, map[string]any{
				"filter_include": map[string]any{
					"mood":  []string{"Chill", "Happy"},
					"scene": []string{"Food", "Cafe"},
				},
			}, false),
			cfg("plan_timeline", ModeAuto, nil, false),
			cfg("render_video", ModeAuto, nil, false),
		},
	}
}

// PresetQuickCut mirrors _preset_quick_cut: the leanest pipeline,
// skipping understanding/filtering/script/voiceover entirely.
func PresetQuickCut() EditTemplate {
	return EditTemplate{
		TemplateID:  "preset_quick_cut",
		Name:        "Quick Cut",
		Description: "Minimal pipeline: skips filtering and voiceover for a fast turnaround.",
		IsPreset:    true,
		AutoMode:    AutoModeFull,
		Nodes: []NodeConfig{
			cfg("search_media", ModeSkip, nil, false),
			cfg("load_media", ModeAuto, nil, false),
			cfg("split_shots", ModeAuto, nil, false),
			cfg("understand_clips", ModeSkip, nil, false),
			cfg("filter_clips", ModeSkip, nil, false),
			cfg("group_clips", ModeAuto, nil, false),
			cfg("generate_script", ModeSkip, nil, false),
			cfg("generate_voiceover", ModeSkip, nil, false),
			cfg("select_BGM", ModeAuto, nil, false),
			cfg("plan_timeline", ModeAuto, nil, false),
			cfg("render_video", ModeAuto, nil, false),
		},
	}
}

// PresetSemiAuto mirrors _preset_semi_auto: key nodes (filter, script,
// voiceover) require confirmation, falling back to defaults on
// timeout.
func PresetSemiAuto() EditTemplate {
	return EditTemplate{
		TemplateID:         "preset_semi_auto",
		Name:               "Semi-Automatic",
		Description:        "Key nodes (filter, script, voiceover) require confirmation; timeout uses defaults.",
		IsPreset:           true,
		AutoMode:           AutoModeSemi,
		SemiAutoTimeoutSec: 10,
		Nodes: []NodeConfig{
			cfg("search_media", ModeSkip, nil, false),
			cfg("load_media", ModeAuto, nil, false),
			cfg("split_shots", ModeAuto, nil, false),
			cfg("understand_clips", ModeAuto, nil, false),
			cfg("filter_clips", ModeAuto, nil, true),
			cfg("group_clips", ModeAuto, nil, false),
			cfg("generate_script", ModeAuto, nil, true),
			cfg("generate_voiceover", ModeAuto, nil, true),
			cfg("select_BGM", ModeAuto, nil, false),
			cfg("plan_timeline", ModeAuto, nil, false),
			cfg("render_video", ModeAuto, nil, false),
		},
	}
}

// PresetTemplates lists the built-in, non-deletable templates.
func PresetTemplates() []EditTemplate {
	return []EditTemplate{
		PresetTravelVlog(),
		PresetFoodShort(),
		PresetQuickCut(),
		PresetSemiAuto(),
	}
}
