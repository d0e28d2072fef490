package pipeline

import "testing"

func TestPresetTemplatesCoverAllMandatoryNodes(t *testing.T) {
	for _, tmpl := range PresetTemplates() {
		if !tmpl.IsPreset {
			t.Fatalf("%s: expected IsPreset=true", tmpl.TemplateID)
		}
		byID := map[string]NodeConfig{}
		for _, nc := range tmpl.Nodes {
			byID[nc.NodeID] = nc
		}
		for _, mandatory := range []string{"load_media", "plan_timeline", "render_video"} {
			nc, ok := byID[mandatory]
			if !ok || nc.Mode != ModeAuto {
				t.Fatalf("%s: expected mandatory node %s to be auto", tmpl.TemplateID, mandatory)
			}
		}
	}
}

func TestNewTemplateIDIsHex12(t *testing.T) {
	id, err := NewTemplateID()
	if err != nil {
		t.Fatal(err)
	}
	if len(id) != 12 {
		t.Fatalf("expected 12-char hex id, got %q", id)
	}
}
