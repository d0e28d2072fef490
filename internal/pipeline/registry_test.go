package pipeline

import "testing"

func TestCandidatesForKindOrdersLoadBeforeSearch(t *testing.T) {
	candidates := CandidatesForKind(KindRawMedia)
	if len(candidates) != 2 || candidates[0] != "load_media" || candidates[1] != "search_media" {
		t.Fatalf("expected [load_media search_media], got %v", candidates)
	}
}

func TestRequiredKindsAutoVsDefault(t *testing.T) {
	spec, ok := SpecByID("filter_clips")
	if !ok {
		t.Fatal("filter_clips not found in registry")
	}
	auto := RequiredKinds(spec, "auto")
	if len(auto) != 1 || auto[0] != KindClipUnderstanding {
		t.Fatalf("expected [clip_understanding], got %v", auto)
	}
	def := RequiredKinds(spec, "default")
	if len(def) != 1 || def[0] != KindShots {
		t.Fatalf("expected [shots], got %v", def)
	}
}

func TestMandatoryNodes(t *testing.T) {
	for _, id := range []string{"load_media", "plan_timeline", "render_video"} {
		if !MandatoryNodes[id] {
			t.Fatalf("expected %s to be mandatory", id)
		}
	}
	if MandatoryNodes["filter_clips"] {
		t.Fatal("filter_clips should not be mandatory")
	}
}
