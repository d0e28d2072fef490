// Package pipeline implements the tool interceptor chain and the DAG
// pipeline executor: a fixed, typed node registry drives dependency
// resolution and topological execution over the thirteen
// editing-pipeline nodes.
package pipeline

// Kind identifies the shape of data a node produces or requires, e.g.
// "raw_media" or "timeline".
type Kind string

const (
	KindRawMedia          Kind = "raw_media"
	KindShots             Kind = "shots"
	KindClipUnderstanding Kind = "clip_understanding"
	KindFilteredClips     Kind = "filtered_clips"
	KindGroupedClips      Kind = "grouped_clips"
	KindScriptTemplate    Kind = "script_template"
	KindScript            Kind = "script"
	KindEffects           Kind = "effects"
	KindVoiceover         Kind = "voiceover"
	KindBGM               Kind = "bgm"
	KindTimeline          Kind = "timeline"
	KindRender            Kind = "render"
)

// NodeSpec is one row of the typed node registry.
type NodeSpec struct {
	ID                   string
	ProducedKind         Kind
	RequiredKindsAuto    []Kind
	RequiredKindsDefault []Kind
}

// DefaultPipelineOrder is the fixed DAG topological order every
// template's node list is filled out against.
var DefaultPipelineOrder = []string{
	"search_media",
	"load_media",
	"split_shots",
	"understand_clips",
	"filter_clips",
	"group_clips",
	"script_template_rec",
	"generate_script",
	"recommend_effects",
	"generate_voiceover",
	"select_BGM",
	"plan_timeline",
	"render_video",
}

// MandatoryNodes are always "auto" when a template doesn't name them.
var MandatoryNodes = map[string]bool{
	"load_media":    true,
	"plan_timeline": true,
	"render_video":  true,
}

// Registry is the ordered node table driving both the dependency
// injector (C5) and the executor's fixed topological plan (C6).
var Registry = []NodeSpec{
	{ID: "load_media", ProducedKind: KindRawMedia},
	{ID: "search_media", ProducedKind: KindRawMedia},
	{ID: "split_shots", ProducedKind: KindShots,
		RequiredKindsAuto: []Kind{KindRawMedia}, RequiredKindsDefault: []Kind{KindRawMedia}},
	{ID: "understand_clips", ProducedKind: KindClipUnderstanding,
		RequiredKindsAuto: []Kind{KindShots}, RequiredKindsDefault: []Kind{KindShots}},
	{ID: "filter_clips", ProducedKind: KindFilteredClips,
		RequiredKindsAuto: []Kind{KindClipUnderstanding}, RequiredKindsDefault: []Kind{KindShots}},
	{ID: "group_clips", ProducedKind: KindGroupedClips,
		RequiredKindsAuto: []Kind{KindFilteredClips}, RequiredKindsDefault: []Kind{KindShots}},
	{ID: "script_template_rec", ProducedKind: KindScriptTemplate,
		RequiredKindsAuto: []Kind{KindGroupedClips}, RequiredKindsDefault: []Kind{KindGroupedClips}},
	{ID: "generate_script", ProducedKind: KindScript,
		RequiredKindsAuto:    []Kind{KindScriptTemplate, KindGroupedClips},
		RequiredKindsDefault: []Kind{KindGroupedClips}},
	{ID: "recommend_effects", ProducedKind: KindEffects,
		RequiredKindsAuto: []Kind{KindScript}, RequiredKindsDefault: []Kind{KindGroupedClips}},
	{ID: "generate_voiceover", ProducedKind: KindVoiceover,
		RequiredKindsAuto: []Kind{KindScript}, RequiredKindsDefault: []Kind{KindScript}},
	{ID: "select_BGM", ProducedKind: KindBGM,
		RequiredKindsAuto: []Kind{KindScript}},
	{ID: "plan_timeline", ProducedKind: KindTimeline,
		RequiredKindsAuto:    []Kind{KindVoiceover, KindBGM, KindEffects, KindGroupedClips},
		RequiredKindsDefault: []Kind{KindGroupedClips}},
	{ID: "render_video", ProducedKind: KindRender,
		RequiredKindsAuto: []Kind{KindTimeline}, RequiredKindsDefault: []Kind{KindTimeline}},
}

// specByID and nodeIDsByKind are built once from Registry for O(1) lookups.
var (
	specByID      map[string]NodeSpec
	nodeIDsByKind map[Kind][]string
)

func init() {
	specByID = make(map[string]NodeSpec, len(Registry))
	nodeIDsByKind = make(map[Kind][]string)
	for _, spec := range Registry {
		specByID[spec.ID] = spec
		nodeIDsByKind[spec.ProducedKind] = append(nodeIDsByKind[spec.ProducedKind], spec.ID)
	}
}

// SpecByID returns a node's registry entry.
func SpecByID(id string) (NodeSpec, bool) {
	spec, ok := specByID[id]
	return spec, ok
}

// CandidatesForKind returns, in registry order, the node ids that
// produce the given kind — the tie-break order the dependency injector
// uses when several candidates can satisfy a missing requirement
// (load_media before search_media, since Registry lists it first).
func CandidatesForKind(kind Kind) []string {
	return nodeIDsByKind[kind]
}

// RequiredKinds returns the kinds a node needs for the given mode
// ("auto" uses RequiredKindsAuto, everything else — "default"/"skip" —
// uses RequiredKindsDefault).
func RequiredKinds(spec NodeSpec, mode string) []Kind {
	if mode == "auto" {
		return spec.RequiredKindsAuto
	}
	return spec.RequiredKindsDefault
}
