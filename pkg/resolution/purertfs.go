package resolution

import (
	"fmt"
	"strings"
)

// capabilityShape classifies the kind of RTFS stub PureRTFSStrategy
// generates, inferred from verbs/nouns in the intent description.
type capabilityShape string

const (
	shapeDataFilter    capabilityShape = "data.filter"
	shapeDataSort      capabilityShape = "data.sort"
	shapeDataGroupBy   capabilityShape = "data.group_by"
	shapeDataCount     capabilityShape = "data.count"
	shapeDataAggregate capabilityShape = "data.aggregate"
	shapeDataFormat    capabilityShape = "data.format"
	shapeAPIList       capabilityShape = "api.list"
	shapeAPIGet        capabilityShape = "api.get"
	shapeAPICreate     capabilityShape = "api.create"
	shapeAPIUpdate     capabilityShape = "api.update"
	shapeAPIDelete     capabilityShape = "api.delete"
	shapeUserOutput    capabilityShape = "user.output"
	shapeComposite     capabilityShape = "composite"
)

// shapeKeywords maps each shape to the description keywords that trigger it,
// checked in map-iteration-independent declared order below.
var shapeOrder = []struct {
	shape    capabilityShape
	keywords []string
}{
	{shapeDataFilter, []string{"filter", "where", "matching"}},
	{shapeDataSort, []string{"sort", "order by", "rank"}},
	{shapeDataGroupBy, []string{"group by", "group", "bucket"}},
	{shapeDataCount, []string{"count", "how many", "number of"}},
	{shapeDataAggregate, []string{"sum", "average", "total", "aggregate"}},
	{shapeDataFormat, []string{"format", "render", "template"}},
	{shapeAPIList, []string{"list", "enumerate", "fetch all"}},
	{shapeAPIGet, []string{"get", "fetch", "retrieve", "read"}},
	{shapeAPICreate, []string{"create", "add", "new"}},
	{shapeAPIUpdate, []string{"update", "edit", "modify"}},
	{shapeAPIDelete, []string{"delete", "remove"}},
	{shapeUserOutput, []string{"show", "display", "print", "output"}},
}

func inferShape(description string) capabilityShape {
	lower := strings.ToLower(description)
	for _, entry := range shapeOrder {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.shape
			}
		}
	}
	return shapeComposite
}

// PureRTFSStrategy is spec.md §4.G.2: synthesize an RTFS source body
// directly from the sub-intent without consulting any catalog or external
// service, using deterministic per-shape templates. When ctx.LLM is
// available it instead asks the LLM to draft the body via the
// "capability_synthesis" template, accepting the draft only if it contains
// the "(capability" sentinel.
type PureRTFSStrategy struct{}

func (s *PureRTFSStrategy) Name() string { return "PureRTFSGeneration" }

func (s *PureRTFSStrategy) CanHandle(intent SubIntent) bool { return intent.Description != "" }

func (s *PureRTFSStrategy) Resolve(intent SubIntent, rc ResolutionContext) (ResolvedCapability, error) {
	if rc.LLM != nil {
		draft, err := rc.LLM.Complete("capability_synthesis", map[string]string{
			"description": intent.Description,
		})
		if err == nil && strings.Contains(draft, "(capability") {
			return ResolvedCapability{Kind: KindSynthesized, ID: syntheticID(intent), RTFSSource: draft}, nil
		}
	}

	shape := inferShape(intent.Description)
	source := renderTemplate(shape, intent)
	return ResolvedCapability{Kind: KindSynthesized, ID: syntheticID(intent), RTFSSource: source}, nil
}

func syntheticID(intent SubIntent) string {
	tokens := tokenize(intent.Description)
	if len(tokens) == 0 {
		return "ccos.synthesized.capability"
	}
	if len(tokens) > 3 {
		tokens = tokens[:3]
	}
	return "ccos.synthesized." + strings.Join(tokens, "_")
}

// renderTemplate produces a minimal but well-formed RTFS capability body for
// shape, parameterized by the description as a doc comment — the templates
// intentionally stay generic; a full implementation body is the evaluator's
// job, not the resolver's.
func renderTemplate(shape capabilityShape, intent SubIntent) string {
	id := syntheticID(intent)
	var b strings.Builder
	fmt.Fprintf(&b, "(capability %q\n", id)
	fmt.Fprintf(&b, "  :description %q\n", intent.Description)
	fmt.Fprintf(&b, "  :shape %q\n", shape)

	switch shape {
	case shapeDataFilter, shapeDataSort, shapeDataGroupBy, shapeDataCount, shapeDataAggregate, shapeDataFormat:
		b.WriteString("  :input-type {:kind \"vector\" :element {:kind \"any\"}}\n")
		b.WriteString("  :output-type {:kind \"vector\" :element {:kind \"any\"}}\n")
		b.WriteString("  :effect-class \"pure\"\n")
	case shapeAPIList, shapeAPIGet:
		b.WriteString("  :input-type {:kind \"map\" :entries []}\n")
		b.WriteString("  :output-type {:kind \"any\"}\n")
		b.WriteString("  :effect-class \"pure\"\n")
	case shapeAPICreate, shapeAPIUpdate, shapeAPIDelete:
		b.WriteString("  :input-type {:kind \"map\" :entries []}\n")
		b.WriteString("  :output-type {:kind \"any\"}\n")
		b.WriteString("  :effect-class \"effectful\"\n")
	case shapeUserOutput:
		b.WriteString("  :input-type {:kind \"any\"}\n")
		b.WriteString("  :output-type {:kind \"primitive\" :primitive \"string\"}\n")
		b.WriteString("  :effect-class \"effectful\"\n")
	default:
		b.WriteString("  :input-type {:kind \"any\"}\n")
		b.WriteString("  :output-type {:kind \"any\"}\n")
		b.WriteString("  :effect-class \"effectful\"\n")
	}
	b.WriteString(")\n")
	return b.String()
}
