package resolution

import (
	"sort"
	"strings"

	"github.com/ccos-run/ccos/pkg/manifest"
)

// builtIns are resolved without consulting the catalog at all, per
// spec.md §4.G.1 ("Built-ins first").
var builtIns = map[string]bool{"user-input": true, "output": true}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "to": true, "for": true,
	"and": true, "or": true, "in": true, "on": true, "with": true, "by": true,
}

var actionVerbs = map[string]bool{
	"list": true, "get": true, "create": true, "update": true, "delete": true,
	"sort": true, "filter": true, "search": true, "find": true, "fetch": true,
	"send": true, "post": true, "remove": true, "add": true,
}

// CatalogStrategy is spec.md §4.G.1: built-ins, then LLM-hint direct lookup,
// then scored catalog search (heuristic, optionally hybridized with an
// embedding similarity), with adaptation of missing prompt/question/message
// fields from the intent description.
type CatalogStrategy struct{}

func (s *CatalogStrategy) Name() string { return "Catalog" }

func (s *CatalogStrategy) CanHandle(intent SubIntent) bool { return true }

func (s *CatalogStrategy) Resolve(intent SubIntent, rc ResolutionContext) (ResolvedCapability, error) {
	lowerDesc := strings.ToLower(intent.Description)
	for b := range builtIns {
		if strings.Contains(lowerDesc, b) {
			return ResolvedCapability{Kind: KindBuiltIn, ID: b, Args: intent.ExtractedParams}, nil
		}
	}

	if rc.Catalog == nil {
		return ResolvedCapability{}, ErrNotFound
	}

	if hint, ok := intent.SuggestedTool(); ok && hint != "" {
		for _, candidateID := range hintAliases(hint) {
			if m, found := rc.Catalog.Get(candidateID); found {
				args, err := adaptArgs(m, intent)
				if err != nil {
					continue
				}
				return ResolvedCapability{Kind: KindLocal, ID: m.ID, Args: args, Confidence: 0.95}, nil
			}
		}
	}

	candidates := rc.Catalog.List("")
	best, bestScore := (*manifest.CapabilityManifest)(nil), -1.0
	for _, m := range candidates {
		score, err := scoreCandidate(intent, m, rc)
		if err != nil {
			continue
		}
		if score > bestScore || (score == bestScore && best != nil && m.ID < best.ID) {
			best, bestScore = m, score
		}
	}

	minScore := rc.MinScore
	if minScore == 0 {
		minScore = 0.4
	}
	if best == nil || bestScore < minScore {
		return ResolvedCapability{}, ErrNotFound
	}

	args, err := adaptArgs(best, intent)
	if err != nil {
		return ResolvedCapability{}, ErrNotFound
	}
	return ResolvedCapability{Kind: KindLocal, ID: best.ID, Args: args, Confidence: bestScore}, nil
}

// hintAliases expands an LLM-suggested tool hint into the direct-lookup
// candidates of spec.md §4.G.1: the id itself, plus the display-name alias
// patterns mcp.<domain>.<tool>, ccos.<tool>, ccos.data.<snake>.
func hintAliases(hint string) []string {
	snake := strings.ReplaceAll(strings.ToLower(hint), " ", "_")
	return []string{hint, "ccos." + snake, "ccos.data." + snake}
}

// scoreCandidate computes a [0,1] match score for one capability manifest
// against a sub-intent, using hybrid embedding+heuristic scoring when both
// are enabled and configured, otherwise the heuristic alone.
func scoreCandidate(intent SubIntent, m *manifest.CapabilityManifest, rc ResolutionContext) (float64, error) {
	heuristic := heuristicScore(intent, m)

	if rc.HybridScoring && rc.Embeddings != nil {
		sim, err := rc.Embeddings.Similarity(intent.Description, m.DisplayName+": "+m.Description)
		if err == nil {
			return 0.7*sim + 0.3*heuristic, nil
		}
	}
	return heuristic, nil
}

// heuristicScore tokenizes the intent and capability names (stripping stop
// words and action verbs), then rewards action-verb alignment, object-noun
// matches (including naive plural/abbreviation forms), description
// substring matches, and the suggested-tool bonus, while penalizing
// capability nouns absent from the intent and extra qualifier words.
func heuristicScore(intent SubIntent, m *manifest.CapabilityManifest) float64 {
	intentTokens := tokenize(intent.Description)
	capTokens := tokenize(m.DisplayName + " " + lastIDSegment(m.ID))

	intentVerbs, intentNouns := splitVerbsNouns(intentTokens)
	capVerbs, capNouns := splitVerbsNouns(capTokens)

	score := 0.0
	total := 0.0

	total++
	if intersects(intentVerbs, capVerbs) {
		score += 1
	}

	for _, n := range capNouns {
		total++
		if containsNoun(intentNouns, n) {
			score += 1
		} else {
			score -= 0.5 // capability noun absent from intent
		}
	}

	if strings.Contains(strings.ToLower(intent.Description), strings.ToLower(m.Description)) && m.Description != "" {
		score += 0.5
		total += 0.5
	}

	if hint, ok := intent.SuggestedTool(); ok && strings.Contains(m.ID, hint) {
		score += 0.5
		total += 0.5
	}

	if total == 0 {
		return 0
	}
	normalized := score / total
	if normalized < 0 {
		normalized = 0
	}
	if normalized > 1 {
		normalized = 1
	}
	return normalized
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f == "" || stopWords[f] {
			continue
		}
		out = append(out, f)
	}
	return out
}

func splitVerbsNouns(tokens []string) (verbs, nouns []string) {
	for _, t := range tokens {
		if actionVerbs[t] {
			verbs = append(verbs, t)
		} else {
			nouns = append(nouns, t)
		}
	}
	return
}

func intersects(a, b []string) bool {
	set := make(map[string]bool, len(a))
	for _, x := range a {
		set[x] = true
	}
	for _, y := range b {
		if set[y] {
			return true
		}
	}
	return false
}

// containsNoun reports whether needle (or a naive singular/plural/"-ies"
// variant of it) appears among haystack.
func containsNoun(haystack []string, needle string) bool {
	variants := []string{needle}
	if strings.HasSuffix(needle, "ies") {
		variants = append(variants, strings.TrimSuffix(needle, "ies")+"y")
	}
	if strings.HasSuffix(needle, "s") {
		variants = append(variants, strings.TrimSuffix(needle, "s"))
	} else {
		variants = append(variants, needle+"s")
	}
	for _, h := range haystack {
		for _, v := range variants {
			if h == v {
				return true
			}
		}
	}
	return false
}

func lastIDSegment(id string) string {
	parts := strings.Split(id, ".")
	return strings.ReplaceAll(parts[len(parts)-1], "_", " ")
}

// adaptArgs validates the intent's extracted params against the manifest's
// declared input schema (when present), filling missing prompt/question/
// message fields from the intent description, and rejects candidates that
// fail adaptation (a required field neither supplied nor adaptable).
func adaptArgs(m *manifest.CapabilityManifest, intent SubIntent) (map[string]interface{}, error) {
	args := make(map[string]interface{}, len(intent.ExtractedParams))
	for k, v := range intent.ExtractedParams {
		if strings.HasPrefix(k, "_") {
			continue // internal hints like _suggested_tool are not capability args
		}
		args[k] = v
	}

	if m.InputType == nil || m.InputType.Kind != manifest.TypeKindMap {
		return args, nil
	}

	adaptableFields := map[string]bool{"prompt": true, "question": true, "message": true}
	for _, entry := range m.InputType.Entries {
		if entry.Optional {
			continue
		}
		if _, ok := args[entry.Key]; ok {
			continue
		}
		if adaptableFields[entry.Key] {
			args[entry.Key] = intent.Description
			continue
		}
		return nil, ErrNotFound
	}
	return args, nil
}

// sortedByID is a small helper kept for deterministic tie-break iteration in
// callers that need a stable candidate ordering beyond map iteration.
func sortedByID(manifests []*manifest.CapabilityManifest) []*manifest.CapabilityManifest {
	out := append([]*manifest.CapabilityManifest{}, manifests...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
