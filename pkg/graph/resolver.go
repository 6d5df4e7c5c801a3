package graph

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/antzucaro/matchr"
)

const (
	defaultPhoneticThreshold = 0.70
	defaultFuzzyThreshold    = 0.85
)

var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// ResolverOption is a functional option for configuring a [FuzzyResolver].
type ResolverOption func(*FuzzyResolver)

// WithPhoneticThreshold sets the minimum Jaro-Winkler score required for a
// phonetically-matched title to be accepted. Default: 0.70.
func WithPhoneticThreshold(threshold float64) ResolverOption {
	return func(r *FuzzyResolver) {
		r.phoneticThreshold = threshold
	}
}

// WithFuzzyThreshold sets the minimum Jaro-Winkler score required when no
// phonetic match is found and the resolver falls back to pure string
// similarity. Default: 0.85.
func WithFuzzyThreshold(threshold float64) ResolverOption {
	return func(r *FuzzyResolver) {
		r.fuzzyThreshold = threshold
	}
}

// FuzzyResolver implements [Resolver] over any [Service].
//
// Resolution proceeds in stages of decreasing strictness:
//
//  1. UUID lookup: when ref has UUID syntax, the resource with that ID wins
//     (subject to visibility).
//  2. Exact slug match, then exact title match (case-insensitive). A unique
//     hit at either stage wins; several equally exact hits are ambiguous.
//  3. Phonetic candidate filtering: Double Metaphone codes are computed for
//     each word of ref and of each candidate title. Overlapping codes make a
//     candidate phonetic; phonetic candidates are ranked by Jaro-Winkler and
//     accepted above the phonetic threshold.
//  4. Pure Jaro-Winkler fallback over all titles, using the higher fuzzy
//     threshold.
//
// Multi-word titles are supported: the resolver considers full-string,
// concatenated, and best pairwise token scores when ranking.
type FuzzyResolver struct {
	svc Service

	phoneticThreshold float64
	fuzzyThreshold    float64
}

var _ Resolver = (*FuzzyResolver)(nil)

// NewResolver returns a [FuzzyResolver] over svc configured with the supplied
// options.
func NewResolver(svc Service, opts ...ResolverOption) *FuzzyResolver {
	r := &FuzzyResolver{
		svc:               svc,
		phoneticThreshold: defaultPhoneticThreshold,
		fuzzyThreshold:    defaultFuzzyThreshold,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ResolveRef implements [Resolver].
func (r *FuzzyResolver) ResolveRef(ctx context.Context, userID, ref string) (*Resource, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return nil, fmt.Errorf("resolve %q: %w", ref, ErrNotFound)
	}

	if uuidPattern.MatchString(ref) {
		res, err := r.svc.GetResource(ctx, strings.ToLower(ref))
		if err != nil {
			return nil, fmt.Errorf("resolve %q: %w", ref, err)
		}
		if res != nil {
			return res, nil
		}
		return nil, fmt.Errorf("resolve %q: %w", ref, ErrNotFound)
	}

	candidates, err := r.svc.ListResources(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: list resources: %w", ref, err)
	}

	refLower := strings.ToLower(ref)

	// Stage 2: exact slug, then exact title.
	if res, err := pickExact(candidates, refLower, func(c Resource) string { return strings.ToLower(c.Slug) }); err != nil || res != nil {
		return res, wrapResolveErr(ref, err)
	}
	if res, err := pickExact(candidates, refLower, func(c Resource) string { return strings.ToLower(c.Title) }); err != nil || res != nil {
		return res, wrapResolveErr(ref, err)
	}

	// Stages 3 and 4: phonetic filtering with Jaro-Winkler ranking, then pure
	// Jaro-Winkler fallback.
	if res, err := r.pickFuzzy(candidates, refLower); err != nil || res != nil {
		return res, wrapResolveErr(ref, err)
	}

	return nil, fmt.Errorf("resolve %q: %w", ref, ErrNotFound)
}

func wrapResolveErr(ref string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("resolve %q: %w", ref, err)
}

// pickExact returns the unique candidate whose key equals refLower, nil when
// none matches, and ErrAmbiguousRef when several do.
func pickExact(candidates []Resource, refLower string, key func(Resource) string) (*Resource, error) {
	var found *Resource
	for i := range candidates {
		if key(candidates[i]) != refLower {
			continue
		}
		if found != nil {
			return nil, ErrAmbiguousRef
		}
		found = &candidates[i]
	}
	return found, nil
}

func (r *FuzzyResolver) pickFuzzy(candidates []Resource, refLower string) (*Resource, error) {
	refTokens := strings.Fields(refLower)
	inputCodes := codesForTokens(refTokens)

	type scored struct {
		res      *Resource
		score    float64
		phonetic bool
	}

	var best scored
	tied := false

	for i := range candidates {
		titleLower := strings.ToLower(strings.TrimSpace(candidates[i].Title))
		if titleLower == "" {
			continue
		}
		titleTokens := strings.Fields(titleLower)

		phoneticMatch := codesOverlap(inputCodes, codesForTokens(titleTokens))
		jwScore := bestJWScore(refTokens, titleTokens, refLower, titleLower)

		var ok bool
		switch {
		case phoneticMatch && jwScore >= r.phoneticThreshold:
			ok = true
		case !phoneticMatch && jwScore >= r.fuzzyThreshold:
			ok = true
		}
		if !ok {
			continue
		}

		// Phonetic candidates outrank fuzzy-only candidates regardless of score.
		switch {
		case phoneticMatch && !best.phonetic,
			phoneticMatch == best.phonetic && jwScore > best.score:
			best = scored{res: &candidates[i], score: jwScore, phonetic: phoneticMatch}
			tied = false
		case phoneticMatch == best.phonetic && jwScore == best.score && best.res != nil:
			tied = true
		}
	}

	if best.res == nil {
		return nil, nil
	}
	if tied {
		return nil, ErrAmbiguousRef
	}
	return best.res, nil
}

// codesForTokens returns the union of all Double Metaphone codes for the
// given tokens. Empty codes (produced when the word is too short or contains
// no consonants) are excluded.
func codesForTokens(tokens []string) map[string]struct{} {
	codes := make(map[string]struct{}, len(tokens)*2)
	for _, t := range tokens {
		p, s := matchr.DoubleMetaphone(t)
		if p != "" {
			codes[p] = struct{}{}
		}
		if s != "" {
			codes[s] = struct{}{}
		}
	}
	return codes
}

// codesOverlap returns true if the two code sets share at least one code.
func codesOverlap(a, b map[string]struct{}) bool {
	// Iterate over the smaller set for efficiency.
	if len(a) > len(b) {
		a, b = b, a
	}
	for code := range a {
		if _, ok := b[code]; ok {
			return true
		}
	}
	return false
}

// bestJWScore computes the highest Jaro-Winkler similarity between the input
// and the title using three strategies:
//
//  1. Full-string comparison (e.g., "grocery lists" vs "grocery list").
//  2. Space-stripped comparison (e.g., "grocerylists" vs "grocerylist").
//  3. Best pairwise word comparison — the maximum JW score between any input
//     token and any title token.
func bestJWScore(inputTokens, titleTokens []string, inputFull, titleFull string) float64 {
	// Strategy 1: full strings.
	score := matchr.JaroWinkler(inputFull, titleFull, false)

	// Strategy 2: concatenated (no spaces).
	if len(inputTokens) > 1 || len(titleTokens) > 1 {
		concat1 := strings.Join(inputTokens, "")
		concat2 := strings.Join(titleTokens, "")
		if s := matchr.JaroWinkler(concat1, concat2, false); s > score {
			score = s
		}
	}

	// Strategy 3: best pairwise token score.
	for _, it := range inputTokens {
		for _, tt := range titleTokens {
			if s := matchr.JaroWinkler(it, tt, false); s > score {
				score = s
			}
		}
	}

	return score
}
