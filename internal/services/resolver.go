package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/retava/chatdesk/internal/core"
	"github.com/retava/chatdesk/internal/models"
	"github.com/retava/chatdesk/internal/pkg/logger"
)

// Search methods, in cascade order.
const (
	MethodExact    = "exact"
	MethodAlias    = "alias"
	MethodSemantic = "semantic"
	MethodFullText = "fulltext"
	MethodFuzzy    = "fuzzy"
	MethodSample   = "sample"
	MethodNone     = "none"
)

const (
	confidenceExact    = 0.95
	confidenceAlias    = 0.85
	confidenceSemantic = 0.8
	confidenceFullText = 0.6
	confidenceFuzzy    = 0.5
	confidenceSample   = 0.25

	semanticThreshold = 0.7
)

// ResolveResult is the uniform outcome of the search cascade. Failed is set
// only when every stage errored, so callers can tell a dead search apart
// from an honest miss.
type ResolveResult struct {
	Products   []models.Product
	Confidence float64
	Method     string
	Failed     bool
}

// ProductResolver runs an ordered multi-strategy product search. Each
// strategy isolates its own failures: a store or embedding error degrades
// that stage to an empty result and the cascade continues, so a broken
// high-confidence stage never blocks a working lower-confidence one.
type ProductResolver struct {
	store    core.Store
	embedder core.EmbeddingProvider
	log      *logger.Logger
}

func NewProductResolver(store core.Store, embedder core.EmbeddingProvider, log *logger.Logger) *ProductResolver {
	return &ProductResolver{store: store, embedder: embedder, log: log}
}

// strategyFn runs one search stage and reports its outcome, including which
// method produced it (the fuzzy stage decides between two sub-methods).
type strategyFn func(ctx context.Context, query string, limit int) (ResolveResult, error)

// Resolve executes the cascade and short-circuits on the first non-empty
// result. It never returns an error: a total miss yields method "none" with
// confidence 0.
func (r *ProductResolver) Resolve(ctx context.Context, query string, limit int) ResolveResult {
	query = strings.TrimSpace(query)
	if limit <= 0 {
		limit = 5
	}

	strategies := []struct {
		method string
		run    strategyFn
	}{
		{MethodExact, r.searchExact},
		{MethodAlias, r.searchAlias},
		{MethodSemantic, r.searchSemantic},
		{MethodFuzzy, r.searchFuzzy},
		{MethodSample, r.searchSample},
	}

	failures := 0
	for _, s := range strategies {
		res, err := s.run(ctx, query, limit)
		if err != nil {
			failures++
			r.log.Warn("product search stage failed", "method", s.method, "error", err)
			continue
		}
		if len(res.Products) == 0 {
			continue
		}
		return res
	}

	return ResolveResult{
		Confidence: 0,
		Method:     MethodNone,
		Failed:     failures == len(strategies),
	}
}

func (r *ProductResolver) searchExact(ctx context.Context, query string, limit int) (ResolveResult, error) {
	if query == "" {
		return ResolveResult{}, nil
	}
	products, err := r.store.SearchProductsExact(ctx, query, limit)
	if err != nil {
		return ResolveResult{}, err
	}
	return ResolveResult{Products: products, Confidence: confidenceExact, Method: MethodExact}, nil
}

func (r *ProductResolver) searchAlias(ctx context.Context, query string, limit int) (ResolveResult, error) {
	if query == "" {
		return ResolveResult{}, nil
	}
	aliases, err := r.store.FindActiveAliases(ctx, query)
	if err != nil {
		return ResolveResult{}, err
	}
	if len(aliases) == 0 {
		return ResolveResult{}, nil
	}

	seen := make(map[string]struct{}, len(aliases))
	codes := make([]string, 0, len(aliases))
	for _, a := range aliases {
		if _, ok := seen[a.ProductCode]; !ok {
			seen[a.ProductCode] = struct{}{}
			codes = append(codes, a.ProductCode)
		}
	}
	products, err := r.store.GetProductsByCodes(ctx, codes)
	if err != nil {
		return ResolveResult{}, err
	}
	if len(products) == 0 {
		return ResolveResult{}, nil
	}
	if len(products) > limit {
		products = products[:limit]
	}

	// Usage bump is best-effort bookkeeping; a failed increment must not
	// invalidate a good match.
	for _, a := range aliases {
		if err := r.store.IncrementAliasUsage(ctx, a.ID); err != nil {
			r.log.Warn("alias usage increment failed", "alias_id", a.ID, "error", err)
		}
	}
	return ResolveResult{Products: products, Confidence: confidenceAlias, Method: MethodAlias}, nil
}

func (r *ProductResolver) searchSemantic(ctx context.Context, query string, limit int) (ResolveResult, error) {
	if query == "" || r.embedder == nil {
		return ResolveResult{}, nil
	}
	vecs, err := r.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		return ResolveResult{}, fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) == 0 {
		return ResolveResult{}, nil
	}
	products, err := r.store.SearchProductsByEmbedding(ctx, vecs[0], semanticThreshold, limit)
	if err != nil {
		return ResolveResult{}, err
	}
	return ResolveResult{Products: products, Confidence: confidenceSemantic, Method: MethodSemantic}, nil
}

// searchFuzzy tries full-text first and falls back to a broader substring
// match when full-text errors or comes back empty.
func (r *ProductResolver) searchFuzzy(ctx context.Context, query string, limit int) (ResolveResult, error) {
	if query == "" {
		return ResolveResult{}, nil
	}
	products, err := r.store.SearchProductsFullText(ctx, query, limit)
	if err == nil && len(products) > 0 {
		return ResolveResult{Products: products, Confidence: confidenceFullText, Method: MethodFullText}, nil
	}
	if err != nil {
		r.log.Warn("fulltext search failed, falling back to substring", "error", err)
	}
	products, err = r.store.SearchProductsSubstring(ctx, query, limit)
	if err != nil {
		return ResolveResult{}, err
	}
	return ResolveResult{Products: products, Confidence: confidenceFuzzy, Method: MethodFuzzy}, nil
}

func (r *ProductResolver) searchSample(ctx context.Context, _ string, limit int) (ResolveResult, error) {
	products, err := r.store.SampleProducts(ctx, limit)
	if err != nil {
		return ResolveResult{}, err
	}
	return ResolveResult{Products: products, Confidence: confidenceSample, Method: MethodSample}, nil
}

// FormatProductList renders products as localized human-readable text.
// Deterministic given its inputs; returns a literal placeholder when the
// list is empty.
func FormatProductList(products []models.Product, lang string) string {
	if len(products) == 0 {
		if lang == LangZH {
			return "暂时没有找到相关产品。"
		}
		return "No matching products found."
	}

	var b strings.Builder
	for i, p := range products {
		name := p.NameEN
		if lang == LangZH && p.NameZH != "" {
			name = p.NameZH
		}
		if name == "" {
			name = p.NameEN
		}
		fmt.Fprintf(&b, "%d. [%s] %s", i+1, p.Code, name)
		if p.Size != "" {
			fmt.Fprintf(&b, " - %s", p.Size)
		}
		if p.Packaging != "" {
			fmt.Fprintf(&b, " (%s)", p.Packaging)
		}
		if p.Price > 0 {
			if lang == LangZH {
				fmt.Fprintf(&b, " 价格: ¥%.2f", p.Price)
			} else {
				fmt.Fprintf(&b, " Price: $%.2f", p.Price)
			}
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
