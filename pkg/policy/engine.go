package policy

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"sync"

	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/ast"
	//nolint:staticcheck // OPA v1 migration pending
	"github.com/open-policy-agent/opa/rego"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/polisai/polis-mam/pkg/domain"
)

// EngineOptions control OPA engine construction and runtime behaviour.
type EngineOptions struct {
	// Query is the decision path (e.g. "mam/url/decision").
	Query string
	// Modules contains the Rego modules that should be loaded into the engine.
	Modules map[string]string
	// Generation scopes cached decisions to one snapshot.
	Generation int64
	// CacheMaxEntries bounds the decision cache size (LRU). Zero selects the
	// default size; negative disables caching entirely.
	CacheMaxEntries int
	Logger          *slog.Logger
}

// Engine evaluates URL decisions using an embedded OPA instance. It
// implements domain.URLEvaluator.
type Engine struct {
	query      string
	generation int64
	prepared   rego.PreparedEvalQuery
	cache      *decisionCache
	logger     *slog.Logger
}

const (
	// DefaultURLQuery is the decision path consulted for URL checks.
	DefaultURLQuery      = "mam/url/decision"
	defaultCacheCapacity = 1024
	tracerName           = "github.com/polisai/polis-mam/pkg/policy"
)

// NewEngine parses and prepares the modules. Syntax and compile errors are
// surfaced here so a bad module never reaches a published snapshot.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	query := strings.Trim(strings.TrimSpace(opts.Query), "/")
	if query == "" {
		query = DefaultURLQuery
	}

	if len(opts.Modules) == 0 {
		return nil, errors.New("policy engine requires at least one rego module")
	}

	maxEntries := opts.CacheMaxEntries
	switch {
	case maxEntries == 0:
		maxEntries = defaultCacheCapacity
	case maxEntries < 0:
		maxEntries = 0
	}

	moduleOrder := make([]string, 0, len(opts.Modules))
	for name := range opts.Modules {
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	regoOpts := make([]func(*rego.Rego), 0, len(moduleOrder)+2)
	regoOpts = append(regoOpts,
		rego.Query("data."+strings.ReplaceAll(query, "/", ".")),
		rego.SetRegoVersion(ast.RegoV1),
	)
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, opts.Modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		regoOpts = append(regoOpts, rego.ParsedModule(module))
	}

	prepared, err := rego.New(regoOpts...).PrepareForEval(ctx)
	if err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		query:      query,
		generation: opts.Generation,
		prepared:   prepared,
		logger:     logger,
	}
	if maxEntries > 0 {
		engine.cache = newDecisionCache(maxEntries)
	}
	return engine, nil
}

// EvaluateURL implements domain.URLEvaluator.
func (e *Engine) EvaluateURL(ctx context.Context, kind domain.URLKind, u *url.URL) (domain.Effect, error) {
	decision, err := e.Evaluate(ctx, kind, u)
	if err != nil {
		return domain.EffectUnset, err
	}
	return decision.Effect(), nil
}

// Evaluate executes the Rego query for a URL and converts the result. An
// undefined result yields an empty Action, meaning no opinion.
func (e *Engine) Evaluate(ctx context.Context, kind domain.URLKind, u *url.URL) (Decision, error) {
	if u == nil {
		return Decision{}, errors.New("policy engine requires a url")
	}

	normalized := NormalizeURL(u)
	cacheKey := e.cacheKey(kind, normalized, u.RawQuery)
	if e.cache != nil {
		if cached, ok := e.cache.Get(cacheKey); ok {
			return cached, nil
		}
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "policy.url.evaluate")
	defer span.End()
	span.SetAttributes(
		attribute.String("mam.url.kind", string(kind)),
		attribute.String("mam.url.host", strings.ToLower(u.Hostname())),
		attribute.Int64("mam.policy.generation", e.generation),
	)

	payload := map[string]any{
		"kind":   string(kind),
		"url":    normalized,
		"scheme": strings.ToLower(u.Scheme),
		"host":   strings.ToLower(u.Hostname()),
		"port":   u.Port(),
		"path":   u.Path,
		"query":  u.RawQuery,
	}

	results, err := e.prepared.Eval(ctx, rego.EvalInput(payload))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "opa evaluation failed")
		return Decision{}, fmt.Errorf("opa decision: %w", err)
	}

	decision, err := convertResult(results)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "opa decision malformed")
		return Decision{}, err
	}
	span.SetAttributes(attribute.String("mam.url.action", string(decision.Action)))

	e.logger.Debug("rego url decision",
		"query", e.query,
		"kind", kind,
		"host", u.Hostname(),
		"action", decision.Action,
		"reason", decision.Reason,
	)

	if e.cache != nil {
		e.cache.Add(cacheKey, decision)
	}
	return decision, nil
}

// FlushCache clears all cached decisions. Safe to call concurrently.
func (e *Engine) FlushCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

func convertResult(results rego.ResultSet) (Decision, error) {
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return Decision{}, nil
	}

	switch value := results[0].Expressions[0].Value.(type) {
	case bool:
		if value {
			return Decision{Action: ActionAllow}, nil
		}
		return Decision{Action: ActionBlock}, nil
	case string:
		action, err := parseAction(value)
		if err != nil {
			return Decision{}, err
		}
		return Decision{Action: action}, nil
	case map[string]any:
		action, err := parseAction(value["action"])
		if err != nil {
			return Decision{}, err
		}
		reason, _ := value["reason"].(string)
		return Decision{Action: action, Reason: reason}, nil
	default:
		return Decision{}, fmt.Errorf("opa decision: unexpected result type %T", value)
	}
}

func parseAction(value any) (Action, error) {
	if value == nil {
		return Action(""), nil
	}
	text, ok := value.(string)
	if !ok {
		return Action(""), fmt.Errorf("opa decision: action must be string, got %T", value)
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case string(ActionAllow):
		return ActionAllow, nil
	case string(ActionBlock), "deny":
		return ActionBlock, nil
	default:
		return Action(""), fmt.Errorf("opa decision: unknown action %q", text)
	}
}

// cacheKey generates a deterministic hash key for caching URL decisions.
func (e *Engine) cacheKey(kind domain.URLKind, normalized, rawQuery string) string {
	h := sha256.New()
	writeCacheKeyField(h, e.query)
	writeCacheKeyField(h, strconv.FormatInt(e.generation, 10))
	writeCacheKeyField(h, string(kind))
	writeCacheKeyField(h, normalized)
	writeCacheKeyField(h, rawQuery)
	return hex.EncodeToString(h.Sum(nil))
}

// writeCacheKeyField writes a field to the hash followed by a null delimiter.
func writeCacheKeyField(h hash.Hash, value string) {
	h.Write([]byte(value))
	h.Write([]byte{0})
}

type decisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key   string
	value Decision
}

func newDecisionCache(capacity int) *decisionCache {
	return &decisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *decisionCache) Get(key string) (Decision, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Decision{}, false
	}
	c.order.MoveToFront(elem)
	item := elem.Value.(cacheItem)
	return item.value, true
}

func (c *decisionCache) Add(key string, value Decision) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, value: value}
		c.order.MoveToFront(elem)
		return
	}

	elem := c.order.PushFront(cacheItem{key: key, value: value})
	c.entries[key] = elem

	if c.order.Len() <= c.max {
		return
	}

	tail := c.order.Back()
	if tail != nil {
		c.order.Remove(tail)
		item := tail.Value.(cacheItem)
		delete(c.entries, item.key)
	}
}

func (c *decisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.max)
}
