package vfs

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/codekarta/filedock/internal/logging"
	"github.com/codekarta/filedock/internal/metrics"
	"github.com/codekarta/filedock/internal/tenant"
	"github.com/codekarta/filedock/pkg/models"
	"github.com/codekarta/filedock/pkg/protocol"
)

// SearchOptions controls a traversal. Zero caps fall back to the
// server-configured limits.
type SearchOptions struct {
	Query      string
	Regex      bool
	ShowHidden bool
	SearchPath string // subtree to search, default "/"
	MaxDepth   int
	MaxNodes   int
}

// matcher is compiled once, before any traversal starts, so an invalid
// pattern fails the whole request instead of failing per tenant.
type matcher func(name string) bool

func compileMatcher(opts SearchOptions) (matcher, error) {
	if opts.Regex {
		re, err := regexp.Compile(opts.Query)
		if err != nil {
			return nil, err
		}
		return re.MatchString, nil
	}
	q := strings.ToLower(opts.Query)
	return func(name string) bool {
		return strings.Contains(strings.ToLower(name), q)
	}, nil
}

type searchNode struct {
	logical string
	abs     string
	depth   int
}

// Search walks one tenant's subtree and returns every entry whose name
// matches, sorted directories-first. The walk is an iterative worklist
// bounded by depth and visited-node caps; hitting a cap truncates the
// result rather than failing.
func (o *Ops) Search(ctx context.Context, tenantID string, opts SearchOptions) ([]models.FileEntry, error) {
	const op = "search"
	start := time.Now()
	defer func() { metrics.RecordSearch("tenant", time.Since(start)) }()

	match, err := compileMatcher(opts)
	if err != nil {
		return nil, newError(op, tenantID, opts.SearchPath, KindInvalidQuery, fmt.Errorf("invalid pattern: %w", err))
	}
	entries, err := o.searchTenant(ctx, tenantID, opts, match)
	if err != nil {
		return nil, err
	}
	models.SortEntries(entries)
	return entries, nil
}

func (o *Ops) searchTenant(ctx context.Context, tenantID string, opts SearchOptions, match matcher) ([]models.FileEntry, error) {
	const op = "search"
	root := CleanLogical(opts.SearchPath)
	abs, err := o.resolver.Resolve(ctx, tenantID, root)
	if err != nil {
		return nil, err
	}
	if info, err := os.Stat(abs); err != nil {
		return nil, newError(op, tenantID, root, fsKind(err), err)
	} else if !info.IsDir() {
		return nil, newError(op, tenantID, root, KindInvalidQuery, fmt.Errorf("search path is not a directory"))
	}

	maxDepth := opts.MaxDepth
	if maxDepth <= 0 {
		maxDepth = o.searchMaxDepth
	}
	maxNodes := opts.MaxNodes
	if maxNodes <= 0 {
		maxNodes = o.searchMaxNodes
	}

	var results []models.FileEntry
	visited := 0
	worklist := []searchNode{{logical: root, abs: abs, depth: 0}}

	for len(worklist) > 0 {
		if err := ctx.Err(); err != nil {
			return results, err
		}
		node := worklist[len(worklist)-1]
		worklist = worklist[:len(worklist)-1]

		dirEntries, err := os.ReadDir(node.abs)
		if err != nil {
			// Unreadable subtree, skip it and keep walking.
			logging.Debug("search skipping unreadable dir",
				zap.String("tenant", tenantID), zap.String("path", node.logical), zap.Error(err))
			continue
		}
		for _, de := range dirEntries {
			if !opts.ShowHidden && strings.HasPrefix(de.Name(), ".") {
				continue
			}
			visited++
			if visited > maxNodes {
				logging.Warn("search node cap reached",
					zap.String("tenant", tenantID), zap.Int("max_nodes", maxNodes))
				return results, nil
			}
			logical := path.Join(node.logical, de.Name())
			if match(de.Name()) {
				info, err := de.Info()
				if err != nil {
					continue
				}
				e, err := o.entry(ctx, tenantID, logical, info)
				if err != nil {
					return nil, newError(op, tenantID, logical, KindInternal, err)
				}
				results = append(results, e)
			}
			if de.IsDir() && node.depth+1 < maxDepth {
				worklist = append(worklist, searchNode{
					logical: logical,
					abs:     filepath.Join(node.abs, de.Name()),
					depth:   node.depth + 1,
				})
			}
		}
	}
	return results, nil
}

// tenantHit pairs a result with its tenant for the global merge sort.
type tenantHit struct {
	tenant tenant.Tenant
	entry  models.FileEntry
}

// SearchAll fans one query out across every tenant, one goroutine per
// tenant, then dedupes, merges, sorts, and paginates the combined
// results. Result names are decorated "TenantName / name" and paths
// "tenantID:/path" so a hit can be routed back to its tenant; see
// SplitTenantPath for the inverse. One tenant's failure drops only that
// tenant's results.
func (o *Ops) SearchAll(ctx context.Context, opts SearchOptions, page, pageSize int) ([]models.FileEntry, protocol.Pagination, error) {
	const op = "search_all"
	start := time.Now()
	defer func() { metrics.RecordSearch("all", time.Since(start)) }()

	match, err := compileMatcher(opts)
	if err != nil {
		return nil, protocol.Pagination{}, newError(op, "*", opts.SearchPath, KindInvalidQuery, fmt.Errorf("invalid pattern: %w", err))
	}

	tenants, err := o.resolver.Registry().List(ctx)
	if err != nil {
		return nil, protocol.Pagination{}, newError(op, "*", opts.SearchPath, KindInternal, err)
	}

	var (
		mu   sync.Mutex
		hits []tenantHit
		wg   sync.WaitGroup
	)
	for _, t := range tenants {
		wg.Add(1)
		go func(t tenant.Tenant) {
			defer wg.Done()
			entries, err := o.searchTenant(ctx, t.ID, opts, match)
			if err != nil {
				logging.Warn("tenant search failed",
					zap.String("tenant", t.ID), zap.Error(err))
				return
			}
			mu.Lock()
			for _, e := range entries {
				hits = append(hits, tenantHit{tenant: t, entry: e})
			}
			mu.Unlock()
		}(t)
	}
	wg.Wait()

	// Dedupe on (tenant, path); first occurrence wins.
	seen := make(map[string]struct{}, len(hits))
	deduped := hits[:0]
	for _, h := range hits {
		key := h.tenant.ID + ":" + h.entry.Path
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, h)
	}

	// Merged results order by tenant name then base name; dirs-first
	// grouping applies to listings and single-tenant search only.
	sort.SliceStable(deduped, func(i, j int) bool {
		ti := strings.ToLower(deduped[i].tenant.Name)
		tj := strings.ToLower(deduped[j].tenant.Name)
		if ti != tj {
			return ti < tj
		}
		return strings.ToLower(deduped[i].entry.Name) < strings.ToLower(deduped[j].entry.Name)
	})

	decorated := make([]models.FileEntry, len(deduped))
	for i, h := range deduped {
		e := h.entry
		e.Name = h.tenant.Name + " / " + e.Name
		e.Path = h.tenant.ID + ":" + e.Path
		decorated[i] = e
	}

	paged, pg := Paginate(decorated, page, pageSize)
	return paged, pg, nil
}

// SplitTenantPath undoes the cross-tenant path decoration, returning
// the tenant ID and the plain logical path. Undecorated paths come back
// with an empty tenant ID; a decorated prefix is a bare tenant ID, so a
// rooted path with a colon in a name ("/notes:today.txt") is not split.
func SplitTenantPath(decorated string) (tenantID, logical string) {
	i := strings.Index(decorated, ":")
	if i <= 0 || strings.Contains(decorated[:i], "/") {
		return "", decorated
	}
	return decorated[:i], decorated[i+1:]
}
