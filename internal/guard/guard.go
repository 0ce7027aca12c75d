// Package guard shields reads and writes against document tables that may not
// have been provisioned yet.
//
// Each logical table gets one Guard. A guard remembers, stickily, that its
// table is missing and short-circuits every later read to an empty result and
// every later write to a TableUnavailable error until Reset is called.
// Concurrent reads collapse onto a single in-flight store call.
package guard

import (
	"context"
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/jobbridge/internal/apperrors"
	"github.com/MarcoPoloResearchLab/jobbridge/internal/docstore"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

const (
	opRead  = "guard.read"
	opWrite = "guard.write"

	// tableCheckKey collapses every read of a table until the table has answered once.
	tableCheckKey = "\x00table-check"
)

// ReadFunc performs the underlying store read.
type ReadFunc func(ctx context.Context) ([]docstore.Item, error)

// WriteFunc performs the underlying store write.
type WriteFunc func(ctx context.Context) error

// Guard tracks availability of one logical table.
type Guard struct {
	table   string
	logger  *zap.Logger
	metrics *Metrics

	mu           sync.Mutex
	knownMissing bool
	confirmed    bool
	generation   uint64
	group        *singleflight.Group
}

func newGuard(table string, logger *zap.Logger, metrics *Metrics) *Guard {
	return &Guard{
		table:   table,
		logger:  logger,
		metrics: metrics,
		group:   &singleflight.Group{},
	}
}

// Table returns the logical table name.
func (g *Guard) Table() string {
	return g.table
}

// KnownMissing reports whether the table is currently cached as missing.
func (g *Guard) KnownMissing() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.knownMissing
}

type readOutcome struct {
	query   string
	items   []docstore.Item
	missing bool
	failed  bool
}

// Read returns the items produced by fetch, or an empty list when the table is
// missing or the store call fails. It never returns an error: callers see "no
// data" until the table is provisioned.
//
// Identical queries always share one in-flight call. Until the table has
// answered a read successfully, reads with different queries also wait on the
// in-flight table check; they reuse a "missing" or failed outcome and issue their own
// call once the table check confirmed the table exists.
func (g *Guard) Read(ctx context.Context, query string, fetch ReadFunc) []docstore.Item {
	for {
		g.mu.Lock()
		if g.knownMissing {
			g.mu.Unlock()
			g.metrics.shortCircuit(g.table, "read")
			return []docstore.Item{}
		}
		key := tableCheckKey
		if g.confirmed {
			key = query
		}
		group := g.group
		generation := g.generation
		g.mu.Unlock()

		resultCh := group.DoChan(key, func() (any, error) {
			return g.runRead(context.WithoutCancel(ctx), query, fetch, generation), nil
		})

		var result singleflight.Result
		select {
		case <-ctx.Done():
			return []docstore.Item{}
		case result = <-resultCh:
		}
		if result.Shared {
			g.metrics.collapsed(g.table)
		}

		outcome := result.Val.(readOutcome)
		switch {
		case outcome.missing, outcome.failed:
			return []docstore.Item{}
		case outcome.query == query:
			return copyItems(outcome.items)
		}
		// The table check answered another query and confirmed the table; read again under our own key.
	}
}

func (g *Guard) runRead(ctx context.Context, query string, fetch ReadFunc, generation uint64) readOutcome {
	items, err := fetch(ctx)

	g.mu.Lock()
	defer g.mu.Unlock()
	current := generation == g.generation

	switch {
	case err == nil:
		if current {
			g.confirmed = true
		}
		g.metrics.storeCall(g.table, "ok")
		return readOutcome{query: query, items: items}
	case docstore.IsTableNotFound(err):
		if current {
			g.knownMissing = true
		}
		g.metrics.storeCall(g.table, "missing")
		g.logger.Info("table not provisioned; caching as missing",
			zap.String("operation", opRead),
			zap.String("table", g.table))
		return readOutcome{query: query, missing: true}
	default:
		g.metrics.storeCall(g.table, "error")
		g.logger.Warn("guarded read failed",
			zap.String("operation", opRead),
			zap.String("reason", "store_error"),
			zap.String("table", g.table),
			zap.String("query", query),
			zap.Error(err))
		return readOutcome{query: query, failed: true}
	}
}

// Write runs write unless the table is cached as missing. A missing-table
// classification marks the table missing and surfaces TableUnavailable.
// Item-level store outcomes (not found, failed condition) pass through untouched.
func (g *Guard) Write(ctx context.Context, write WriteFunc) error {
	g.mu.Lock()
	missing := g.knownMissing
	generation := g.generation
	g.mu.Unlock()
	if missing {
		g.metrics.shortCircuit(g.table, "write")
		return apperrors.TableUnavailable(opWrite, "known_missing", docstore.ErrTableNotFound)
	}

	err := write(ctx)
	switch {
	case err == nil:
		g.metrics.storeCall(g.table, "ok")
		return nil
	case docstore.IsTableNotFound(err):
		g.mu.Lock()
		if generation == g.generation {
			g.knownMissing = true
		}
		g.mu.Unlock()
		g.metrics.storeCall(g.table, "missing")
		g.logger.Warn("guarded write hit missing table",
			zap.String("operation", opWrite),
			zap.String("table", g.table))
		return apperrors.TableUnavailable(opWrite, "table_missing", err)
	case errors.Is(err, docstore.ErrItemNotFound), errors.Is(err, docstore.ErrConditionFailed):
		return err
	case apperrors.KindOf(err) != "":
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperrors.TransientStore(opWrite, "context_done", err)
	default:
		g.metrics.storeCall(g.table, "error")
		g.logger.Error("guarded write failed",
			zap.String("operation", opWrite),
			zap.String("reason", "store_error"),
			zap.String("table", g.table),
			zap.Error(err))
		return apperrors.TransientStore(opWrite, "store_error", err)
	}
}

// Reset clears the missing flag and detaches any in-flight call so the next
// read checks the store again. Outcomes of calls started before the reset no
// longer update the guard.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.knownMissing = false
	g.confirmed = false
	g.generation++
	g.group = &singleflight.Group{}
	g.metrics.reset(g.table)
}

func copyItems(items []docstore.Item) []docstore.Item {
	out := make([]docstore.Item, len(items))
	copy(out, items)
	return out
}
