package docstore

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"

	sqlite "github.com/glebarez/sqlite"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var testTable = Table{Name: "courses", KeyAttribute: "courseId"}

type testCourse struct {
	CourseID    string   `json:"courseId"`
	InstituteID string   `json:"instituteId"`
	Title       string   `json:"title"`
	Fee         int64    `json:"fee"`
	Tags        []string `json:"tags,omitempty"`
	Archived    bool     `json:"archived"`
}

func storeFactories(t *testing.T) map[string]func(t *testing.T) Store {
	t.Helper()
	return map[string]func(t *testing.T) Store{
		"memory": func(t *testing.T) Store {
			return NewMemoryStore()
		},
		"sqlite": func(t *testing.T) Store {
			db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "store.db")), &gorm.Config{})
			if err != nil {
				t.Fatalf("failed to open sqlite: %v", err)
			}
			store, err := NewSQLiteStore(db)
			if err != nil {
				t.Fatalf("failed to build sqlite store: %v", err)
			}
			return store
		},
		"badger": func(t *testing.T) Store {
			store, err := NewBadgerStore("", zap.NewNop())
			if err != nil {
				t.Fatalf("failed to open badger: %v", err)
			}
			t.Cleanup(func() { _ = store.Close() })
			return store
		},
	}
}

func TestStoresReportMissingTable(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			if _, err := store.ScanItems(ctx, testTable, nil); !IsTableNotFound(err) {
				t.Fatalf("expected table not found on scan, got %v", err)
			}
			if _, err := store.GetItem(ctx, testTable, "c-1"); !IsTableNotFound(err) {
				t.Fatalf("expected table not found on get, got %v", err)
			}
			err := store.PutItem(ctx, testTable, Item{"courseId": "c-1"})
			if !IsTableNotFound(err) {
				t.Fatalf("expected table not found on put, got %v", err)
			}
		})
	}
}

func TestStoresRoundTripDocuments(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			if err := store.CreateTable(ctx, testTable); err != nil {
				t.Fatalf("create table failed: %v", err)
			}

			courses := []testCourse{
				{CourseID: "c-1", InstituteID: "I1", Title: "Welding", Fee: 1200, Tags: []string{"trade"}},
				{CourseID: "c-2", InstituteID: "I2", Title: "Nursing", Fee: 900},
				{CourseID: "c-3", InstituteID: "I1", Title: "Plumbing", Fee: 800, Archived: true},
			}
			for _, course := range courses {
				item, err := Marshal(course)
				if err != nil {
					t.Fatalf("marshal failed: %v", err)
				}
				if err := store.PutItem(ctx, testTable, item); err != nil {
					t.Fatalf("put failed: %v", err)
				}
			}

			items, err := store.ScanItems(ctx, testTable, Filter{Where("instituteId", "I1")})
			if err != nil {
				t.Fatalf("scan failed: %v", err)
			}
			decoded, err := UnmarshalAll[testCourse](items)
			if err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if len(decoded) != 2 || decoded[0].CourseID != "c-1" || decoded[1].CourseID != "c-3" {
				t.Fatalf("unexpected scan result: %#v", decoded)
			}
			if decoded[0].Fee != 1200 || len(decoded[0].Tags) != 1 {
				t.Fatalf("expected typed fields to survive, got %#v", decoded[0])
			}

			items, err = store.ScanItems(ctx, testTable, Filter{Where("instituteId", "I1"), Where("archived", false)})
			if err != nil {
				t.Fatalf("scan failed: %v", err)
			}
			if len(items) != 1 {
				t.Fatalf("expected one active course, got %d", len(items))
			}

			got, err := store.GetItem(ctx, testTable, "c-2")
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			var course testCourse
			if err := Unmarshal(got, &course); err != nil {
				t.Fatalf("unmarshal failed: %v", err)
			}
			if course.Title != "Nursing" {
				t.Fatalf("unexpected course: %#v", course)
			}

			if _, err := store.GetItem(ctx, testTable, "missing"); !errors.Is(err, ErrItemNotFound) {
				t.Fatalf("expected item not found, got %v", err)
			}

			if err := store.DeleteItem(ctx, testTable, "c-2"); err != nil {
				t.Fatalf("delete failed: %v", err)
			}
			if _, err := store.GetItem(ctx, testTable, "c-2"); !errors.Is(err, ErrItemNotFound) {
				t.Fatalf("expected deleted item to be gone, got %v", err)
			}
		})
	}
}

func TestStoresConditionalUpdate(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			if err := store.CreateTable(ctx, testTable); err != nil {
				t.Fatalf("create table failed: %v", err)
			}
			if err := store.PutItem(ctx, testTable, Item{"courseId": "c-1", "title": "Draft"}); err != nil {
				t.Fatalf("put failed: %v", err)
			}

			updated, err := store.UpdateItem(ctx, testTable, "c-1", Item{"title": "Final"}, Where("title", "Draft"))
			if err != nil {
				t.Fatalf("conditional update failed: %v", err)
			}
			if updated["title"] != "Final" || updated["courseId"] != "c-1" {
				t.Fatalf("unexpected updated item: %#v", updated)
			}

			_, err = store.UpdateItem(ctx, testTable, "c-1", Item{"title": "Again"}, Where("title", "Draft"))
			if !errors.Is(err, ErrConditionFailed) {
				t.Fatalf("expected condition failure, got %v", err)
			}

			_, err = store.UpdateItem(ctx, testTable, "missing", Item{"title": "x"})
			if !errors.Is(err, ErrItemNotFound) {
				t.Fatalf("expected item not found, got %v", err)
			}
		})
	}
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	if err := store.CreateTable(ctx, testTable); err != nil {
		t.Fatalf("create table failed: %v", err)
	}
	item := Item{"courseId": "c-1", "tags": []any{"a"}}
	if err := store.PutItem(ctx, testTable, item); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	item["tags"].([]any)[0] = "mutated"

	got, err := store.GetItem(ctx, testTable, "c-1")
	if err != nil {
		t.Fatalf("get failed: %v", err)
	}
	if got["tags"].([]any)[0] != "a" {
		t.Fatalf("expected stored item to be isolated from caller mutation")
	}
}

func TestTableValidation(t *testing.T) {
	store := NewMemoryStore()
	err := store.CreateTable(context.Background(), Table{Name: "Bad Name", KeyAttribute: "id"})
	if !errors.Is(err, ErrInvalidTable) {
		t.Fatalf("expected invalid table error, got %v", err)
	}
}

func TestStoresCreateItemNeverOverwrites(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()

			if err := store.CreateItem(ctx, testTable, Item{"courseId": "c-1"}); !IsTableNotFound(err) {
				t.Fatalf("expected table not found on create, got %v", err)
			}
			if err := store.CreateTable(ctx, testTable); err != nil {
				t.Fatalf("create table failed: %v", err)
			}
			if err := store.CreateItem(ctx, testTable, Item{"courseId": "c-1", "title": "Welding"}); err != nil {
				t.Fatalf("first create failed: %v", err)
			}
			err := store.CreateItem(ctx, testTable, Item{"courseId": "c-1", "title": "Plumbing"})
			if !errors.Is(err, ErrConditionFailed) {
				t.Fatalf("expected condition failure on second create, got %v", err)
			}
			item, err := store.GetItem(ctx, testTable, "c-1")
			if err != nil {
				t.Fatalf("get failed: %v", err)
			}
			if item["title"] != "Welding" {
				t.Fatalf("expected the first document to survive, got %v", item)
			}
		})
	}
}

func TestStoresCreateItemRaceHasOneWinner(t *testing.T) {
	factories := storeFactories(t)
	for _, name := range []string{"memory", "badger"} {
		factory := factories[name]
		t.Run(name, func(t *testing.T) {
			store := factory(t)
			ctx := context.Background()
			if err := store.CreateTable(ctx, testTable); err != nil {
				t.Fatalf("create table failed: %v", err)
			}

			const writers = 8
			results := make(chan error, writers)
			var wg sync.WaitGroup
			for index := 0; index < writers; index++ {
				wg.Add(1)
				go func(index int) {
					defer wg.Done()
					results <- store.CreateItem(ctx, testTable, Item{"courseId": "c-race", "fee": index})
				}(index)
			}
			wg.Wait()
			close(results)

			created := 0
			for err := range results {
				switch {
				case err == nil:
					created++
				case !errors.Is(err, ErrConditionFailed):
					t.Fatalf("unexpected create error: %v", err)
				}
			}
			if created != 1 {
				t.Fatalf("expected exactly one successful create, got %d", created)
			}
		})
	}
}
