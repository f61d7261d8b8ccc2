package table

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/liamcoop/crud/normalize"
)

func blogRow(id, name, body string) normalize.Record {
	return normalize.Record{
		{Key: "Blog", Value: normalize.Record{
			{Key: "id", Value: id},
			{Key: "name", Value: name},
			{Key: "body", Value: body},
		}},
	}
}

// TestMemoryTableImplementsTable verifies at compile-time that the implementations satisfy Table
func TestMemoryTableImplementsTable(t *testing.T) {
	var _ Table = (*MemoryTable)(nil)
	var _ Table = (*PostgresTable)(nil)
	var _ Table = (*CachedTable)(nil)
}

// TestMemoryTableFind verifies seeded rows come back in order
func TestMemoryTableFind(t *testing.T) {
	table := NewMemoryTable(blogsSchema(), blogRow("1", "First", "a"), blogRow("2", "Second", "b"))

	rows, err := table.Find(context.Background())
	if err != nil {
		t.Fatalf("Find() failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("Find() returned %d rows, want 2", len(rows))
	}

	blog, _ := rows[1].Get("Blog")
	name, _ := blog.(normalize.Record).Get("name")
	if name != "Second" {
		t.Errorf("second row name = %v, want 'Second'", name)
	}
}

// TestMemoryTableFindReturnsCopies verifies callers cannot modify stored rows
func TestMemoryTableFindReturnsCopies(t *testing.T) {
	table := NewMemoryTable(blogsSchema(), blogRow("1", "First", "a"))
	ctx := context.Background()

	rows, _ := table.Find(ctx)
	rows[0][0].Key = "blog"

	again, _ := table.Get(ctx, "1")
	if again[0].Key != "Blog" {
		t.Errorf("stored row was modified through Find() result")
	}
}

// TestMemoryTableGetNotFound verifies ErrNotFound on unknown ids
func TestMemoryTableGetNotFound(t *testing.T) {
	table := NewMemoryTable(blogsSchema())

	_, err := table.Get(context.Background(), "42")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
}

// TestMemoryTableSaveInsert verifies ids continue after the seeds
func TestMemoryTableSaveInsert(t *testing.T) {
	var seeds []normalize.Record
	for _, id := range []string{"1", "2", "3", "4", "5"} {
		seeds = append(seeds, blogRow(id, "Blog "+id, "body"))
	}
	table := NewMemoryTable(blogsSchema(), seeds...)
	ctx := context.Background()

	entity := &Entity{Fields: normalize.Record{
		{Key: "name", Value: "Hello World"},
		{Key: "body", Value: "Pretty hot body"},
		{Key: "unknown", Value: "ignored"},
	}}
	if err := table.Save(ctx, entity); err != nil {
		t.Fatalf("Save() failed: %v", err)
	}
	if entity.ID != "6" {
		t.Errorf("new entity ID = %s, want 6", entity.ID)
	}

	row, err := table.Get(ctx, "6")
	if err != nil {
		t.Fatalf("Get() after Save() failed: %v", err)
	}
	blog, _ := row.Get("Blog")
	rec := blog.(normalize.Record)
	if got := rec.Keys(); len(got) != 3 || got[0] != "id" || got[1] != "name" || got[2] != "body" {
		t.Errorf("stored columns = %v, want [id name body]", got)
	}
	if _, ok := rec.Get("unknown"); ok {
		t.Errorf("unknown field should not be stored")
	}
}

// TestMemoryTableSaveUpdate verifies updates merge into the existing row
func TestMemoryTableSaveUpdate(t *testing.T) {
	table := NewMemoryTable(blogsSchema(), blogRow("1", "First", "a"))
	ctx := context.Background()

	err := table.Save(ctx, &Entity{ID: "1", Fields: normalize.Record{{Key: "name", Value: "Renamed"}}})
	if err != nil {
		t.Fatalf("Save() update failed: %v", err)
	}

	row, _ := table.Get(ctx, "1")
	blog, _ := row.Get("Blog")
	name, _ := blog.(normalize.Record).Get("name")
	body, _ := blog.(normalize.Record).Get("body")
	if name != "Renamed" || body != "a" {
		t.Errorf("after update name=%v body=%v, want Renamed/a", name, body)
	}

	err = table.Save(ctx, &Entity{ID: "9", Fields: normalize.Record{{Key: "name", Value: "x"}}})
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Save() of unknown id error = %v, want ErrNotFound", err)
	}
}

// TestMemoryTableDelete verifies rows are removed
func TestMemoryTableDelete(t *testing.T) {
	table := NewMemoryTable(blogsSchema(), blogRow("1", "First", "a"))
	ctx := context.Background()

	if err := table.Delete(ctx, "1"); err != nil {
		t.Fatalf("Delete() failed: %v", err)
	}
	if err := table.Delete(ctx, "1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete() error = %v, want ErrNotFound", err)
	}
}

// TestMemoryTableConcurrentSave verifies unique ids under concurrent inserts
func TestMemoryTableConcurrentSave(t *testing.T) {
	table := NewMemoryTable(blogsSchema())
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make(chan string, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e := &Entity{Fields: normalize.Record{{Key: "name", Value: "n"}}}
			if err := table.Save(ctx, e); err != nil {
				t.Errorf("Save() failed: %v", err)
				return
			}
			ids <- e.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		if seen[id] {
			t.Errorf("duplicate id %s", id)
		}
		seen[id] = true
	}
	if len(seen) != 50 {
		t.Errorf("got %d unique ids, want 50", len(seen))
	}
}

// TestMemoryTableCanceledContext verifies context errors are returned
func TestMemoryTableCanceledContext(t *testing.T) {
	table := NewMemoryTable(blogsSchema())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := table.Find(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Find() error = %v, want context.Canceled", err)
	}
}
