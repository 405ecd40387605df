package export_test

import (
	"context"
	"encoding/json"
	"io"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/stevemurr/jsondb/export"
	"github.com/stevemurr/jsondb/schema"
	"github.com/stevemurr/jsondb/store"
)

func seed(t *testing.T) *store.DB {
	t.Helper()
	st, err := store.New("memory", "/data")
	if err != nil {
		t.Fatal(err)
	}
	db, err := st.CreateDatabase("export-source")
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"books-collection", "notes-collection"} {
		if err := db.CreateCollection(name); err != nil {
			t.Fatal(err)
		}
	}
	s := schema.Schema{
		"isbn":  {Type: schema.TypeString, Primary: true},
		"title": {Type: schema.TypeString, Required: true},
		"pages": {Type: schema.TypeNumber},
	}
	if err := db.SetSchema("books-collection", s); err != nil {
		t.Fatal(err)
	}
	for _, r := range []store.Record{
		{"isbn": "111", "title": "First", "pages": 120},
		{"isbn": "222", "title": "Second"},
	} {
		if err := db.CreateRecord("books-collection", r); err != nil {
			t.Fatal(err)
		}
	}
	return db
}

func TestSQLiteSink(t *testing.T) {
	db := seed(t)
	sink, err := export.NewSQLiteSink(filepath.Join(t.TempDir(), "out", "export.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer sink.Close()

	ctx := context.Background()
	sum, err := export.Run(ctx, db, sink, zerolog.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Collections["books-collection"] != 2 || sum.Collections["notes-collection"] != 0 {
		t.Fatalf("unexpected summary %+v", sum)
	}

	rows, err := sink.DB().Query(
		"SELECT key, data FROM documents WHERE database = ? AND collection = ? ORDER BY key",
		"export-source", "books-collection",
	)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var key, raw string
		if err := rows.Scan(&key, &raw); err != nil {
			t.Fatal(err)
		}
		var doc map[string]any
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			t.Fatal(err)
		}
		if doc["isbn"] != key {
			t.Fatalf("row key %q does not match document %v", key, doc)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
	if len(keys) != 2 || keys[0] != "111" || keys[1] != "222" {
		t.Fatalf("unexpected keys %v", keys)
	}

	var raw string
	if err := sink.DB().QueryRow(
		"SELECT schema FROM schemas WHERE database = ? AND collection = ?",
		"export-source", "books-collection",
	).Scan(&raw); err != nil {
		t.Fatal(err)
	}
	s, err := schema.ParseJSON([]byte(raw))
	if err != nil {
		t.Fatal(err)
	}
	if s.PrimaryKey() != "isbn" {
		t.Fatalf("expected primary key isbn, got %q", s.PrimaryKey())
	}

	// a second run replaces rows instead of accumulating them
	if err := db.DeleteRecord("books-collection", "111"); err != nil {
		t.Fatal(err)
	}
	if _, err := export.Run(ctx, db, sink, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}
	var n int
	if err := sink.DB().QueryRow("SELECT COUNT(*) FROM documents").Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("expected 1 document after re-export, got %d", n)
	}
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = b
	return &s3.PutObjectOutput{}, nil
}

func TestS3Sink(t *testing.T) {
	db := seed(t)
	fake := &fakeS3{objects: make(map[string][]byte)}
	sink := export.NewS3SinkWithClient("backups", "nightly", fake)

	if _, err := export.Run(context.Background(), db, sink, zerolog.Nop()); err != nil {
		t.Fatal(err)
	}

	var keys []string
	for k := range fake.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	want := []string{
		"backups/nightly/export-source/books-collection-config.json",
		"backups/nightly/export-source/books-collection.json",
		"backups/nightly/export-source/notes-collection.json",
	}
	if len(keys) != len(want) {
		t.Fatalf("expected %v, got %v", want, keys)
	}
	for i := range want {
		if keys[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, keys)
		}
	}

	var books []map[string]any
	if err := json.Unmarshal(fake.objects[want[1]], &books); err != nil {
		t.Fatal(err)
	}
	if len(books) != 2 || books[0]["title"] != "First" {
		t.Fatalf("unexpected books object %v", books)
	}
	if string(fake.objects[want[2]]) != "[]" {
		t.Fatalf("expected empty array for empty collection, got %s", fake.objects[want[2]])
	}
}

func TestRunStopsOnCancelledContext(t *testing.T) {
	db := seed(t)
	fake := &fakeS3{objects: make(map[string][]byte)}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := export.Run(ctx, db, export.NewS3SinkWithClient("b", "", fake), zerolog.Nop())
	if err != context.Canceled {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(fake.objects) != 0 {
		t.Fatalf("nothing should be written, got %d objects", len(fake.objects))
	}
}
