package kvstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rzbill/rookery/internal/measurement"
	"github.com/rzbill/rookery/internal/store"
	pebblestore "github.com/rzbill/rookery/internal/storage/pebble"
)

func openTestStore(t *testing.T, dir string) (*Store, *pebblestore.DB) {
	t.Helper()
	db, err := pebblestore.Open(pebblestore.Options{DataDir: dir, Fsync: pebblestore.FsyncModeNever})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	s, err := New(db, nil)
	if err != nil {
		_ = db.Close()
		t.Fatalf("new store: %v", err)
	}
	return s, db
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, db := openTestStore(t, t.TempDir())
	t.Cleanup(func() { _ = db.Close() })
	return s
}

func insert(t *testing.T, s *Store, id string, w float64, date, tm string) {
	t.Helper()
	m := measurement.Measurement{SubjectID: id, Weight: w, Date: date, Time: tm, ImageRef: "/uploads/" + id + ".jpg"}
	if err := s.InsertMeasurement(context.Background(), m); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestRecentNewestFirst(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insert(t, s, "PNG-001", 5.0, "2025-03-10", "08:00:00")
	insert(t, s, "PNG-001", 5.1, "2025-03-12", "08:00:00")
	insert(t, s, "PNG-001", 5.2, "2025-03-12", "09:30:00")
	insert(t, s, "PNG-001", 4.9, "2025-03-01", "08:00:00")
	insert(t, s, "PNG-0011", 9.9, "2025-04-01", "08:00:00")

	got, err := s.Recent(ctx, "PNG-001", 3)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	want := []float64{5.2, 5.1, 5.0}
	if len(got) != 3 {
		t.Fatalf("got %d rows", len(got))
	}
	for i, w := range want {
		if got[i].Weight != w {
			t.Fatalf("row %d weight %v want %v", i, got[i].Weight, w)
		}
	}

	if _, err := s.Recent(ctx, "PNG-404", 3); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestLatestGlobalAndSearch(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	empty, err := s.LatestGlobal(ctx, 10)
	if err != nil || empty == nil || len(empty) != 0 {
		t.Fatalf("empty latest = %v, %v", empty, err)
	}

	insert(t, s, "PNG-001", 5.0, "2025-03-10", "08:00:00")
	insert(t, s, "PNG-002", 4.0, "2025-03-11", "08:00:00")
	insert(t, s, "ABC-003", 6.0, "2025-03-09", "08:00:00")
	insert(t, s, "PNG-002", 4.1, "2025-03-11", "08:00:00")

	latest, err := s.LatestGlobal(ctx, 2)
	if err != nil {
		t.Fatalf("latest: %v", err)
	}
	if len(latest) != 2 || latest[0].ID != "PNG-002" || latest[0].Weight != 4.1 || latest[1].Weight != 4.0 {
		t.Fatalf("latest = %+v", latest)
	}

	refs, err := s.Search(ctx, "png", 10)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(refs) != 2 || refs[0].ID != "PNG-001" || refs[1].ID != "PNG-002" {
		t.Fatalf("search = %+v", refs)
	}
	if refs, _ := s.Search(ctx, "", 1); len(refs) != 1 {
		t.Fatalf("limit ignored: %+v", refs)
	}
}

func TestDetailsAndMetadata(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	insert(t, s, "PNG-001", 5.0, "2025-03-10", "08:00:00")
	if err := s.AddMetadata(ctx, "PNG-001", store.MetadataField{FieldName: "sex", FieldValue: "F"}); err != nil {
		t.Fatalf("add metadata: %v", err)
	}
	if err := s.AddMetadata(ctx, "PNG-001", store.MetadataField{FieldName: "tag", FieldValue: "blue"}); err != nil {
		t.Fatalf("add metadata: %v", err)
	}

	d, err := s.Details(ctx, "PNG-001", 10)
	if err != nil {
		t.Fatalf("details: %v", err)
	}
	if len(d.Metadata) != 2 || d.Metadata[0].FieldName != "sex" || d.Metadata[1].FieldValue != "blue" {
		t.Fatalf("metadata = %+v", d.Metadata)
	}
	if len(d.Measurements) != 1 || d.Measurements[0].ImageURL != "/uploads/PNG-001.jpg" {
		t.Fatalf("measurements = %+v", d.Measurements)
	}

	rows, err := s.ReportTable(ctx, store.ReportQuery{Since: "2025-03-01", UnderweightKg: 4, OverweightKg: 6})
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if len(rows) != 1 || rows[0].Comments == nil || *rows[0].Comments != "sex: F, tag: blue" {
		t.Fatalf("rows = %+v", rows)
	}
}

func TestSequenceAndSettingsSurviveReopen(t *testing.T) {
	dir := t.TempDir()
	s, db := openTestStore(t, dir)
	ctx := context.Background()
	insert(t, s, "PNG-001", 5.0, "2025-03-10", "08:00:00")
	if _, err := s.CurrentSubject(ctx); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("current subject before set: %v", err)
	}
	if err := s.SetCurrentSubject(ctx, "PNG-042"); err != nil {
		t.Fatalf("set current: %v", err)
	}
	seq := s.seq
	_ = db.Close()

	s2, db2 := openTestStore(t, dir)
	defer db2.Close()
	if s2.seq != seq {
		t.Fatalf("seq = %d want %d", s2.seq, seq)
	}
	if id, err := s2.CurrentSubject(ctx); err != nil || id != "PNG-042" {
		t.Fatalf("current = %q, %v", id, err)
	}
	// same timestamp twice must not overwrite
	insert(t, s2, "PNG-001", 5.5, "2025-03-10", "08:00:00")
	got, _ := s2.Recent(ctx, "PNG-001", 10)
	if len(got) != 2 {
		t.Fatalf("got %d rows", len(got))
	}
	if err := s2.Ping(ctx); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestInsertFailsOnCancelledContext(t *testing.T) {
	s := newTestStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.InsertMeasurement(ctx, measurement.Measurement{SubjectID: "PNG-001", Weight: 5, Date: "2025-03-10", Time: "08:00:00"})
	var pe *store.PersistenceError
	if !errors.As(err, &pe) {
		t.Fatalf("expected PersistenceError, got %v", err)
	}
	if _, err := s.Recent(context.Background(), "PNG-001", 3); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("nothing should be stored: %v", err)
	}
}

func TestKeysOrdering(t *testing.T) {
	early := time.Date(1969, 12, 31, 0, 0, 0, 0, time.UTC)
	late := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	if string(KeyByTime(early, 9)) >= string(KeyByTime(late, 1)) {
		t.Fatalf("pre-epoch key should sort first")
	}
	subject, ok := subjectFromMetadataKey(KeyMetadata("PNG-001", 7))
	if !ok || subject != "PNG-001" {
		t.Fatalf("subjectFromMetadataKey = %q, %v", subject, ok)
	}
	if _, ok := subjectFromMetadataKey([]byte("md/x")); ok {
		t.Fatalf("short key should not parse")
	}
}

func TestRecordCorruption(t *testing.T) {
	b, err := encodeValue(store.MetadataField{FieldName: "a", FieldValue: "b"})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	b[0] ^= 0xff
	var f store.MetadataField
	if err := decodeValue(b, &f); !errors.Is(err, errCorrupt) {
		t.Fatalf("expected errCorrupt, got %v", err)
	}
}
