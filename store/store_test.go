package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/lexmex/scjnpipe/dbopen"
	"github.com/lexmex/scjnpipe/legal"
)

func testDocument(qParam string) *legal.Document {
	return &legal.Document{
		ID:              legal.NewDocumentID(),
		QParam:          qParam,
		Title:           "LEY FEDERAL DEL TRABAJO",
		ShortTitle:      "LFT",
		Category:        legal.CategoryLey,
		Scope:           legal.ScopeFederal,
		Status:          legal.StatusVigente,
		PublicationDate: legal.ParseUpstreamDate("01/04/1970"),
		SourceURL:       "https://legislacion.scjn.gob.mx/Buscador/Paginas/wfOrdenamientoDetalle.aspx?q=" + qParam,
		Articles: []legal.Article{
			{Number: "1", Content: "La presente Ley es de observancia general."},
		},
	}
}

func TestLocalSaveAndLoad(t *testing.T) {
	s, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	doc := testDocument("AbC==")
	if err := s.SaveDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}
	if !s.Exists(ctx, "AbC==") {
		t.Fatal("document should exist after save")
	}
	if s.Exists(ctx, "missing") {
		t.Fatal("unsaved q_param should not exist")
	}

	loaded, err := s.LoadDocument("AbC==")
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ID != doc.ID || loaded.Title != doc.Title {
		t.Fatalf("loaded: %+v", loaded)
	}
	if loaded.PublicationDate == nil || loaded.PublicationDate.String() != "1970-04-01" {
		t.Fatalf("publication date: %v", loaded.PublicationDate)
	}
	if loaded.ExpeditionDate != nil {
		t.Fatal("absent date should stay nil")
	}
}

func TestSaveDocument_UpsertByQParam(t *testing.T) {
	s, err := New(Config{Dir: t.TempDir()})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := s.SaveDocument(ctx, testDocument("Q1==")); err != nil {
		t.Fatal(err)
	}
	second := testDocument("Q1==")
	second.Title = "LEY FEDERAL DEL TRABAJO (REFORMADA)"
	if err := s.SaveDocument(ctx, second); err != nil {
		t.Fatal(err)
	}

	if s.Count() != 1 {
		t.Fatalf("count: %d, want 1", s.Count())
	}
	id, ok := s.DocumentID("Q1==")
	if !ok || id != second.ID {
		t.Fatalf("index should point at the latest save: %s", id)
	}
}

func TestSaveDocument_RemovesSupersededFile(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	first := testDocument("Q2==")
	if err := s.SaveDocument(ctx, first); err != nil {
		t.Fatal(err)
	}
	second := testDocument("Q2==")
	second.Title = "LEY FEDERAL DEL TRABAJO (REFORMADA)"
	if err := s.SaveDocument(ctx, second); err != nil {
		t.Fatal(err)
	}

	if _, err := os.Stat(filepath.Join(dir, "documents", first.ID+".json")); !os.IsNotExist(err) {
		t.Fatalf("superseded document file still on disk (stat err: %v)", err)
	}

	// A restart must index the replacement, never the stale record.
	fresh, err := New(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	doc, err := fresh.LoadDocument("Q2==")
	if err != nil {
		t.Fatal(err)
	}
	if doc.ID != second.ID || doc.Title != second.Title {
		t.Fatalf("rehydrated document: %+v", doc)
	}
}

func TestRehydration(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first, err := New(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	doc := testDocument("Persist==")
	if err := first.SaveDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	// A fresh store on the same directory sees the document.
	second, err := New(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if !second.Exists(ctx, "Persist==") {
		t.Fatal("rehydrated store should know the q_param")
	}
	id, ok := second.DocumentID("Persist==")
	if !ok || id != doc.ID {
		t.Fatalf("rehydrated id: %s", id)
	}
}

func TestRehydration_SkipsCorruptFiles(t *testing.T) {
	dir := t.TempDir()
	s, err := New(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if err := s.SaveDocument(context.Background(), testDocument("Good==")); err != nil {
		t.Fatal(err)
	}
	if err := writeJSON(filepath.Join(dir, "documents", "junk.json"), "not a document"); err != nil {
		t.Fatal(err)
	}

	again, err := New(Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	if again.Count() != 1 {
		t.Fatalf("count: %d, want 1", again.Count())
	}
}

func TestDualMode(t *testing.T) {
	db := dbopen.OpenMemory(t)
	s, err := New(Config{Mode: ModeDual, Dir: t.TempDir(), DB: db})
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	doc := testDocument("Dual==")
	if err := s.SaveDocument(ctx, doc); err != nil {
		t.Fatal(err)
	}

	var status string
	err = db.QueryRow(`SELECT embedding_status FROM scjn_documents WHERE q_param = ?`, "Dual==").Scan(&status)
	if err != nil {
		t.Fatal(err)
	}
	if status != EmbeddingPending {
		t.Fatalf("initial status: %q", status)
	}

	chunks := []legal.TextChunk{
		{ID: legal.ChunkID(doc.ID, 0), DocumentID: doc.ID, Content: "texto", TokenCount: 2, ChunkIndex: 0},
		{ID: legal.ChunkID(doc.ID, 1), DocumentID: doc.ID, Content: "más texto", TokenCount: 3, ChunkIndex: 1},
	}
	if err := s.SaveChunks(ctx, doc.ID, chunks); err != nil {
		t.Fatal(err)
	}
	// Batched upsert is idempotent.
	if err := s.SaveChunks(ctx, doc.ID, chunks); err != nil {
		t.Fatal(err)
	}

	var chunkCount int
	db.QueryRow(`SELECT chunk_count FROM scjn_documents WHERE document_id = ?`, doc.ID).Scan(&chunkCount)
	if chunkCount != 2 {
		t.Fatalf("chunk_count: %d", chunkCount)
	}
	var stored int
	db.QueryRow(`SELECT COUNT(*) FROM scjn_chunks WHERE document_id = ?`, doc.ID).Scan(&stored)
	if stored != 2 {
		t.Fatalf("stored chunks: %d", stored)
	}

	if err := s.SaveEmbeddings(ctx, doc.ID, []legal.Embedding{
		{ChunkID: chunks[0].ID, Vector: []float32{1, 2}, ModelName: "hash-2"},
	}); err != nil {
		t.Fatal(err)
	}
	db.QueryRow(`SELECT embedding_status FROM scjn_documents WHERE document_id = ?`, doc.ID).Scan(&status)
	if status != EmbeddingCompleted {
		t.Fatalf("status after embeddings: %q", status)
	}

	// Remote existence check works too.
	if !s.Exists(ctx, "Dual==") {
		t.Fatal("remote exists failed")
	}
}

func TestRemoteFailureFallsBackToLocal(t *testing.T) {
	db := dbopen.OpenMemory(t)
	dir := t.TempDir()
	s, err := New(Config{Mode: ModeRemote, Dir: dir, DB: db})
	if err != nil {
		t.Fatal(err)
	}
	db.Close() // remote store goes away after startup

	ctx := context.Background()
	doc := testDocument("Fallback==")
	if err := s.SaveDocument(ctx, doc); err != nil {
		t.Fatalf("save must not fail when remote is down: %v", err)
	}
	if !s.Exists(ctx, "Fallback==") {
		t.Fatal("local index should answer when remote is down")
	}
	if _, err := s.LoadDocument("Fallback=="); err != nil {
		t.Fatalf("fallback local write missing: %v", err)
	}
	if err := s.SaveChunks(ctx, doc.ID, []legal.TextChunk{
		{ID: legal.ChunkID(doc.ID, 0), DocumentID: doc.ID, Content: "x", ChunkIndex: 0},
	}); err != nil {
		t.Fatalf("chunk save must not fail when remote is down: %v", err)
	}
}

func TestNew_RemoteRequiresDB(t *testing.T) {
	if _, err := New(Config{Mode: ModeRemote, Dir: t.TempDir()}); err == nil {
		t.Fatal("expected error without database handle")
	}
}
