package similarity_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"subforge/internal/features"
	"subforge/internal/logging"
	"subforge/internal/similarity"
	"subforge/internal/stage"
	"subforge/internal/testsupport"
)

func sampleVector() features.Vector {
	return features.Vector{
		DurationSeconds: 5400,
		NoiseLevel:      0.2,
		Language:        "ja",
		SpeakerCount:    4,
		Complexity:      0.6,
	}
}

func sampleRecord(mediaID string, vector features.Vector) similarity.Record {
	return similarity.Record{
		MediaID:  mediaID,
		Features: vector,
		Params:   stage.Params{TranscribeModel: "large", BeamSize: 8, VADAggressiveness: 3, ChunkSeconds: 20},
		Outcome:  similarity.Outcome{Quality: 0.9, Seconds: 1200},
	}
}

func TestAppendAndRecordsRoundTrip(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	index := similarity.NewIndex(cfg, logging.NewNop())

	if err := index.Append(sampleRecord("media-1", sampleVector())); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	records, err := index.Records()
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	if records[0].MediaID != "media-1" {
		t.Fatalf("unexpected record: %#v", records[0])
	}
	if records[0].CreatedAt.IsZero() {
		t.Fatal("expected CreatedAt to be stamped")
	}
	if records[0].Params.TranscribeModel != "large" {
		t.Fatalf("params not persisted: %#v", records[0].Params)
	}
}

func TestAppendDropsEmptyVector(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	index := similarity.NewIndex(cfg, logging.NewNop())

	if err := index.Append(sampleRecord("media-empty", features.Vector{})); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	records, err := index.Records()
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("expected no records, got %d", len(records))
	}
}

func TestFindSimilarAcceptsScoreAtThreshold(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Similarity.Threshold = 1.0
	cfg.Similarity.NearDuplicateThreshold = 1.0
	index := similarity.NewIndex(cfg, logging.NewNop())

	vector := sampleVector()
	if err := index.Append(sampleRecord("media-exact", vector)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	match, err := index.FindSimilar(vector)
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}
	if match == nil {
		t.Fatal("expected a match exactly at the threshold")
	}
	if match.Score != 1.0 {
		t.Fatalf("expected score 1.0, got %v", match.Score)
	}
	if !match.NearDuplicate {
		t.Fatal("expected near-duplicate flag at the near-duplicate threshold")
	}
}

func TestFindSimilarRejectsBelowThreshold(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Similarity.Threshold = 1.0
	cfg.Similarity.NearDuplicateThreshold = 1.0
	index := similarity.NewIndex(cfg, logging.NewNop())

	stored := sampleVector()
	if err := index.Append(sampleRecord("media-other", stored)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	query := stored
	query.Language = "de"
	match, err := index.FindSimilar(query)
	if err != nil {
		t.Fatalf("FindSimilar failed: %v", err)
	}
	if match != nil {
		t.Fatalf("expected no match below the threshold, got score %v", match.Score)
	}
}

func TestMatchesOrdersBestFirst(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Similarity.Threshold = 0.5
	cfg.Similarity.NearDuplicateThreshold = 0.99
	index := similarity.NewIndex(cfg, logging.NewNop())

	exact := sampleVector()
	near := exact
	near.DurationSeconds = 4800
	if err := index.Append(sampleRecord("media-close", near)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := index.Append(sampleRecord("media-exact", exact)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	matches, err := index.Matches(exact)
	if err != nil {
		t.Fatalf("Matches failed: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(matches))
	}
	if matches[0].Record.MediaID != "media-exact" {
		t.Fatalf("expected exact match first, got %s", matches[0].Record.MediaID)
	}
	if !matches[0].NearDuplicate {
		t.Fatal("expected exact match to be flagged near-duplicate")
	}
	if matches[1].NearDuplicate {
		t.Fatal("expected close match to stay below near-duplicate tier")
	}
}

func TestPruneKeepsNewestRecords(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Similarity.MaxRecords = 3
	index := similarity.NewIndex(cfg, logging.NewNop())

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		record := sampleRecord("media-prune", sampleVector())
		record.MediaID = record.MediaID + "-" + string(rune('a'+i))
		record.CreatedAt = base.Add(time.Duration(i) * time.Hour)
		if err := index.Append(record); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	records, err := index.Records()
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records after prune, got %d", len(records))
	}
	for _, record := range records {
		if record.CreatedAt.Before(base.Add(2 * time.Hour)) {
			t.Fatalf("expected oldest records to be dropped, found %v", record.CreatedAt)
		}
	}
}

func TestCorruptLineIsSkipped(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	index := similarity.NewIndex(cfg, logging.NewNop())

	if err := index.Append(sampleRecord("media-good", sampleVector())); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	path := filepath.Join(cfg.Paths.DataDir, "similarity.jsonl")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		t.Fatalf("open index: %v", err)
	}
	if _, err := f.WriteString("{torn line\n"); err != nil {
		t.Fatalf("write garbage: %v", err)
	}
	f.Close()

	records, err := index.Records()
	if err != nil {
		t.Fatalf("Records failed: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected corrupt line to be skipped, got %d records", len(records))
	}
}

func TestDisabledIndexIsNoop(t *testing.T) {
	cfg := testsupport.NewConfig(t)
	cfg.Similarity.Enabled = false
	index := similarity.NewIndex(cfg, logging.NewNop())

	if index.Enabled() {
		t.Fatal("expected disabled index")
	}
	if err := index.Append(sampleRecord("media-ignored", sampleVector())); err != nil {
		t.Fatalf("Append on nil index failed: %v", err)
	}
	match, err := index.FindSimilar(sampleVector())
	if err != nil || match != nil {
		t.Fatalf("expected nil match from disabled index, got %v, %v", match, err)
	}
}
