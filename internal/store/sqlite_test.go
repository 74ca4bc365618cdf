package store

import (
	"path/filepath"
	"testing"
	"time"

	"fitclip/internal/jobs"
)

func createTestJob(id string) *jobs.Job {
	return &jobs.Job{
		ID:         id,
		SourcePath: "/media/video_" + id + ".mkv",
		OutputPath: "/media/video_" + id + ".compressed.mp4",
		Settings: jobs.Settings{
			TargetSizeBytes: 8 << 20,
			Encoder:         jobs.EncoderSoftware,
			SpeedPreset:     "medium",
			MaxHeight:       1080,
			OverheadFactor:  0.95,
		},
		Status:     jobs.StatusQueued,
		SourceSize: 1000000,
		CreatedAt:  time.Now(),
	}
}

func TestSQLiteStore_SaveJob_CreatesNew(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	job := createTestJob("test-1")

	if err := store.SaveJob(job); err != nil {
		t.Fatalf("failed to save job: %v", err)
	}

	got, err := store.GetJob("test-1")
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}
	if got == nil {
		t.Fatal("expected job, got nil")
	}

	if got.ID != job.ID {
		t.Errorf("expected ID %s, got %s", job.ID, got.ID)
	}
	if got.SourcePath != job.SourcePath {
		t.Errorf("expected SourcePath %s, got %s", job.SourcePath, got.SourcePath)
	}
	if got.Status != job.Status {
		t.Errorf("expected Status %s, got %s", job.Status, got.Status)
	}
	if got.Settings.TargetSizeBytes != job.Settings.TargetSizeBytes {
		t.Errorf("expected target %d, got %d", job.Settings.TargetSizeBytes, got.Settings.TargetSizeBytes)
	}
}

func TestSQLiteStore_SaveJob_UpdatesExisting(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	job := createTestJob("test-1")
	store.SaveJob(job)

	// Advance through the pipeline
	job.Status = jobs.StatusEncoding
	job.Progress = 50.0
	job.Speed = 2.5
	job.ETASeconds = 300
	job.TempPath = "/tmp/video.fitclip.tmp.mp4"
	job.PlanVideoKbps = 378
	job.PlanAudioKbps = 128
	job.StartedAt = time.Now()

	if err := store.SaveJob(job); err != nil {
		t.Fatalf("failed to update job: %v", err)
	}

	got, _ := store.GetJob("test-1")
	if got.Status != jobs.StatusEncoding {
		t.Errorf("expected Status encoding, got %s", got.Status)
	}
	if got.Progress != 50.0 {
		t.Errorf("expected Progress 50, got %f", got.Progress)
	}
	if got.ETASeconds != 300 {
		t.Errorf("expected ETASeconds 300, got %d", got.ETASeconds)
	}
	if got.PlanVideoKbps != 378 {
		t.Errorf("expected PlanVideoKbps 378, got %d", got.PlanVideoKbps)
	}
}

func TestSQLiteStore_GetJob_ReturnsNilForMissing(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	got, err := store.GetJob("nonexistent")
	if err != nil {
		t.Fatalf("missing job should not be an error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for missing job")
	}
}

func TestSQLiteStore_DeleteJob_RemovesJobAndOrder(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	job := createTestJob("test-1")
	store.SaveJob(job)
	store.AppendToOrder(job.ID)

	if err := store.DeleteJob(job.ID); err != nil {
		t.Fatalf("failed to delete job: %v", err)
	}

	got, _ := store.GetJob(job.ID)
	if got != nil {
		t.Error("expected job to be deleted")
	}

	// Order entry cascades away with the job
	allJobs, order, _ := store.GetAllJobs()
	if len(allJobs) != 0 || len(order) != 0 {
		t.Error("expected empty job list and order after delete")
	}
}

func TestSQLiteStore_DeleteJob_Idempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	if err := store.DeleteJob("nonexistent"); err != nil {
		t.Errorf("delete of nonexistent job should not error: %v", err)
	}
}

func TestSQLiteStore_AppendToOrder_MaintainsInsertionOrder(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	for _, id := range []string{"A", "B", "C"} {
		store.SaveJob(createTestJob(id))
		store.AppendToOrder(id)
	}

	_, order, err := store.GetAllJobs()
	if err != nil {
		t.Fatalf("failed to get jobs: %v", err)
	}

	expected := []string{"A", "B", "C"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d jobs, got %d", len(expected), len(order))
	}
	for i, id := range expected {
		if order[i] != id {
			t.Errorf("order[%d]: expected %s, got %s", i, id, order[i])
		}
	}
}

func TestSQLiteStore_SetOrder_ReplacesExisting(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	for _, id := range []string{"A", "B", "C"} {
		store.SaveJob(createTestJob(id))
		store.AppendToOrder(id)
	}

	if err := store.SetOrder([]string{"C", "A", "B"}); err != nil {
		t.Fatalf("failed to set order: %v", err)
	}

	_, order, _ := store.GetAllJobs()
	expected := []string{"C", "A", "B"}
	for i, id := range expected {
		if order[i] != id {
			t.Errorf("order[%d]: expected %s, got %s", i, id, order[i])
		}
	}
}

func TestSQLiteStore_ResetActiveJobs(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	// One job in each pipeline stage
	for i, status := range []jobs.Status{jobs.StatusProbing, jobs.StatusPlanning, jobs.StatusEncoding} {
		job := createTestJob(string(rune('A' + i)))
		job.Status = status
		job.Progress = 50.0
		job.Speed = 1.5
		job.ETASeconds = 600
		job.TempPath = "/tmp/partial.fitclip.tmp.mp4"
		job.StartedAt = time.Now()
		store.SaveJob(job)
	}

	// Queued and finished jobs should not be affected
	queued := createTestJob("queued")
	store.SaveJob(queued)

	done := createTestJob("done")
	done.Status = jobs.StatusSucceeded
	done.Progress = 100
	store.SaveJob(done)

	count, err := store.ResetActiveJobs()
	if err != nil {
		t.Fatalf("failed to reset active jobs: %v", err)
	}
	if count != 3 {
		t.Errorf("expected 3 jobs reset, got %d", count)
	}

	allJobs, _, _ := store.GetAllJobs()
	for _, job := range allJobs {
		switch job.ID {
		case "done":
			if job.Status != jobs.StatusSucceeded {
				t.Errorf("finished job should keep its status, got %s", job.Status)
			}
		default:
			if job.Status != jobs.StatusQueued {
				t.Errorf("job %s: expected queued, got %s", job.ID, job.Status)
			}
			if job.Progress != 0 {
				t.Errorf("job %s: expected progress 0, got %f", job.ID, job.Progress)
			}
			if job.TempPath != "" {
				t.Errorf("job %s: expected temp path cleared, got %s", job.ID, job.TempPath)
			}
			if !job.StartedAt.IsZero() {
				t.Errorf("job %s: expected StartedAt cleared, got %v", job.ID, job.StartedAt)
			}
		}
	}
}

func TestSQLiteStore_AllFieldsRoundTrip(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	now := time.Now().Truncate(time.Second) // SQLite stores with second precision
	job := &jobs.Job{
		ID:         "full-test",
		SourcePath: "/media/test.mkv",
		OutputPath: "/media/test.compressed.mp4",
		TempPath:   "/tmp/test.compressed.fitclip.tmp.mp4",
		Settings: jobs.Settings{
			TargetSizeBytes:  25 << 20,
			Encoder:          jobs.EncoderHardware,
			SpeedPreset:      "slow",
			MaxHeight:        720,
			AudioBitrateKbps: 96,
			FrameRateCap:     30,
			OverheadFactor:   0.93,
		},
		Status:        jobs.StatusSucceeded,
		Progress:      100.0,
		Speed:         2.5,
		ETASeconds:    0,
		Error:         "",
		SourceSize:    1000000000,
		OutputSize:    25000000,
		DurationMs:    3600000,
		Width:         3840,
		Height:        2160,
		FrameRate:     29.97,
		AudioKbps:     192,
		PlanVideoKbps: 450,
		PlanAudioKbps: 96,
		PlanWidth:     1280,
		PlanHeight:    720,
		PlanFrameRate: 30,
		CreatedAt:     now,
		StartedAt:     now.Add(time.Minute),
		CompletedAt:   now.Add(time.Hour),
	}

	if err := store.SaveJob(job); err != nil {
		t.Fatalf("failed to save job: %v", err)
	}

	got, err := store.GetJob(job.ID)
	if err != nil {
		t.Fatalf("failed to get job: %v", err)
	}

	if got.SourcePath != job.SourcePath {
		t.Errorf("SourcePath: expected %s, got %s", job.SourcePath, got.SourcePath)
	}
	if got.OutputPath != job.OutputPath {
		t.Errorf("OutputPath: expected %s, got %s", job.OutputPath, got.OutputPath)
	}
	if got.TempPath != job.TempPath {
		t.Errorf("TempPath: expected %s, got %s", job.TempPath, got.TempPath)
	}
	if got.Settings != job.Settings {
		t.Errorf("Settings: expected %+v, got %+v", job.Settings, got.Settings)
	}
	if got.Status != job.Status {
		t.Errorf("Status: expected %s, got %s", job.Status, got.Status)
	}
	if got.Progress != job.Progress {
		t.Errorf("Progress: expected %f, got %f", job.Progress, got.Progress)
	}
	if got.Speed != job.Speed {
		t.Errorf("Speed: expected %f, got %f", job.Speed, got.Speed)
	}
	if got.SourceSize != job.SourceSize {
		t.Errorf("SourceSize: expected %d, got %d", job.SourceSize, got.SourceSize)
	}
	if got.OutputSize != job.OutputSize {
		t.Errorf("OutputSize: expected %d, got %d", job.OutputSize, got.OutputSize)
	}
	if got.DurationMs != job.DurationMs {
		t.Errorf("DurationMs: expected %d, got %d", job.DurationMs, got.DurationMs)
	}
	if got.Width != job.Width || got.Height != job.Height {
		t.Errorf("dimensions: expected %dx%d, got %dx%d", job.Width, job.Height, got.Width, got.Height)
	}
	if got.FrameRate != job.FrameRate {
		t.Errorf("FrameRate: expected %f, got %f", job.FrameRate, got.FrameRate)
	}
	if got.AudioKbps != job.AudioKbps {
		t.Errorf("AudioKbps: expected %d, got %d", job.AudioKbps, got.AudioKbps)
	}
	if got.PlanVideoKbps != job.PlanVideoKbps || got.PlanAudioKbps != job.PlanAudioKbps {
		t.Errorf("plan bitrates: expected %d/%d, got %d/%d",
			job.PlanVideoKbps, job.PlanAudioKbps, got.PlanVideoKbps, got.PlanAudioKbps)
	}
	if got.PlanWidth != job.PlanWidth || got.PlanHeight != job.PlanHeight {
		t.Errorf("plan dimensions: expected %dx%d, got %dx%d",
			job.PlanWidth, job.PlanHeight, got.PlanWidth, got.PlanHeight)
	}
	if got.PlanFrameRate != job.PlanFrameRate {
		t.Errorf("PlanFrameRate: expected %f, got %f", job.PlanFrameRate, got.PlanFrameRate)
	}

	// Time comparisons (within 1 second tolerance)
	if got.CreatedAt.Sub(job.CreatedAt) > time.Second {
		t.Errorf("CreatedAt: expected %v, got %v", job.CreatedAt, got.CreatedAt)
	}
	if got.StartedAt.Sub(job.StartedAt) > time.Second {
		t.Errorf("StartedAt: expected %v, got %v", job.StartedAt, got.StartedAt)
	}
	if got.CompletedAt.Sub(job.CompletedAt) > time.Second {
		t.Errorf("CompletedAt: expected %v, got %v", job.CompletedAt, got.CompletedAt)
	}
}

func TestSQLiteStore_ZeroValuesPreserved(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	// Job with all optional fields at zero/empty
	job := &jobs.Job{
		ID:         "minimal",
		SourcePath: "/media/test.mkv",
		OutputPath: "/media/test.mp4",
		Settings:   jobs.Settings{TargetSizeBytes: 1 << 20, Encoder: jobs.EncoderSoftware},
		Status:     jobs.StatusQueued,
		CreatedAt:  time.Now(),
	}

	store.SaveJob(job)

	got, _ := store.GetJob(job.ID)

	if got.TempPath != "" {
		t.Errorf("TempPath should be empty, got %s", got.TempPath)
	}
	if got.Progress != 0 {
		t.Errorf("Progress should be 0, got %f", got.Progress)
	}
	if got.OutputSize != 0 {
		t.Errorf("OutputSize should be 0, got %d", got.OutputSize)
	}
	if got.Settings.MaxHeight != 0 {
		t.Errorf("MaxHeight should be 0, got %d", got.Settings.MaxHeight)
	}
	if !got.StartedAt.IsZero() {
		t.Errorf("StartedAt should be zero, got %v", got.StartedAt)
	}
}

func TestSQLiteStore_Persistence(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store1, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	job := createTestJob("persist-test")
	store1.SaveJob(job)
	store1.AppendToOrder(job.ID)
	store1.Close()

	store2, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer store2.Close()

	got, _ := store2.GetJob("persist-test")
	if got == nil {
		t.Fatal("job not persisted")
	}
	if got.SourcePath != job.SourcePath {
		t.Errorf("expected SourcePath %s, got %s", job.SourcePath, got.SourcePath)
	}

	_, order, _ := store2.GetAllJobs()
	if len(order) != 1 || order[0] != "persist-test" {
		t.Errorf("order not persisted: %v", order)
	}
}

func TestSQLiteStore_RejectsNewerSchema(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store1, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	// Simulate a database written by a future build
	if _, err := store1.db.Exec("INSERT INTO schema_version (version) VALUES (?)", schemaVersion+10); err != nil {
		t.Fatalf("failed to bump version: %v", err)
	}
	store1.Close()

	if _, err := NewSQLiteStore(dbPath); err == nil {
		t.Error("expected error opening database with newer schema")
	}
}

func TestSQLiteStore_WALMode(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	store, err := NewSQLiteStore(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer store.Close()

	var mode string
	if err := store.db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatalf("failed to query journal mode: %v", err)
	}
	if mode != "wal" {
		t.Errorf("expected WAL mode, got %s", mode)
	}
}

func TestInitStore_RecoversInterruptedJobs(t *testing.T) {
	dataDir := t.TempDir()

	store1, err := NewSQLiteStore(DBPath(dataDir))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	job := createTestJob("interrupted")
	job.Status = jobs.StatusEncoding
	job.Progress = 60
	store1.SaveJob(job)
	store1.AppendToOrder(job.ID)
	store1.Close()

	store2, err := InitStore(dataDir)
	if err != nil {
		t.Fatalf("InitStore failed: %v", err)
	}
	defer store2.Close()

	got, _ := store2.GetJob("interrupted")
	if got == nil || got.Status != jobs.StatusQueued {
		t.Errorf("expected interrupted job requeued, got %+v", got)
	}
}
