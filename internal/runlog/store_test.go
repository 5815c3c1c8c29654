package runlog

import (
	"os"
	"path/filepath"
	"testing"
)

func tempDB(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type testConfig struct {
	Gamma    float64 `json:"gamma"`
	Episodes int     `json:"episodes"`
}

func TestBeginAndGetRun(t *testing.T) {
	s := tempDB(t)

	rec, err := s.BeginRun("data/cities.csv", testConfig{Gamma: 0.99, Episodes: 1000})
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	if rec.RunID == "" {
		t.Fatal("expected non-empty run ID")
	}
	if rec.Status != StatusRunning {
		t.Fatalf("expected status %q, got %q", StatusRunning, rec.Status)
	}

	got, err := s.GetRun(rec.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.DataPath != "data/cities.csv" {
		t.Fatalf("data path mismatch: %q", got.DataPath)
	}
	if got.ConfigJSON != `{"gamma":0.99,"episodes":1000}` {
		t.Fatalf("config JSON mismatch: %q", got.ConfigJSON)
	}
	if !got.FinishedAt.IsZero() {
		t.Fatal("running run should have zero finish time")
	}
}

func TestFinishRun(t *testing.T) {
	s := tempDB(t)
	rec, err := s.BeginRun("d.csv", testConfig{})
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	if err := s.FinishRun(rec.RunID, StatusFinished); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}
	got, err := s.GetRun(rec.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != StatusFinished {
		t.Fatalf("expected status %q, got %q", StatusFinished, got.Status)
	}
	if got.FinishedAt.IsZero() {
		t.Fatal("finished run should have a finish time")
	}
}

func TestFinishRunNotFound(t *testing.T) {
	s := tempDB(t)
	if err := s.FinishRun("nonexistent-id", StatusFailed); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestEpisodeLogRoundTrip(t *testing.T) {
	s := tempDB(t)
	rec, err := s.BeginRun("d.csv", testConfig{})
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	want := []EpisodeRecord{
		{Episode: 1, PolicyLoss: 12.5, TotalReward: -3},
		{Episode: 2, PolicyLoss: 10.1, TotalReward: 8.5},
		{Episode: 3, PolicyLoss: 9.7, TotalReward: 20},
	}
	for _, ep := range want {
		if err := s.RecordEpisode(rec.RunID, ep); err != nil {
			t.Fatalf("RecordEpisode: %v", err)
		}
	}

	got, err := s.ListEpisodes(rec.RunID)
	if err != nil {
		t.Fatalf("ListEpisodes: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d episodes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("episode %d: got %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestPassReportRoundTrip(t *testing.T) {
	s := tempDB(t)
	rec, err := s.BeginRun("d.csv", testConfig{})
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	want := []PassRecord{
		{Pass: 1, SelectedCount: 3, PositiveCount: 2, Indices: []int{0, 4, 7}},
		{Pass: 2, SelectedCount: 1, PositiveCount: 0, Indices: []int{2}},
	}
	for _, p := range want {
		if err := s.RecordPass(rec.RunID, p); err != nil {
			t.Fatalf("RecordPass: %v", err)
		}
	}

	got, err := s.ListPasses(rec.RunID)
	if err != nil {
		t.Fatalf("ListPasses: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d passes, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i].Pass != want[i].Pass ||
			got[i].SelectedCount != want[i].SelectedCount ||
			got[i].PositiveCount != want[i].PositiveCount {
			t.Errorf("pass %d: got %+v, want %+v", i, got[i], want[i])
		}
		if len(got[i].Indices) != len(want[i].Indices) {
			t.Fatalf("pass %d: %d indices, want %d", i, len(got[i].Indices), len(want[i].Indices))
		}
		for j := range want[i].Indices {
			if got[i].Indices[j] != want[i].Indices[j] {
				t.Errorf("pass %d index %d: got %d, want %d", i, j, got[i].Indices[j], want[i].Indices[j])
			}
		}
	}
}

func TestListRunsNewestFirst(t *testing.T) {
	s := tempDB(t)

	first, err := s.BeginRun("a.csv", testConfig{})
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	second, err := s.BeginRun("b.csv", testConfig{})
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}

	runs, err := s.ListRuns(10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	// Insertion order, not timestamp-string order: back-to-back runs within
	// the same nanosecond truncation still come back newest first.
	if runs[0].RunID != second.RunID || runs[1].RunID != first.RunID {
		t.Errorf("runs not ordered newest first: %s, %s", runs[0].RunID, runs[1].RunID)
	}
}

func TestGetRunNotFound(t *testing.T) {
	s := tempDB(t)
	if _, err := s.GetRun("nonexistent-id"); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestListEpisodesEmptyRun(t *testing.T) {
	s := tempDB(t)
	rec, err := s.BeginRun("d.csv", testConfig{})
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	eps, err := s.ListEpisodes(rec.RunID)
	if err != nil {
		t.Fatalf("ListEpisodes: %v", err)
	}
	if len(eps) != 0 {
		t.Fatalf("expected no episodes, got %d", len(eps))
	}
}

func TestOperationsOnClosedDB(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	rec, err := s.BeginRun("d.csv", testConfig{})
	if err != nil {
		t.Fatalf("BeginRun: %v", err)
	}
	s.Close()

	if _, err := s.BeginRun("d.csv", testConfig{}); err == nil {
		t.Error("BeginRun on closed DB should fail")
	}
	if err := s.RecordEpisode(rec.RunID, EpisodeRecord{Episode: 1}); err == nil {
		t.Error("RecordEpisode on closed DB should fail")
	}
	if err := s.FinishRun(rec.RunID, StatusFinished); err == nil {
		t.Error("FinishRun on closed DB should fail")
	}
	if _, err := s.ListRuns(10); err == nil {
		t.Error("ListRuns on closed DB should fail")
	}
}

func TestOpenInvalidPath(t *testing.T) {
	_, err := Open(filepath.Join(string(os.PathSeparator), "nonexistent", "deep", "path", "test.db"))
	if err == nil {
		t.Fatal("expected error for invalid path")
	}
}
