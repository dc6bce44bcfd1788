package config

import "testing"

func TestDefaultIsUsable(t *testing.T) {
	cfg := Default()
	if cfg.Job.WorkersPerProcess < 1 {
		t.Fatal("expected at least one worker by default")
	}
	if cfg.Job.BatchSize <= 0 || cfg.Job.ScopeCapacity <= 0 {
		t.Fatal("expected positive batch size and scope capacity defaults")
	}
	if len(cfg.Log.Outputs) == 0 {
		t.Fatal("expected a default log output")
	}
}

func TestLoadWithoutFileReturnsDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Job.TotalMemoryMB != Default().Job.TotalMemoryMB {
		t.Fatal("expected default total memory when no file is given")
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load("/nonexistent/pegasus.yaml"); err == nil {
		t.Fatal("expected an error reading a missing config file")
	}
}
