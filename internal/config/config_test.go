package config

import "testing"

func TestDefaultConfigIsValid(t *testing.T) {
	if result := GetDefaultConfig().Validate(); !result.Valid {
		t.Fatalf("default config should be valid, got errors: %v", result.Errors)
	}
}

func TestValidateCatchesBadBatchSize(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Batch.Size = 0
	result := cfg.Validate()
	if result.Valid {
		t.Fatal("expected batch.size=0 to be invalid")
	}
}

func TestValidateCatchesNegativeSkipThreshold(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Batch.SkipThreshold = -1
	result := cfg.Validate()
	if result.Valid {
		t.Fatal("expected negative skip_threshold to be invalid")
	}
}

func TestValidateCatchesEmptyDirs(t *testing.T) {
	cfg := GetDefaultConfig()
	cfg.Store.Dir = ""
	if cfg.Validate().Valid {
		t.Fatal("expected empty store.dir to be invalid")
	}

	cfg = GetDefaultConfig()
	cfg.Reports.Dir = ""
	if cfg.Validate().Valid {
		t.Fatal("expected empty reports.dir to be invalid")
	}
}
