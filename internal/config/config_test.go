package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.GameName != "Chess" {
		t.Errorf("GameName = %q, want Chess", cfg.GameName)
	}
	if cfg.NElimination != 3 || cfg.BestOf != 7 {
		t.Errorf("bracket defaults = N%d/Bo%d, want N3/Bo7", cfg.NElimination, cfg.BestOf)
	}
	if !cfg.ReuseOldGames {
		t.Error("ReuseOldGames should default to true")
	}
	if cfg.RunForever {
		t.Error("RunForever should default to false")
	}
	if cfg.RedisURL != "" || cfg.StatusPort != "" {
		t.Error("optional observability should default to disabled")
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("GAME_NAME", "Checkers")
	t.Setenv("N_ELIMINATION", "1")
	t.Setenv("BEST_OF", "3")
	t.Setenv("RUN_FOREVER", "true")
	t.Setenv("MATCH_TIMEOUT", "120")

	cfg := Load()
	if cfg.GameName != "Checkers" {
		t.Errorf("GameName = %q", cfg.GameName)
	}
	if cfg.NElimination != 1 || cfg.BestOf != 3 {
		t.Errorf("bracket = N%d/Bo%d, want N1/Bo3", cfg.NElimination, cfg.BestOf)
	}
	if !cfg.RunForever {
		t.Error("RunForever override not applied")
	}
	if cfg.MatchTimeout != 120 {
		t.Errorf("MatchTimeout = %d, want 120", cfg.MatchTimeout)
	}
}

func TestLoadIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("BEST_OF", "seven")
	cfg := Load()
	if cfg.BestOf != 7 {
		t.Errorf("BestOf = %d, want default 7 on malformed value", cfg.BestOf)
	}
}

func TestDatabaseURL(t *testing.T) {
	cfg := &Config{DBUser: "arena", DBPass: "pw", DBHost: "db", DBPort: "5432", DBName: "siggame"}
	want := "postgres://arena:pw@db:5432/siggame?sslmode=disable&connect_timeout=10"
	if got := cfg.DatabaseURL(); got != want {
		t.Errorf("DatabaseURL = %q, want %q", got, want)
	}
}
