package runfs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/82ndAirborneDiv/coolit.train/config"
)

func fixtureLayout(t *testing.T) *config.RunConfig {
	t.Helper()
	base := t.TempDir()
	for _, split := range []string{"train", "validation"} {
		for _, class := range []string{"tower", "notower"} {
			dir := filepath.Join(base, "towers", split, class)
			if err := os.MkdirAll(dir, 0o755); err != nil {
				t.Fatal(err)
			}
			if err := os.WriteFile(filepath.Join(dir, "img.jpg"), []byte("x"), 0o644); err != nil {
				t.Fatal(err)
			}
		}
	}
	return &config.RunConfig{
		ImgBaseDir:    base,
		ImgDir:        "towers",
		OutputBaseDir: filepath.Join(base, "output"),
	}
}

func TestDeriveCountsClasses(t *testing.T) {
	cfg := fixtureLayout(t)
	ctx, err := Derive(cfg)
	if err != nil {
		t.Fatalf("Derive: %v", err)
	}
	if ctx.TrainPos != 1 || ctx.TrainNeg != 1 || ctx.ValidPos != 1 || ctx.ValidNeg != 1 {
		t.Errorf("counts = %d/%d train, %d/%d valid; want 1/1, 1/1",
			ctx.TrainPos, ctx.TrainNeg, ctx.ValidPos, ctx.ValidNeg)
	}
	if !strings.HasSuffix(ctx.TrainDir, filepath.Join("towers", "train")) {
		t.Errorf("TrainDir = %s", ctx.TrainDir)
	}
}

func TestDeriveRejectsMissingClassFolder(t *testing.T) {
	cfg := fixtureLayout(t)
	if err := os.RemoveAll(filepath.Join(cfg.ImgBaseDir, "towers", "validation", "notower")); err != nil {
		t.Fatal(err)
	}
	if _, err := Derive(cfg); err == nil {
		t.Fatal("expected error for missing class subfolder")
	}
}

func TestProvisionCreatesRunTree(t *testing.T) {
	cfg := fixtureLayout(t)
	ctx, err := Derive(cfg)
	if err != nil {
		t.Fatal(err)
	}

	now := time.Date(2020, 5, 17, 10, 30, 9, 0, time.UTC)
	if err := ctx.Provision(cfg, now); err != nil {
		t.Fatalf("Provision: %v", err)
	}

	want := filepath.Join(cfg.OutputBaseDir, "2020-05-17", "models", "20200517-103009")
	if ctx.ModelDir != want {
		t.Errorf("ModelDir = %s, want %s", ctx.ModelDir, want)
	}
	info, err := os.Stat(ctx.ModelDir)
	if err != nil || !info.IsDir() {
		t.Fatalf("run directory not created: %v", err)
	}
}
