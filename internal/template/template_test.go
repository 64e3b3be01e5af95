package template

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/normanking/lipsync/internal/viseme"
)

func TestLoad_RejectsEmptySequence(t *testing.T) {
	_, err := Load(map[viseme.Viseme][]Template{
		viseme.VisemeA: {{Frames: nil}},
	})
	if !errors.Is(err, ErrInvalidTemplate) {
		t.Errorf("expected ErrInvalidTemplate, got %v", err)
	}
}

func TestLoad_RejectsUnknownCategory(t *testing.T) {
	_, err := Load(map[viseme.Viseme][]Template{
		"XX": {{Frames: [][]float64{{1}}}},
	})
	if !errors.Is(err, ErrUnknownCategory) {
		t.Errorf("expected ErrUnknownCategory, got %v", err)
	}
}

func TestLoad_CopiesInput(t *testing.T) {
	frames := [][]float64{{1, 2, 3}}
	bank, err := Load(map[viseme.Viseme][]Template{
		viseme.VisemeA: {{Frames: frames}},
	})
	if err != nil {
		t.Fatal(err)
	}

	// mutating the caller's slices must not reach the bank
	frames[0][0] = 99
	if got := bank.Templates(viseme.VisemeA)[0].Frames[0][0]; got != 1 {
		t.Errorf("bank shares caller storage: got %v", got)
	}
}

func TestDefault_CoversAllCategories(t *testing.T) {
	bank := Default()
	if bank.Empty() {
		t.Fatal("default bank must not be empty")
	}
	for _, cat := range viseme.All() {
		if len(bank.Templates(cat)) == 0 {
			t.Errorf("default bank missing category %s", cat)
		}
	}
	for _, cat := range []viseme.Viseme{viseme.VisemeA, viseme.VisemeI, viseme.VisemeU, viseme.VisemeE, viseme.VisemeO} {
		if len(bank.Templates(cat)) < 2 {
			t.Errorf("expected at least two variants for %s", cat)
		}
	}
}

func TestBank_Categories_CanonicalOrder(t *testing.T) {
	bank := Default()
	cats := bank.Categories()
	if len(cats) != 6 {
		t.Fatalf("expected 6 categories, got %d", len(cats))
	}
	if cats[0] != viseme.VisemeA || cats[len(cats)-1] != viseme.Silence {
		t.Errorf("unexpected order: %v", cats)
	}
}

func TestLoadCalibrationFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "speaker.yaml")
	content := `visemes:
  A:
    - frames:
        - [18.0, -4.0, 3.0]
        - [19.0, -4.5, 3.2]
  silence:
    - frames:
        - [0.1, 0.0, 0.0]
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	bank, err := LoadCalibrationFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(bank.Templates(viseme.VisemeA)); got != 1 {
		t.Errorf("expected 1 A variant, got %d", got)
	}
	// category names are case-insensitive on disk
	if got := len(bank.Templates(viseme.Silence)); got != 1 {
		t.Errorf("expected 1 SILENCE variant, got %d", got)
	}
	if got := bank.Templates(viseme.VisemeA)[0].Frames[1][2]; got != 3.2 {
		t.Errorf("unexpected coefficient: %v", got)
	}
}

func TestLoadCalibrationDir_MergesVariants(t *testing.T) {
	dir := t.TempDir()
	a := `visemes:
  A:
    - frames:
        - [1.0, 2.0]
`
	b := `visemes:
  A:
    - frames:
        - [3.0, 4.0]
`
	if err := os.WriteFile(filepath.Join(dir, "01-base.yaml"), []byte(a), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "02-extra.yml"), []byte(b), 0644); err != nil {
		t.Fatal(err)
	}
	// non-calibration files are ignored
	if err := os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	bank, err := LoadCalibrationDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(bank.Templates(viseme.VisemeA)); got != 2 {
		t.Errorf("expected merged 2 variants, got %d", got)
	}
}

func TestLoadCalibrationFile_InvalidYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "broken.yaml")
	if err := os.WriteFile(path, []byte("visemes: ["), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadCalibrationFile(path); err == nil {
		t.Error("expected parse error")
	}
}
