package storage

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MrCodeEU/facegate/pkg/biometric"
)

func testTemplate(seed int) biometric.Template {
	tmpl := make(biometric.Template, biometric.Dimension)
	for i := range tmpl {
		tmpl[i] = float32((i*seed)%31) / 31
	}
	return tmpl
}

func TestNewFileStorage(t *testing.T) {
	tmpDir := t.TempDir()

	for _, encryption := range []bool{false, true} {
		dir := filepath.Join(tmpDir, "templates", map[bool]string{false: "plain", true: "sealed"}[encryption])
		fs, err := NewFileStorage(dir, encryption)
		if err != nil {
			t.Fatalf("NewFileStorage(encryption=%v) failed: %v", encryption, err)
		}
		if fs == nil {
			t.Fatal("NewFileStorage returned nil")
		}
		if _, err := os.Stat(dir); os.IsNotExist(err) {
			t.Error("template directory was not created")
		}
	}
}

func TestFileStorage_SaveAndLoad(t *testing.T) {
	for _, encryption := range []bool{false, true} {
		t.Run(map[bool]string{false: "plain", true: "encrypted"}[encryption], func(t *testing.T) {
			fs, err := NewFileStorage(t.TempDir(), encryption)
			if err != nil {
				t.Fatalf("failed to create storage: %v", err)
			}

			want := testTemplate(7)
			path, err := fs.SaveTemplate("alice@example.com", ModalityFace, want)
			if err != nil {
				t.Fatalf("SaveTemplate failed: %v", err)
			}
			if path != fs.TemplatePath("alice@example.com", ModalityFace) {
				t.Errorf("unexpected path %s", path)
			}

			got, err := fs.LoadTemplate("alice@example.com", ModalityFace)
			if err != nil {
				t.Fatalf("LoadTemplate failed: %v", err)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("value %d mismatch: got %f, want %f", i, got[i], want[i])
				}
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				t.Fatalf("failed to read template file: %v", err)
			}
			plainSize := 4 * biometric.Dimension
			if encryption && len(raw) == plainSize {
				t.Error("file does not appear to be encrypted")
			}
			if !encryption && len(raw) != plainSize {
				t.Errorf("expected %d raw bytes, got %d", plainSize, len(raw))
			}
		})
	}
}

func TestFileStorage_SaveOverwrites(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), true)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	if _, err := fs.SaveTemplate("bob", ModalityFace, testTemplate(3)); err != nil {
		t.Fatalf("first save failed: %v", err)
	}
	second := testTemplate(11)
	if _, err := fs.SaveTemplate("bob", ModalityFace, second); err != nil {
		t.Fatalf("second save failed: %v", err)
	}

	got, err := fs.LoadTemplate("bob", ModalityFace)
	if err != nil {
		t.Fatalf("LoadTemplate failed: %v", err)
	}
	if got[5] != second[5] {
		t.Error("re-enrollment did not replace the stored template")
	}

	entries, _ := os.ReadDir(filepath.Dir(fs.TemplatePath("bob", ModalityFace)))
	if len(entries) != 1 {
		t.Errorf("expected exactly one file after overwrite, got %d", len(entries))
	}
}

func TestFileStorage_SaveRejectsWrongLength(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), false)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}
	if _, err := fs.SaveTemplate("carol", ModalityFace, biometric.Template{1, 2, 3}); err == nil {
		t.Error("expected error for short template")
	}
}

func TestFileStorage_LoadNotFound(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), false)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	if _, err := fs.LoadTemplate("nobody", ModalityFace); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound, got %v", err)
	}
}

func TestFileStorage_LoadCorrupt(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), false)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	path := fs.TemplatePath("dave", ModalityFace)
	if err := os.WriteFile(path, []byte("short"), 0600); err != nil {
		t.Fatalf("failed to write corrupt file: %v", err)
	}
	if _, err := fs.LoadTemplate("dave", ModalityFace); !errors.Is(err, ErrCorruptTemplate) {
		t.Errorf("expected ErrCorruptTemplate, got %v", err)
	}
}

func TestFileStorage_TamperedCiphertext(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), true)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	path, err := fs.SaveTemplate("erin", ModalityFace, testTemplate(5))
	if err != nil {
		t.Fatalf("SaveTemplate failed: %v", err)
	}
	raw, _ := os.ReadFile(path)
	raw[len(raw)-1] ^= 0xFF
	if err := os.WriteFile(path, raw, 0600); err != nil {
		t.Fatalf("failed to tamper file: %v", err)
	}

	if _, err := fs.LoadTemplate("erin", ModalityFace); !errors.Is(err, ErrEncryption) {
		t.Errorf("expected ErrEncryption, got %v", err)
	}
}

func TestFileStorage_Delete(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), false)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	if _, err := fs.SaveTemplate("frank", ModalityFace, testTemplate(2)); err != nil {
		t.Fatalf("SaveTemplate failed: %v", err)
	}
	if !fs.Exists("frank", ModalityFace) {
		t.Fatal("template should exist after save")
	}
	if err := fs.DeleteTemplate("frank", ModalityFace); err != nil {
		t.Fatalf("DeleteTemplate failed: %v", err)
	}
	if fs.Exists("frank", ModalityFace) {
		t.Error("template should not exist after delete")
	}
	if err := fs.DeleteTemplate("frank", ModalityFace); !errors.Is(err, ErrTemplateNotFound) {
		t.Errorf("expected ErrTemplateNotFound on second delete, got %v", err)
	}
}

func TestFileStorage_TemplatePath(t *testing.T) {
	fs, err := NewFileStorage(t.TempDir(), false)
	if err != nil {
		t.Fatalf("failed to create storage: %v", err)
	}

	a := fs.TemplatePath("a.b@x.com", ModalityFace)
	b := fs.TemplatePath("a_b@x.com", ModalityFace)
	if a == b {
		t.Error("identities that sanitize alike must not share a file")
	}

	name := filepath.Base(a)
	if !strings.HasPrefix(name, "face_a_b_x_com_") || !strings.HasSuffix(name, ".tpl") {
		t.Errorf("unexpected file name %s", name)
	}
	if strings.ContainsAny(name, "@/") {
		t.Errorf("file name contains unsafe characters: %s", name)
	}
}

func BenchmarkFileStorage_SaveLoad(b *testing.B) {
	fs, err := NewFileStorage(b.TempDir(), true)
	if err != nil {
		b.Fatalf("failed to create storage: %v", err)
	}
	tmpl := testTemplate(9)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _ = fs.SaveTemplate("bench", ModalityFace, tmpl)
		_, _ = fs.LoadTemplate("bench", ModalityFace)
	}
}
