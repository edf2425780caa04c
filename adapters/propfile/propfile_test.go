package propfile_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/artpar/modkernel/adapters/propfile"
)

func TestOpen_CreatesMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modules", "modules.properties")

	s, err := propfile.Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("store file not created: %v", err)
	}
	if len(s.All()) != 0 {
		t.Errorf("All() = %v, want empty", s.All())
	}
}

func TestOpen_ReadsExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modules.properties")
	content := "# comment\nmodule.Shop.1.0.acme.exclude=true\nprompt = Warehouse ${HOME}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s, err := propfile.Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	if v, ok := s.Get("module.Shop.1.0.acme.exclude"); !ok || v != "true" {
		t.Errorf("Get exclude = %q, %v", v, ok)
	}
	if v, _ := s.Get("prompt"); v != "Warehouse ${HOME}" {
		t.Errorf("Get prompt = %q, want the unexpanded value", v)
	}
}

func TestSet_WritesThrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "modules.properties")

	s, err := propfile.Open(path)
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := s.Set("module.Core.2.0.acme.exclude", "true"); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(data), "module.Core.2.0.acme.exclude = true") {
		t.Errorf("file does not contain the new key:\n%s", data)
	}

	reopened, err := propfile.Open(path)
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	if v, ok := reopened.Get("module.Core.2.0.acme.exclude"); !ok || v != "true" {
		t.Errorf("after reopen Get = %q, %v", v, ok)
	}
}

func TestSet_Overwrite(t *testing.T) {
	s, err := propfile.Open(filepath.Join(t.TempDir(), "modules.properties"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}

	for _, v := range []string{"true", "false"} {
		if err := s.Set("k", v); err != nil {
			t.Fatalf("Set(%s) error: %v", v, err)
		}
	}
	if v, _ := s.Get("k"); v != "false" {
		t.Errorf("Get = %q, want false", v)
	}
	if n := len(s.All()); n != 1 {
		t.Errorf("len(All()) = %d, want 1", n)
	}
}

func TestAll_ReturnsCopy(t *testing.T) {
	s, err := propfile.Open(filepath.Join(t.TempDir(), "modules.properties"))
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	if err := s.Set("k", "v"); err != nil {
		t.Fatalf("Set error: %v", err)
	}

	all := s.All()
	all["k"] = "changed"

	if v, _ := s.Get("k"); v != "v" {
		t.Errorf("store mutated through All(): %q", v)
	}
}
