package modules

import (
	"archive/zip"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"plugin"
	"strings"

	"golang.org/x/crypto/blake2b"
)

const maxManifestSize = 1 << 20

// archive is the parsed content of one module file.
type archive struct {
	path     string
	resource string
	manifest Manifest
	checksum string

	// pluginEntry names the first *.so entry, empty when the archive has none.
	pluginEntry string
}

func readArchive(path string) (*archive, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	a := &archive{path: path}
	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
		if a.pluginEntry == "" && !f.FileInfo().IsDir() && strings.EqualFold(filepath.Ext(f.Name), ".so") {
			a.pluginEntry = f.Name
		}
	}

	for _, name := range ManifestNames {
		f, ok := entries[name]
		if !ok {
			continue
		}
		data, err := readEntry(f, maxManifestSize)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", name, err)
		}
		m, err := ParseManifest(name, data)
		if err != nil {
			return nil, err
		}
		a.manifest = m
		a.resource = name
		break
	}
	if a.resource == "" {
		return nil, ErrManifestNotFound
	}

	sum, err := checksum(path)
	if err != nil {
		return nil, err
	}
	a.checksum = sum
	return a, nil
}

func readEntry(f *zip.File, limit int64) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: larger than %d bytes", ErrManifestTooLarge, limit)
	}
	return data, nil
}

// checksum returns the hex BLAKE2b-256 digest of the file at path.
func checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	h, err := blake2b.New256(nil)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash archive: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// extractPlugin copies the archive's plugin entry into cacheDir, keyed by the
// archive checksum, and returns the extracted path. An existing copy is reused.
func extractPlugin(a *archive, cacheDir string) (string, error) {
	dir := filepath.Join(cacheDir, a.checksum[:16])
	dst := filepath.Join(dir, filepath.Base(a.pluginEntry))
	if _, err := os.Stat(dst); err == nil {
		return dst, nil
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create plugin cache: %w", err)
	}

	zr, err := zip.OpenReader(a.path)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != a.pluginEntry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", err
		}
		defer rc.Close()

		tmp, err := os.CreateTemp(dir, ".plugin-*")
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(tmp, rc); err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
			return "", fmt.Errorf("extract plugin: %w", err)
		}
		if err := tmp.Close(); err != nil {
			os.Remove(tmp.Name())
			return "", err
		}
		if err := os.Rename(tmp.Name(), dst); err != nil {
			os.Remove(tmp.Name())
			return "", err
		}
		return dst, nil
	}
	return "", fmt.Errorf("plugin entry %s vanished from %s", a.pluginEntry, a.path)
}

// pluginSource exposes a Go plugin's exported symbols to a Scope.
type pluginSource struct {
	p *plugin.Plugin
}

func (s pluginSource) Lookup(name string) (any, error) {
	sym, err := s.p.Lookup(name)
	if err != nil {
		return nil, err
	}
	return sym, nil
}

// openPlugin is replaced in tests.
var openPlugin = func(path string) (SymbolSource, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, err
	}
	return pluginSource{p: p}, nil
}
