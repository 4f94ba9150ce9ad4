package scan

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"convlint/internal/config"
	"convlint/internal/kernel"
	"convlint/internal/logging"
)

// SourceFile is one discovered source file.
type SourceFile struct {
	Path    string // workspace-relative, forward slashes
	AbsPath string
	Hash    string
	ModTime int64
	Size    int64
	IsTest  bool
}

// Result holds the outcome of a workspace scan.
type Result struct {
	Files     []SourceFile
	Skipped   int
	CacheHits int
	Duration  time.Duration
}

// Facts projects the scan into file_topology facts.
func (r *Result) Facts() []kernel.Fact {
	facts := make([]kernel.Fact, 0, len(r.Files))
	for _, f := range r.Files {
		isTest := "/false"
		if f.IsTest {
			isTest = "/true"
		}
		facts = append(facts, kernel.Fact{
			Predicate: "file_topology",
			Args:      []any{f.Path, f.Hash, "/csharp", f.ModTime, isTest},
		})
	}
	return facts
}

// Scanner walks a workspace and hashes matching source files.
type Scanner struct {
	cfg config.ScannerConfig
}

func NewScanner(cfg config.ScannerConfig) *Scanner {
	return &Scanner{cfg: cfg}
}

// hidden directories worth descending into. Everything else dotted is skipped.
var allowedHidden = map[string]bool{
	".github": true,
	".vscode": true,
	".config": true,
}

// ScanWorkspace walks root and returns every file matching the include
// patterns, hashing with a bounded worker pool.
func (s *Scanner) ScanWorkspace(root string) (*Result, error) {
	start := time.Now()
	cache := NewFileCache(root)
	defer cache.Save()

	result := &Result{}
	var mu sync.Mutex
	var wg sync.WaitGroup

	workers := s.cfg.Workers
	if workers <= 0 {
		workers = 8
	}
	sem := make(chan struct{}, workers)

	err := filepath.Walk(root, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, relErr := filepath.Rel(root, p)
		if relErr != nil {
			rel = p
		}
		rel = filepath.ToSlash(rel)

		if info.IsDir() {
			name := info.Name()
			if strings.HasPrefix(name, ".") && name != "." {
				if allowedHidden[name] || s.hiddenAllowed(name) {
					return nil
				}
				return filepath.SkipDir
			}
			if s.excluded(rel + "/") {
				return filepath.SkipDir
			}
			return nil
		}

		if !s.included(rel) || s.excluded(rel) {
			mu.Lock()
			result.Skipped++
			mu.Unlock()
			return nil
		}

		wg.Add(1)
		go func(abs, rel string, info os.FileInfo) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			hash, hit := cache.Get(abs, info)
			if !hit {
				h, err := hashFile(abs)
				if err != nil {
					logging.Scan("hash failed for %s: %v", rel, err)
					return
				}
				hash = h
				cache.Update(abs, info, hash)
			}

			sf := SourceFile{
				Path:    rel,
				AbsPath: abs,
				Hash:    hash,
				ModTime: info.ModTime().Unix(),
				Size:    info.Size(),
				IsTest:  IsTestFile(rel),
			}

			mu.Lock()
			result.Files = append(result.Files, sf)
			if hit {
				result.CacheHits++
			}
			mu.Unlock()
		}(p, rel, info)

		return nil
	})

	wg.Wait()
	result.Duration = time.Since(start)
	logging.Scan("scanned %s: %d files (%d cache hits, %d skipped) in %v",
		root, len(result.Files), result.CacheHits, result.Skipped, result.Duration)
	return result, err
}

func (s *Scanner) hiddenAllowed(name string) bool {
	for _, allowed := range s.cfg.HiddenAllowlist {
		if name == allowed {
			return true
		}
	}
	return false
}

// included reports whether rel matches any include pattern.
func (s *Scanner) included(rel string) bool {
	patterns := s.cfg.Include
	if len(patterns) == 0 {
		patterns = []string{"**/*.cs"}
	}
	for _, pat := range patterns {
		if matchGlob(pat, rel) {
			return true
		}
	}
	return false
}

func (s *Scanner) excluded(rel string) bool {
	for _, pat := range s.cfg.Exclude {
		if matchGlob(pat, rel) {
			return true
		}
	}
	return false
}

// matchGlob matches a pattern against a slash path. A "**" segment matches
// any number of path segments, which path.Match alone cannot express.
func matchGlob(pattern, rel string) bool {
	rel = strings.TrimSuffix(rel, "/")

	psegs := strings.Split(pattern, "/")
	rsegs := strings.Split(rel, "/")
	return matchSegs(psegs, rsegs)
}

func matchSegs(psegs, rsegs []string) bool {
	if len(psegs) == 0 {
		return len(rsegs) == 0
	}
	if psegs[0] == "**" {
		for i := 0; i <= len(rsegs); i++ {
			if matchSegs(psegs[1:], rsegs[i:]) {
				return true
			}
		}
		return false
	}
	if len(rsegs) == 0 {
		return false
	}
	ok, err := path.Match(psegs[0], rsegs[0])
	if err != nil || !ok {
		return false
	}
	return matchSegs(psegs[1:], rsegs[1:])
}

// IsTestFile reports whether a path looks like a C# test file.
func IsTestFile(rel string) bool {
	base := strings.TrimSuffix(path.Base(rel), path.Ext(rel))
	if strings.HasSuffix(base, "Test") || strings.HasSuffix(base, "Tests") ||
		strings.HasSuffix(base, "Spec") || strings.HasSuffix(base, "Fixture") {
		return true
	}
	for _, seg := range strings.Split(path.Dir(rel), "/") {
		switch seg {
		case "test", "tests", "Test", "Tests", "UnitTests", "IntegrationTests":
			return true
		}
		if strings.HasSuffix(seg, ".Tests") || strings.HasSuffix(seg, ".UnitTests") {
			return true
		}
	}
	return false
}

func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
