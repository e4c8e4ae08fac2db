// Package verify implements the verify engine (C11): a manifest-driven
// presence and size audit of each backup directory. It never re-hashes
// files — that work was already done at copy time — and instead focuses
// on detecting loss or tampering since the last successful run, per
// spec.md §4.11.
package verify

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/qbak-io/backupd/internal/cryptocodec"
	"github.com/qbak-io/backupd/internal/manifest"
)

// maxIssueLines bounds how many per-directory issue lines the report
// surfaces, so a badly degraded destination does not flood the output.
const maxIssueLines = 20

// Counters accumulates verify outcomes for one directory or the whole run.
type Counters struct {
	Verified  int
	Missing   int
	Corrupted int
	Errors    int
}

func (c *Counters) add(other Counters) {
	c.Verified += other.Verified
	c.Missing += other.Missing
	c.Corrupted += other.Corrupted
	c.Errors += other.Errors
}

// DirReport is the verify outcome for a single backup directory.
type DirReport struct {
	Dir      string
	Counters Counters
	Issues   []string
}

// Report is the aggregate outcome across every directory verified.
type Report struct {
	Overall Counters
	Dirs    []DirReport
}

// Run verifies every directory in dirs, optionally decrypting .enc
// stand-ins for a missing plaintext file when cred is non-nil.
func Run(dirs []string, cred *cryptocodec.Credential) (Report, error) {
	var report Report

	for _, dir := range dirs {
		dirReport, err := verifyDir(dir, cred)
		if err != nil {
			return report, err
		}
		report.Overall.add(dirReport.Counters)
		report.Dirs = append(report.Dirs, dirReport)
	}
	return report, nil
}

func verifyDir(dir string, cred *cryptocodec.Credential) (DirReport, error) {
	report := DirReport{Dir: dir}

	doc, err := manifest.LoadLatest(dir)
	if err != nil {
		return report, fmt.Errorf("verify: load manifest for %s: %w", dir, err)
	}
	if doc == nil {
		return probeReadability(dir)
	}

	for _, entry := range doc.Copied {
		verifyEntry(dir, entry, cred, &report)
	}
	return report, nil
}

func verifyEntry(dir string, entry manifest.CopiedEntry, cred *cryptocodec.Credential, report *DirReport) {
	path, err := findByBasename(dir, entry.Path)
	if err != nil {
		report.Counters.Errors++
		addIssue(report, fmt.Sprintf("%s: search failed: %v", entry.Path, err))
		return
	}

	if path != "" {
		info, err := os.Stat(path)
		if err != nil {
			report.Counters.Errors++
			addIssue(report, fmt.Sprintf("%s: stat failed: %v", entry.Path, err))
			return
		}
		if info.Size() != entry.Size {
			report.Counters.Corrupted++
			addIssue(report, fmt.Sprintf("%s: size mismatch (manifest %d, found %d)", entry.Path, entry.Size, info.Size()))
			return
		}
		report.Counters.Verified++
		return
	}

	encPath, err := findByBasename(dir, entry.Path+cryptocodec.EncryptedSuffix)
	if err != nil {
		report.Counters.Errors++
		addIssue(report, fmt.Sprintf("%s: search failed: %v", entry.Path, err))
		return
	}
	if encPath == "" {
		report.Counters.Missing++
		addIssue(report, fmt.Sprintf("%s: missing", entry.Path))
		return
	}

	if cred == nil {
		report.Counters.Missing++
		addIssue(report, fmt.Sprintf("%s: only an encrypted copy exists and no credential was supplied", entry.Path))
		return
	}

	size, err := decryptedSize(encPath, *cred)
	if err != nil {
		report.Counters.Corrupted++
		addIssue(report, fmt.Sprintf("%s: decrypt failed: %v", entry.Path, err))
		return
	}
	if size != entry.Size {
		report.Counters.Corrupted++
		addIssue(report, fmt.Sprintf("%s: decrypted size mismatch (manifest %d, found %d)", entry.Path, entry.Size, size))
		return
	}
	report.Counters.Verified++
}

func decryptedSize(encPath string, cred cryptocodec.Credential) (int64, error) {
	scratch, err := os.MkdirTemp("", "backupd-verify-*")
	if err != nil {
		return 0, err
	}
	defer os.RemoveAll(scratch)

	dstPath := filepath.Join(scratch, "decrypted")
	if err := cryptocodec.DecryptFile(encPath, dstPath, cred); err != nil {
		return 0, err
	}
	info, err := os.Stat(dstPath)
	if err != nil {
		return 0, err
	}
	return info.Size(), nil
}

// probeReadability is the fallback when a directory has no manifest: it
// walks the tree and counts every regular, non-manifest file it can open
// as verified, and every one it cannot as an error.
func probeReadability(dir string) (DirReport, error) {
	report := DirReport{Dir: dir}

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		if manifest.IsManifestFile(info.Name()) {
			return nil
		}

		f, openErr := os.Open(path)
		if openErr != nil {
			report.Counters.Errors++
			addIssue(&report, fmt.Sprintf("%s: unreadable: %v", path, openErr))
			return nil
		}
		f.Close()
		report.Counters.Verified++
		return nil
	})
	return report, err
}

func addIssue(report *DirReport, line string) {
	if len(report.Issues) >= maxIssueLines {
		return
	}
	report.Issues = append(report.Issues, line)
}

// findByBasename searches dir for a file whose basename equals
// path.Base(relPath), preferring an exact relative-path match.
func findByBasename(dir, relPath string) (string, error) {
	exact := filepath.Join(dir, filepath.FromSlash(relPath))
	if _, err := os.Stat(exact); err == nil {
		return exact, nil
	}

	base := filepath.Base(relPath)
	var found string
	err := filepath.Walk(dir, func(p string, info os.FileInfo, err error) error {
		if err != nil || found != "" {
			return nil
		}
		if !info.IsDir() && filepath.Base(p) == base {
			found = p
		}
		return nil
	})
	return found, err
}
