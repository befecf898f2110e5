package gitadapter

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/antgroup/wisp/internal/werr"
)

// Plain filesystem reads/writes of real Git refs under gitDir, grounded on
// the original pkg/zeta/odb.SpecReferenceUpdate lock-then-rename pattern
// (tmp file in the same directory, then atomic rename) rather than on
// modules/git's update-ref/rev-parse helpers, which shell out to a `git`
// binary this adapter never requires.

const symrefPrefix = "ref: "

// readGitRef reads one ref file directly (no packed-refs fallback),
// returning either its target sha (hashRef, symbolic=="") or the ref name it
// points at (symbolic!="").
func readGitRef(gitDir, name string) (target, symbolic string, err error) {
	data, err := os.ReadFile(filepath.Join(gitDir, name))
	if os.IsNotExist(err) {
		return "", "", werr.NotFound("gitadapter.readGitRef", err)
	}
	if err != nil {
		return "", "", werr.IO("gitadapter.readGitRef", err)
	}
	line := strings.TrimSpace(string(data))
	if strings.HasPrefix(line, symrefPrefix) {
		return "", strings.TrimSpace(strings.TrimPrefix(line, symrefPrefix)), nil
	}
	return line, "", nil
}

// readPackedRefs parses gitDir/packed-refs: lines are "<sha> <refname>",
// with a leading "#" comment line and "^<sha>" peeled-tag lines ignored.
func readPackedRefs(gitDir string) (map[string]string, error) {
	f, err := os.Open(filepath.Join(gitDir, "packed-refs"))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, werr.IO("gitadapter.readPackedRefs", err)
	}
	defer f.Close()
	out := map[string]string{}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "^") {
			continue
		}
		sha, name, ok := strings.Cut(line, " ")
		if !ok {
			continue
		}
		out[name] = sha
	}
	if err := scanner.Err(); err != nil {
		return nil, werr.IO("gitadapter.readPackedRefs", err)
	}
	return out, nil
}

// resolveGitRefSHA resolves name to a commit sha, checking the loose ref
// first and falling back to packed-refs, matching Git's own precedence.
// Returns ok=false for a ref that does not exist anywhere (an unborn
// branch, for instance).
func resolveGitRefSHA(gitDir, name string) (sha string, ok bool, err error) {
	target, symbolic, rerr := readGitRef(gitDir, name)
	if rerr == nil {
		if symbolic != "" {
			return resolveGitRefSHA(gitDir, symbolic)
		}
		return target, true, nil
	}
	if !werr.Is(rerr, werr.KindNotFound) {
		return "", false, rerr
	}
	packed, perr := readPackedRefs(gitDir)
	if perr != nil {
		return "", false, perr
	}
	sha, ok = packed[name]
	return sha, ok, nil
}

// listLooseRefNames walks gitDir/prefix (e.g. "refs/heads") collecting every
// regular file found as a full ref name ("refs/heads/main"). Missing
// directories (no refs of that kind yet) are not an error.
func listLooseRefNames(gitDir, prefix string) ([]string, error) {
	root := filepath.Join(gitDir, prefix)
	var out []string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			if os.IsNotExist(err) && path == root {
				return filepath.SkipDir
			}
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, rerr := filepath.Rel(gitDir, path)
		if rerr != nil {
			return rerr
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil && !os.IsNotExist(err) {
		return nil, werr.IO("gitadapter.listLooseRefNames", err)
	}
	return out, nil
}

// listRefNames merges loose and packed ref names under prefix, loose taking
// precedence (Git's own rule) when the same name appears in both.
func listRefNames(gitDir, prefix string) ([]string, error) {
	loose, err := listLooseRefNames(gitDir, prefix)
	if err != nil {
		return nil, err
	}
	seen := map[string]struct{}{}
	out := append([]string(nil), loose...)
	for _, n := range loose {
		seen[n] = struct{}{}
	}
	packed, err := readPackedRefs(gitDir)
	if err != nil {
		return nil, err
	}
	for name := range packed {
		if !strings.HasPrefix(name, prefix+"/") {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		out = append(out, name)
	}
	return out, nil
}

// writeGitRefFile atomically writes content to gitDir/name via a
// tmp-file-then-rename in the same directory, mirroring mapping.go's
// saveLocked and the original SpecReferenceUpdate.
func writeGitRefFile(gitDir, name, content string) error {
	dest := filepath.Join(gitDir, name)
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return werr.IO("gitadapter.writeGitRefFile", err)
	}
	tmp := dest + ".lock"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return werr.IO("gitadapter.writeGitRefFile", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		return werr.IO("gitadapter.writeGitRefFile", err)
	}
	return nil
}

func writeGitRef(gitDir, name, sha string) error {
	return writeGitRefFile(gitDir, name, sha+"\n")
}

func writeSymbolicGitRef(gitDir, name, targetRef string) error {
	return writeGitRefFile(gitDir, name, symrefPrefix+targetRef+"\n")
}

func deleteGitRef(gitDir, name string) error {
	err := os.Remove(filepath.Join(gitDir, name))
	if err != nil && !os.IsNotExist(err) {
		return werr.IO("gitadapter.deleteGitRef", err)
	}
	return nil
}
