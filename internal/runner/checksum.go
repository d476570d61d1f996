package runner

import (
	"crypto/md5" //nolint:gosec // change detection, not security
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"etl-catalog/internal/dataset"
	"etl-catalog/internal/domain"
	"etl-catalog/internal/pathfinder"
	"etl-catalog/internal/snapshot"
)

// stepChecksum fingerprints everything a step's output depends on: its URI,
// code revision, the checksums of its dependencies in DAG order and the
// bytes of its metadata override file.
func stepChecksum(uri, revision string, deps [][2]string, override []byte) string {
	h := md5.New() //nolint:gosec
	writeField(h, "uri", uri)
	writeField(h, "revision", revision)
	for _, d := range deps {
		writeField(h, "dep", d[0])
		writeField(h, "sum", d[1])
	}
	if override != nil {
		writeField(h, "override", string(override))
	}
	return hex.EncodeToString(h.Sum(nil))
}

func writeField(w io.Writer, key, value string) {
	_, _ = fmt.Fprintf(w, "%s:%d:%s;", key, len(value), value)
}

// checksumFor computes the checksum of step uri. Data dependencies planned
// in this run use the checksum computed for them; others use the one
// recorded in their index.json. Snapshots contribute their md5. Missing
// inputs contribute an empty sum and are reported later by Resolve.
func (r *Runner) checksumFor(uri string, step Step, planned map[string]string) (string, error) {
	deps := r.cfg.Graph.Dependencies(uri)
	sums := make([][2]string, 0, len(deps))
	for _, dep := range deps {
		u, err := domain.ParseURI(dep)
		if err != nil {
			return "", err
		}
		sum := ""
		switch {
		case u.IsSnapshot():
			if s, err := snapshot.Load(r.cfg.SnapshotDir, u); err == nil {
				sum = s.MD5()
			}
		default:
			if s, ok := planned[dep]; ok {
				sum = s
			} else if m, err := dataset.ReadMeta(pathfinder.DatasetDir(r.cfg.DataDir, u)); err == nil {
				sum = m.SourceChecksum
			}
		}
		sums = append(sums, [2]string{dep, sum})
	}

	u, err := domain.ParseURI(uri)
	if err != nil {
		return "", err
	}
	override, err := os.ReadFile(pathfinder.MetadataPath(r.cfg.StepsDir, u))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("read metadata override of %s: %w", uri, err)
	}
	return stepChecksum(uri, step.Revision, sums, override), nil
}
