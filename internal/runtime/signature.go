package runtime

import (
	"fmt"
	"sort"
	"strings"

	"github.com/ekisa-team/igichat/internal/xfs"
)

// VerifySignatures checks every binary against its configured SHA-256 digest.
// binaries maps the configured binary name to its resolved path; checksums is
// keyed by the configured name.
func VerifySignatures(binaries, checksums map[string]string) error {
	names := make([]string, 0, len(binaries))
	for name := range binaries {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		want, ok := checksums[name]
		if !ok {
			return fmt.Errorf("no checksum configured for %s", name)
		}

		got, err := xfs.SHA256(binaries[name])
		if err != nil {
			return err
		}

		if !strings.EqualFold(got, strings.TrimSpace(want)) {
			return fmt.Errorf("signature mismatch for %s", name)
		}
	}
	return nil
}
