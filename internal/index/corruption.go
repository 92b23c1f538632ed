package index

import "fmt"

// CorruptionKind classifies why a snapshot was rejected on load.
type CorruptionKind string

const (
	// CorruptionEmptySnapshot means the index snapshot file was zero-length.
	CorruptionEmptySnapshot CorruptionKind = "empty_snapshot"
	// CorruptionDecode means a snapshot file could not be decoded.
	CorruptionDecode CorruptionKind = "decode"
	// CorruptionMismatch means the index count and the mapping size disagree.
	CorruptionMismatch CorruptionKind = "count_mapping_mismatch"
)

// Corruption describes a snapshot that failed its consistency check on load.
// It is an expected outcome, not an error: the store archives the bad files
// and continues with an empty index.
type Corruption struct {
	Kind CorruptionKind
	// ArchivedPath is where the rejected index snapshot was moved.
	ArchivedPath string
	Detail       string
}

func (c *Corruption) String() string {
	return fmt.Sprintf("snapshot corrupted (%s): %s, archived at %s", c.Kind, c.Detail, c.ArchivedPath)
}
