// Package segrep models segment replication checkpoints and the timers used
// to measure how far replicas lag behind them.
package segrep

import (
	"fmt"
	"sort"
	"time"
)

// FileMetadata describes one segment file of a checkpoint.
type FileMetadata struct {
	Length   int64
	Checksum string
}

// Checkpoint identifies a set of segments published by the primary.
type Checkpoint struct {
	ShardID             string
	PrimaryTerm         int64
	SegmentsGen         int64
	SegmentInfosVersion int64
	// Length is the total size in bytes of the checkpoint's files.
	Length    int64
	Codec     string
	Metadata  map[string]FileMetadata
	CreatedAt time.Time
}

// IsAheadOf returns true if c was published after other. A nil other is
// always behind.
func (c *Checkpoint) IsAheadOf(other *Checkpoint) bool {
	return other == nil || c.Compare(other) > 0
}

// Compare orders checkpoints by primary term and then by segment infos
// version.
func (c *Checkpoint) Compare(other *Checkpoint) int {
	switch {
	case c.PrimaryTerm < other.PrimaryTerm:
		return -1
	case c.PrimaryTerm > other.PrimaryTerm:
		return 1
	case c.SegmentInfosVersion < other.SegmentInfosVersion:
		return -1
	case c.SegmentInfosVersion > other.SegmentInfosVersion:
		return 1
	default:
		return 0
	}
}

// Diff returns the sorted names of the files of c that are missing from
// other or that differ from the file of the same name in other.
func (c *Checkpoint) Diff(other *Checkpoint) []string {
	var names []string
	for name, file := range c.Metadata {
		if other != nil {
			if theirs, ok := other.Metadata[name]; ok && theirs == file {
				continue
			}
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// BytesBehind returns the number of bytes a copy that sees visible still has
// to fetch to reach c.
func (c *Checkpoint) BytesBehind(visible *Checkpoint) int64 {
	var bytes int64
	for _, name := range c.Diff(visible) {
		bytes += c.Metadata[name].Length
	}
	return bytes
}

func (c *Checkpoint) String() string {
	return fmt.Sprintf("ReplicationCheckpoint{shardId=%s, primaryTerm=%d, segmentsGen=%d, version=%d, size=%d, codec=%s}",
		c.ShardID, c.PrimaryTerm, c.SegmentsGen, c.SegmentInfosVersion, c.Length, c.Codec)
}
