package montage

import (
	"encoding/binary"
	"sort"
	"time"

	"github.com/zeebo/xxh3"
)

// TrackSnapshot is one track's clips, sorted by start time.
type TrackSnapshot struct {
	ID    int    `json:"id"`
	Clips []Clip `json:"clips"`
}

// TimelineSnapshot is a full, immutable serialization of a timeline at a
// given revision.
type TimelineSnapshot struct {
	ProjectID string          `json:"projectID"`
	Revision  int64           `json:"revision"`
	TakenAt   time.Time       `json:"takenAt"`
	Tracks    []TrackSnapshot `json:"tracks"`
	Checksum  uint64          `json:"checksum,string"`
}

// DurationMS is the total timeline duration derived from clip extents.
func (s TimelineSnapshot) DurationMS() int64 {
	var max int64
	for _, tr := range s.Tracks {
		for _, c := range tr.Clips {
			if end := c.End(); end > max {
				max = end
			}
		}
	}
	return max
}

// ComputeChecksum digests the canonical form of the snapshot: tracks by id,
// clips by (start, id), every field in a fixed order. Two replicas holding
// the same timeline state produce the same digest regardless of how they
// got there.
func (s TimelineSnapshot) ComputeChecksum() uint64 {
	h := xxh3.New()
	buf := make([]byte, 8)

	writeInt := func(v int64) {
		binary.LittleEndian.PutUint64(buf, uint64(v))
		_, _ = h.Write(buf)
	}
	writeStr := func(v string) {
		writeInt(int64(len(v)))
		_, _ = h.Write([]byte(v))
	}

	tracks := make([]TrackSnapshot, len(s.Tracks))
	copy(tracks, s.Tracks)
	sort.Slice(tracks, func(i, j int) bool { return tracks[i].ID < tracks[j].ID })

	writeInt(s.Revision)
	for _, tr := range tracks {
		clips := make([]Clip, len(tr.Clips))
		copy(clips, tr.Clips)
		sort.Slice(clips, func(i, j int) bool {
			if clips[i].Start != clips[j].Start {
				return clips[i].Start < clips[j].Start
			}
			return clips[i].ID < clips[j].ID
		})
		writeInt(int64(tr.ID))
		for _, c := range clips {
			writeStr(c.ID)
			writeStr(c.MediaRef)
			writeInt(int64(c.Track))
			writeInt(c.SourceIn)
			writeInt(c.SourceOut)
			writeInt(c.Start)
			if c.Transition != nil {
				writeStr(c.Transition.Kind)
				writeInt(c.Transition.DurationMS)
			} else {
				writeInt(-1)
			}
			if c.Overlay != nil {
				writeStr(c.Overlay.Text)
				writeInt(c.Overlay.OffsetMS)
				writeInt(c.Overlay.DurationMS)
			} else {
				writeInt(-1)
			}
		}
	}
	return h.Sum64()
}
