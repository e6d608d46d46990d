package recording

import (
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FrameSummary describes one frame's envelope fields without decoding its
// body, since an inspection tool generally does not know the body's
// concrete type. Grounded on the host application's replay_player tool,
// which likewise dumped frame metadata as structured records for operators.
type FrameSummary struct {
	Id             uint64            `json:"id"`
	Timestamp      time.Time         `json:"timestamp"`
	CorrelationId  int64             `json:"correlation_id"`
	InceptionTicks time.Time         `json:"inception_ticks"`
	TagA           int64             `json:"tag_a"`
	Key            string            `json:"key,omitempty"`
	HasKey         bool              `json:"has_key"`
	From           string            `json:"from,omitempty"`
	HasFrom        bool              `json:"has_from"`
	BodyLen        int               `json:"body_len"`
	Serializer     SerializerVersion `json:"serializer"`
}

// DumpFrames reads every frame from r and invokes visit with a summary of
// each, in file order. It stops at the first decode error that isn't a
// clean end-of-stream.
func DumpFrames(r io.Reader, visit func(FrameSummary) error) error {
	for {
		frame, err := decodeFrame(r)
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		summary := FrameSummary{
			Id:             frame.envelope.Id,
			Timestamp:      frame.envelope.Timestamp,
			CorrelationId:  frame.envelope.CorrelationId,
			InceptionTicks: frame.envelope.InceptionTicks,
			TagA:           frame.envelope.TagA,
			Key:            frame.envelope.Key,
			HasKey:         frame.envelope.HasKey,
			From:           frame.envelope.From,
			HasFrom:        frame.envelope.HasFrom,
			BodyLen:        len(frame.body),
			Serializer:     frame.version,
		}
		if err := visit(summary); err != nil {
			return err
		}
	}
}

// BundleSummary describes one recording bundle discovered by ListBundles: a
// frame file plus whichever sidecars (sparse index, metadata) sit next to
// it under the same basename.
type BundleSummary struct {
	Path       string     `json:"path"`
	IndexPath  string     `json:"index_path,omitempty"`
	MetaPath   string     `json:"meta_path,omitempty"`
	Metadata   *Metadata  `json:"metadata,omitempty"`
	FrameCount int        `json:"frame_count"`
	FirstFrame *time.Time `json:"first_frame,omitempty"`
	LastFrame  *time.Time `json:"last_frame,omitempty"`
	Bytes      int64      `json:"bytes"`
}

// ListBundles walks root and groups recording artefacts by basename the
// same way Cleaner does, then summarises each bundle by walking its frames.
// Grounded on the host application's replay_catalog tool, adapted from a
// directory-of-headers scan to a directory-of-frame-files scan.
func ListBundles(root string) ([]BundleSummary, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("inspect: root directory must be provided")
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("inspect: %s is not a directory", root)
	}

	type group struct {
		frame string
		index string
		meta  string
		size  int64
	}
	groups := make(map[string]*group)

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		switch {
		case strings.HasSuffix(name, ".meta.json"):
			base := strings.TrimSuffix(path, ".meta.json")
			g := groups[base]
			if g == nil {
				g = &group{}
				groups[base] = g
			}
			g.meta = path
		case strings.HasSuffix(name, ".index"):
			base := strings.TrimSuffix(path, ".index")
			g := groups[base]
			if g == nil {
				g = &group{}
				groups[base] = g
			}
			g.index = path
		default:
			g := groups[path]
			if g == nil {
				g = &group{}
				groups[path] = g
			}
			g.frame = path
			if fi, err := d.Info(); err == nil {
				g.size += fi.Size()
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var summaries []BundleSummary
	for base, g := range groups {
		if g.frame == "" {
			continue
		}
		summary := BundleSummary{Path: g.frame, IndexPath: g.index, MetaPath: g.meta, Bytes: g.size}
		if g.meta != "" {
			if meta, err := ReadMetadata(g.meta); err == nil {
				summary.Metadata = &meta
			}
		}
		if err := summariseFrameFile(g.frame, &summary); err != nil {
			return nil, fmt.Errorf("inspect: %s: %w", base, err)
		}
		summaries = append(summaries, summary)
	}

	sort.Slice(summaries, func(i, j int) bool { return summaries[i].Path < summaries[j].Path })
	return summaries, nil
}

func summariseFrameFile(path string, summary *BundleSummary) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return DumpFrames(file, func(frame FrameSummary) error {
		summary.FrameCount++
		if summary.FirstFrame == nil {
			ts := frame.Timestamp
			summary.FirstFrame = &ts
		}
		ts := frame.Timestamp
		summary.LastFrame = &ts
		return nil
	})
}
