// Package cache provides the WaveformCache boundary used when building
// template waveforms: an injected collaborator that may serve a previously
// fetched or preprocessed waveform instead of re-reading it from source.
// The cache key convention — a separator-joined component string, not a
// hash — follows the original MakeCacheKey.
package cache

import (
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/scdetect/scdetect-go/internal/seismic/model"
)

const keySeparator = "."

// WaveformCache is the collaborator boundary a detector's template-building
// step uses to avoid redundant waveform reads. Implementations may be
// in-memory, filesystem-backed, or backed by an external store; the core
// engine depends only on this interface.
type WaveformCache interface {
	Get(key string) (model.Record, bool)
	Set(key string, rec model.Record)
}

// Key builds the cache key for a waveform fetch, joining the stream
// identity, requested time window and (when processed data is being
// cached) a processing-config fingerprint — mirroring the original
// Cached::MakeCacheKey component-join convention. margin is added to the
// window bounds before joining when raw (unprocessed) data is cached and a
// filter is configured, so that a single raw fetch can serve every margin
// variant a filter might need.
func Key(streamID model.WaveformStreamID, window model.TimeWindow, margin time.Duration, filterString string, cacheProcessed bool) string {
	w := window
	if !cacheProcessed && filterString != "" {
		w.Start = w.Start.Add(-margin)
		w.End = w.End.Add(margin)
	}

	components := []string{
		streamID.NetworkCode,
		streamID.StationCode,
		streamID.LocationCode,
		streamID.ChannelCode,
		w.Start.UTC().Format(time.RFC3339Nano),
		w.End.UTC().Format(time.RFC3339Nano),
	}
	if cacheProcessed {
		components = append(components, strconv.Itoa(processingFingerprint(filterString)))
	}
	return strings.Join(components, keySeparator)
}

// processingFingerprint is a cheap stand-in for the original's
// std::hash<ProcessingConfig>; a FNV-1a hash of the filter string is
// sufficient to distinguish processed-cache entries built with different
// filters.
func processingFingerprint(filterString string) int {
	h := fnv.New32a()
	h.Write([]byte(filterString))
	return int(h.Sum32())
}

// InMemoryCache is a process-local WaveformCache backed by a map, mirroring
// InMemoryCache in the original implementation.
type InMemoryCache struct {
	entries map[string]model.Record
}

// NewInMemoryCache returns an empty InMemoryCache.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{entries: make(map[string]model.Record)}
}

func (c *InMemoryCache) Get(key string) (model.Record, bool) {
	rec, ok := c.entries[key]
	return rec, ok
}

func (c *InMemoryCache) Set(key string, rec model.Record) {
	c.entries[key] = rec
}
