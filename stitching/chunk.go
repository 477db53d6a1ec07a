package stitching

import (
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// ChunkedRecord is a Record assigned to a chunk.
type ChunkedRecord struct {
	Record
	Chunk int
}

// ChunkInfo summarizes one chunk of one ensemble member: its year span, central year,
// mean value (Fx) and least-squares slope (Dx). Archive entries use the same shape.
type ChunkInfo struct {
	Variable   string
	Experiment string
	Ensemble   string
	Model      string
	Chunk      int
	StartYear  int
	EndYear    int
	Year       int
	Fx         float64
	Dx         float64
}

// Span is the number of years covered by the chunk.
func (c ChunkInfo) Span() int { return c.EndYear - c.StartYear + 1 }

type memberKey struct {
	Variable, Experiment, Ensemble, Model string
}

func (r Record) member() memberKey {
	return memberKey{r.Variable, r.Experiment, r.Ensemble, r.Model}
}

// ChunkSeries cuts every member of records into chunks.
//
// Within a member, records are ordered by year and must cover contiguous years. The
// first opts.BaseIndex years are skipped; chunk k then covers rows
// BaseIndex+k*Size .. BaseIndex+(k+1)*Size-1. A trailing partial chunk is dropped, so a
// member of N years yields floor((N-BaseIndex)/Size) chunks. A member yielding no chunk
// is an error.
func ChunkSeries(records []Record, opts ChunkOptions) ([]ChunkedRecord, error) {
	if opts.Size <= 0 {
		return nil, errors.Wrapf(ErrIncompatibleChunking, "chunk size %d", opts.Size)
	}
	if opts.BaseIndex < 0 {
		return nil, errors.Wrapf(ErrIncompatibleChunking, "base chunk index %d", opts.BaseIndex)
	}
	if len(records) == 0 {
		return nil, errors.Wrap(ErrIncompatibleChunking, "empty series")
	}

	order := make([]memberKey, 0, 4)
	groups := make(map[memberKey][]Record)
	for _, r := range records {
		k := r.member()
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	out := make([]ChunkedRecord, 0, len(records))
	for _, k := range order {
		rs := groups[k]
		sort.SliceStable(rs, func(i, j int) bool { return rs[i].Year < rs[j].Year })
		for i := 1; i < len(rs); i++ {
			if rs[i].Year != rs[i-1].Year+1 {
				return nil, errors.Wrapf(ErrIncompatibleChunking,
					"%s/%s/%s: years %d and %d are not contiguous", k.Model, k.Experiment, k.Ensemble, rs[i-1].Year, rs[i].Year)
			}
		}
		n := (len(rs) - opts.BaseIndex) / opts.Size
		if len(rs) < opts.BaseIndex || n == 0 {
			return nil, errors.Wrapf(ErrIncompatibleChunking,
				"%s/%s/%s: %d years cannot hold a %d-year chunk after skipping %d",
				k.Model, k.Experiment, k.Ensemble, len(rs), opts.Size, opts.BaseIndex)
		}
		for c := 0; c < n; c++ {
			start := opts.BaseIndex + c*opts.Size
			for _, r := range rs[start : start+opts.Size] {
				out = append(out, ChunkedRecord{Record: r, Chunk: c})
			}
		}
	}
	return out, nil
}

// SummarizeChunks reduces chunked records to one ChunkInfo per member and chunk, in
// input order.
func SummarizeChunks(chunked []ChunkedRecord) []ChunkInfo {
	type chunkKey struct {
		member memberKey
		chunk  int
	}
	order := make([]chunkKey, 0, len(chunked)/4+1)
	groups := make(map[chunkKey][]ChunkedRecord)
	for _, r := range chunked {
		k := chunkKey{r.member(), r.Chunk}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], r)
	}

	out := make([]ChunkInfo, 0, len(order))
	for _, k := range order {
		rs := groups[k]
		xs := make([]float64, len(rs))
		ys := make([]float64, len(rs))
		start, end := rs[0].Year, rs[0].Year
		for i, r := range rs {
			xs[i] = float64(r.Year)
			ys[i] = r.Value
			start = min(start, r.Year)
			end = max(end, r.Year)
		}
		var slope float64
		if len(rs) > 1 {
			_, slope = stat.LinearRegression(xs, ys, nil, false)
		}
		out = append(out, ChunkInfo{
			Variable:   k.member.Variable,
			Experiment: k.member.Experiment,
			Ensemble:   k.member.Ensemble,
			Model:      k.member.Model,
			Chunk:      k.chunk,
			StartYear:  start,
			EndYear:    end,
			Year:       (start + end) / 2,
			Fx:         stat.Mean(ys, nil),
			Dx:         slope,
		})
	}
	return out
}
