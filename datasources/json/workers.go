package json

import (
	"context"
	"fmt"
	"sync"

	"github.com/apache/arrow/go/v13/arrow"
	"github.com/apache/arrow/go/v13/arrow/array"
	"github.com/apache/arrow/go/v13/arrow/memory"
	"github.com/valyala/fastjson"
)

// job is a chunk of lines for the parser pool to turn into a single record.
type job struct {
	lines [][]byte

	// out has capacity 1, so workers never block on it.
	out chan jobResult
}

type jobResult struct {
	record arrow.Record
	err    error
}

// parserPool parses chunks of lines concurrently. Results are delivered on each job's own channel,
// which lets the reader keep them in file order.
type parserPool struct {
	jobs   chan job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func newParserPool(ctx context.Context, allocator memory.Allocator, schema *arrow.Schema, workerCount int) *parserPool {
	ctx, cancel := context.WithCancel(ctx)
	pool := &parserPool{
		jobs:   make(chan job, workerCount),
		cancel: cancel,
	}
	pool.wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer pool.wg.Done()
			var p fastjson.Parser

			for {
				var j job
				select {
				case j = <-pool.jobs:
				case <-ctx.Done():
					return
				}
				record, err := parseLines(&p, allocator, schema, j.lines)
				j.out <- jobResult{record: record, err: err}
			}
		}()
	}
	return pool
}

func parseLines(p *fastjson.Parser, allocator memory.Allocator, schema *arrow.Schema, lines [][]byte) (arrow.Record, error) {
	recordBuilder := array.NewRecordBuilder(allocator, schema)
	defer recordBuilder.Release()
	recordBuilder.Reserve(len(lines))

	readRecord, err := recordReader(schema, recordBuilder)
	if err != nil {
		return nil, err
	}
	for i := range lines {
		v, err := p.ParseBytes(lines[i])
		if err != nil {
			return nil, fmt.Errorf("couldn't parse json: %w", err)
		}
		if err := readRecord(v); err != nil {
			return nil, err
		}
	}
	return recordBuilder.NewRecord(), nil
}

// submit never blocks as long as at most workerCount jobs are outstanding.
func (pool *parserPool) submit(lines [][]byte) <-chan jobResult {
	out := make(chan jobResult, 1)
	pool.jobs <- job{lines: lines, out: out}
	return out
}

func (pool *parserPool) Close() {
	pool.cancel()
	pool.wg.Wait()
}
