package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"regexp"
	"strconv"
	"strings"

	"github.com/itchyny/gojq"
	stream "github.com/joeycumines/go-stream"
	"golang.org/x/time/rate"
)

const (
	stageUpper  = "upper"
	stageLower  = "lower"
	stagePrefix = "prefix"
	stageSuffix = "suffix"
	stageGrep   = "grep"
	stageNumber = "number"
	stageHead   = "head"
	stageJQ     = "jq"
	stageRate   = "rate"
)

// lineSplitter splits byte chunks into lines, without the line terminator.
// A trailing partial line is emitted on flush.
type lineSplitter struct {
	partial []byte
}

var _ stream.Flusher[string] = (*lineSplitter)(nil)

func (x *lineSplitter) Transform(chunk []byte, push func(string) bool, cb func(error)) {
	for {
		i := bytes.IndexByte(chunk, '\n')
		if i < 0 {
			break
		}
		line := chunk[:i]
		if len(x.partial) != 0 {
			line = append(x.partial, line...)
			x.partial = nil
		}
		push(string(bytes.TrimSuffix(line, []byte{'\r'})))
		chunk = chunk[i+1:]
	}
	x.partial = append(x.partial, chunk...)
	cb(nil)
}

func (x *lineSplitter) Flush(push func(string) bool, cb func(error)) {
	if len(x.partial) != 0 {
		push(string(x.partial))
		x.partial = nil
	}
	cb(nil)
}

// newLineStage constructs the transform for a single stage.
func newLineStage(sc StageConfig, opts []stream.Option) (*stream.Transform[string, string], error) {
	switch sc.Type {
	case stageUpper:
		return stream.NewMap(mapLine(strings.ToUpper), opts...), nil
	case stageLower:
		return stream.NewMap(mapLine(strings.ToLower), opts...), nil
	case stagePrefix:
		return stream.NewMap(mapLine(func(s string) string { return sc.Value + s }), opts...), nil
	case stageSuffix:
		return stream.NewMap(mapLine(func(s string) string { return s + sc.Value }), opts...), nil
	case stageGrep:
		re, err := regexp.Compile(sc.Value)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", sc.Type, err)
		}
		return stream.NewFilter(re.MatchString, opts...), nil
	case stageNumber:
		var n int
		return stream.NewMap(mapLine(func(s string) string {
			n++
			return strconv.Itoa(n) + "\t" + s
		}), opts...), nil
	case stageHead:
		if sc.Count < 0 {
			return nil, fmt.Errorf("stage %q: negative count %d", sc.Type, sc.Count)
		}
		return stream.NewGenerator(head(sc.Count), opts...), nil
	case stageJQ:
		query, err := gojq.Parse(sc.Value)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", sc.Type, err)
		}
		code, err := gojq.Compile(query)
		if err != nil {
			return nil, fmt.Errorf("stage %q: %w", sc.Type, err)
		}
		return stream.NewGenerator(jq(code), opts...), nil
	case stageRate:
		if sc.Count <= 0 {
			return nil, fmt.Errorf("stage %q: count must be positive, got %d", sc.Type, sc.Count)
		}
		return stream.NewGenerator(throttle(rate.NewLimiter(rate.Limit(sc.Count), 1)), opts...), nil
	default:
		return nil, fmt.Errorf("unknown stage %q", sc.Type)
	}
}

func mapLine(fn func(string) string) func(string) (string, error) {
	return func(s string) (string, error) { return fn(s), nil }
}

// head passes through the first n lines, discarding the rest.
func head(n int) stream.GeneratorFunc[string, string] {
	return func(ctx context.Context, in iter.Seq[string], yield func(string) bool) error {
		if n == 0 {
			return nil
		}
		var i int
		for line := range in {
			if !yield(line) {
				return ctx.Err()
			}
			if i++; i == n {
				break
			}
		}
		return nil
	}
}

// jq runs code against each line, parsed as JSON, emitting every result as
// a line of compact JSON. Blank lines are skipped.
func jq(code *gojq.Code) stream.GeneratorFunc[string, string] {
	return func(ctx context.Context, in iter.Seq[string], yield func(string) bool) error {
		for line := range in {
			if strings.TrimSpace(line) == `` {
				continue
			}
			var v any
			if err := json.Unmarshal([]byte(line), &v); err != nil {
				return fmt.Errorf("jq: invalid input: %w", err)
			}
			results := code.RunWithContext(ctx, v)
			for {
				result, ok := results.Next()
				if !ok {
					break
				}
				if err, ok := result.(error); ok {
					return fmt.Errorf("jq: %w", err)
				}
				b, err := json.Marshal(result)
				if err != nil {
					return fmt.Errorf("jq: %w", err)
				}
				if !yield(string(b)) {
					return ctx.Err()
				}
			}
		}
		return nil
	}
}

// throttle passes every line through, waiting on limiter before each.
func throttle(limiter *rate.Limiter) stream.GeneratorFunc[string, string] {
	return func(ctx context.Context, in iter.Seq[string], yield func(string) bool) error {
		for line := range in {
			if err := limiter.Wait(ctx); err != nil {
				return err
			}
			if !yield(line) {
				return ctx.Err()
			}
		}
		return nil
	}
}

// buildStreams constructs every stream between the input and the output,
// i.e. the line splitter, each configured stage, and the line joiner, along
// with their names.
func buildStreams(stages []StageConfig, opts []stream.Option) ([]stream.Stream, []string, error) {
	lineOpts := append(opts[:len(opts):len(opts)], stream.WithObjectMode(true))
	names := []string{"split"}
	streams := []stream.Stream{
		stream.NewTransform[[]byte, string](new(lineSplitter), append(lineOpts, stream.WithName(names[0]))...),
	}
	for i, sc := range stages {
		name := fmt.Sprintf("%d:%s", i, sc.Type)
		x, err := newLineStage(sc, append(lineOpts, stream.WithName(name)))
		if err != nil {
			return nil, nil, err
		}
		streams = append(streams, x)
		names = append(names, name)
	}
	streams = append(streams, stream.NewMap(func(s string) ([]byte, error) {
		return append([]byte(s), '\n'), nil
	}, append(lineOpts, stream.WithName("join"))...))
	names = append(names, "join")
	return streams, names, nil
}
