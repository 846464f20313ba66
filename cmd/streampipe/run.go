package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	stream "github.com/joeycumines/go-stream"
	"github.com/joeycumines/logiface"
	"golang.org/x/sync/errgroup"
)

// run copies in to out through the configured stages, on a new event loop.
// Canceling ctx destroys the pipeline, and run returns once it has settled.
// If metrics is non-nil, every stream is watched.
func run(ctx context.Context, cfg *Config, in io.Reader, out io.Writer, logger *logiface.Logger[logiface.Event], metrics *pipelineMetrics) error {
	loop, err := stream.NewLoop()
	if err != nil {
		return fmt.Errorf("create event loop: %w", err)
	}
	loopCtx, stopLoop := context.WithCancel(context.Background())
	var g errgroup.Group
	g.Go(func() error {
		if err := loop.Run(loopCtx); err != nil && loopCtx.Err() == nil {
			return fmt.Errorf("event loop: %w", err)
		}
		return nil
	})
	defer func() {
		stopLoop()
		if err := g.Wait(); err != nil {
			logger.Err().
				Err(err).
				Log(`streampipe: event loop failed`)
		}
	}()

	sched := stream.NewLoopScheduler(loop, logger)
	opts := []stream.Option{
		stream.WithScheduler(sched),
		stream.WithLogger(logger),
	}
	if cfg.HighWaterMark > 0 {
		opts = append(opts, stream.WithHighWaterMark(cfg.HighWaterMark))
	}

	result := make(chan error, 1)
	var src stream.Stream
	if err := sched.Submit(func() {
		streams, names, err := buildStreams(cfg.Stages, opts)
		if err != nil {
			result <- err
			return
		}
		src = stream.FromReader(in, append(opts, stream.WithName("stdin"))...)
		dst := stream.ToWriter(bufio.NewWriter(out), append(opts, stream.WithName("stdout"))...)
		streams = append(append([]stream.Stream{src}, streams...), dst)
		names = append(append([]string{"stdin"}, names...), "stdout")
		if _, err := stream.Pipeline(func(err error) { result <- err }, streams...); err != nil {
			result <- err
			return
		}
		for i, s := range streams {
			metrics.watch(names[i], s)
		}
	}); err != nil {
		return fmt.Errorf("submit pipeline: %w", err)
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
	}
	logger.Info().Log(`streampipe: canceled`)
	if err := sched.Submit(func() {
		if src != nil {
			src.Destroy(ctx.Err())
		}
	}); err != nil {
		return fmt.Errorf("submit cancel: %w", err)
	}
	return <-result
}
