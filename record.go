package vkframe

import (
	"context"

	"github.com/cockroachdb/errors"
	"golang.org/x/sync/errgroup"
)

// runWorkers runs fn for workers 0..n-1 concurrently. The first error cancels
// the context handed to the others and is returned.
func runWorkers(ctx context.Context, n int, fn func(ctx context.Context, worker int) error) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		worker := i
		g.Go(func() (err error) {
			defer checkErr(&err)
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(gctx, worker)
		})
	}
	return g.Wait()
}

// RecordParallel records one secondary command buffer per manager inside pass
// and fb, concurrently, and executes them from primary. primary must have
// begun pass with secondary command buffer contents.
func RecordParallel(ctx context.Context, managers []*CommandBufferManager, pass *RenderPass, fb *Framebuffer,
	primary *CommandBuffer, fn func(ctx context.Context, worker int, cmd *CommandBuffer) error) error {

	secondaries := make([]*CommandBuffer, len(managers))
	err := runWorkers(ctx, len(managers), func(ctx context.Context, worker int) error {
		cmd, err := managers[worker].NewCommandBuffer()
		if err != nil {
			return err
		}
		if err := cmd.BeginSecondary(pass.VK(), fb.VK()); err != nil {
			return err
		}
		if err := fn(ctx, worker, cmd); err != nil {
			return endAfterFailure(errors.Wrapf(err, "worker %d", worker), cmd.End)
		}
		if err := cmd.End(); err != nil {
			return err
		}
		secondaries[worker] = cmd
		return nil
	})
	if err != nil {
		return err
	}
	primary.ExecuteCommands(secondaries...)
	return nil
}
