package pond

import (
	"context"
	"io"

	"golang.org/x/sync/errgroup"
)

// Pipeline copies src into s and the output of s into dst concurrently. The
// input of s is ended when src reaches EOF. It returns once the output of s
// has ended, reporting the first error from either side. Cancelling ctx
// aborts s.
func Pipeline(ctx context.Context, src io.Reader, s *Stage, dst io.Writer) error {
	stop := context.AfterFunc(ctx, func() { s.Fail(ctx.Err()) })
	defer stop()

	var g errgroup.Group
	g.Go(func() error {
		if _, err := s.ReadFrom(src); err != nil {
			s.Fail(err)
			return err
		}
		return s.CloseWrite()
	})
	g.Go(func() error {
		if _, err := s.WriteTo(dst); err != nil {
			s.Fail(err)
			return err
		}
		return nil
	})
	return g.Wait()
}
