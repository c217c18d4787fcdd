// Package iox holds small cleanup helpers for deferred Close and Sync
// calls whose errors cannot be acted on.
package iox

import "io"

// DiscardClose closes c and drops the error:
//
//	defer iox.DiscardClose(resp.Body)
func DiscardClose(c io.Closer) { _ = c.Close() }

// CloseFunc returns a func that closes c, for t.Cleanup:
//
//	t.Cleanup(iox.CloseFunc(notifier))
func CloseFunc(c io.Closer) func() {
	return func() { _ = c.Close() }
}

// DiscardErr calls fn and drops the error, for flushes such as
// zap's Sync on exit:
//
//	defer iox.DiscardErr(logger.Sync)
func DiscardErr(fn func() error) { _ = fn() }
