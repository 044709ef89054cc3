//go:build windows

package config

// registerSignalHandler is a no-op on Windows since SIGHUP is unavailable;
// the fsnotify file watcher still covers config reload.
func (r *Reloader) registerSignalHandler() {
	r.logger.Info("SIGHUP not available on Windows, using file watcher only for config reload")
}
