package logger

import (
	zlog "github.com/rs/zerolog/log"
)

// Init installs this package's configured Logger — the daily-rotating file
// writer, the async non-blocking wrapper, and the SIDE_LOG_LEVEL level gate
// — as the global github.com/rs/zerolog/log logger. Every production call
// site across the runtime logs through that package-level convenience
// logger (`log.Info()`, `log.Warn().Err(err)`, …); without this call those
// entries would go to zerolog's unconfigured default writer instead of the
// teacher's rotating file sink. Safe to call from more than one
// construction entry point: Get() memoizes the underlying build via
// sync.Once, so repeated calls just re-assign the same Logger value.
func Init() {
	zlog.Logger = Get()
}
