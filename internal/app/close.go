package app

import (
	"errors"

	"harvestreport/internal/logging"
)

// Close stops background work and releases the store. It is safe to call
// more than once.
func (a *App) Close() error {
	if a == nil {
		return nil
	}
	a.closeOnce.Do(func() {
		var errs []error

		if a.cancel != nil {
			a.cancel()
		}
		a.bg.Wait()

		if a.Badges != nil {
			a.Badges.Close()
		}
		if a.ownsStore && a.Store != nil {
			if err := a.Store.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		logging.CloseAudit()

		a.closeErr = errors.Join(errs...)
	})
	return a.closeErr
}
