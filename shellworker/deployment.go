package shellworker

import (
	"context"

	"github.com/tinywideclouds/go-shellworker/internal/api"
	"github.com/tinywideclouds/go-shellworker/internal/core"
	"github.com/tinywideclouds/go-shellworker/internal/host"
)

// deployment binds the registration to the configured worker version.
type deployment struct {
	registration *host.Registration
	cfg          core.Config
}

func (d *deployment) Update(ctx context.Context) error {
	_, err := d.registration.Register(ctx, d.cfg)
	return err
}

func (d *deployment) ActivateWaiting(ctx context.Context) error {
	return d.registration.ActivateWaiting(ctx)
}

func (d *deployment) Status() api.VersionStatus {
	var status api.VersionStatus
	if w := d.registration.Active(); w != nil {
		status.Active = w.Config().CacheVersion
		status.ActiveState = w.State().String()
	}
	if w := d.registration.Waiting(); w != nil {
		status.Waiting = w.Config().CacheVersion
		status.WaitingState = w.State().String()
	}
	return status
}
