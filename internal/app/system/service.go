// Package system runs the tip server's background workers under one
// start/stop lifecycle.
package system

import "context"

// Service is a background worker owned by the tip server, such as the
// pending tip sweeper (sweeper.Sweeper, named "tip-sweeper"). The Manager
// starts services in registration order and stops them in reverse, so Stop
// must wait for in-flight settlement work to finish or for ctx to expire.
type Service interface {
	// Name identifies the service in logs and must be unique per Manager.
	Name() string
	// Start returns once the service is running; calling it twice is a no-op.
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}
