// Package notify delivers receiver-facing tip notifications. Delivery is
// best effort: a failed notification never affects the tip it describes.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/R3E-Network/tip_settlement/internal/logging"
)

// TipReceived tells a receiver a tip arrived. NetAmountMinor is what the
// receiver is paid after fees, not the gross charge.
type TipReceived struct {
	TipID          string    `json:"tipId"`
	ReceiverID     string    `json:"receiverId"`
	SenderID       string    `json:"senderId"`
	SenderName     string    `json:"senderName"`
	NetAmountMinor int64     `json:"netAmountMinor"`
	SentAt         time.Time `json:"sentAt"`
}

// Notifier publishes notifications.
type Notifier interface {
	NotifyTipReceived(ctx context.Context, n TipReceived) error
}

// Subscriber streams one user's notifications until cancel is called or ctx
// ends.
type Subscriber interface {
	Subscribe(ctx context.Context, userID string) (<-chan TipReceived, func(), error)
}

// Broker is both ends of a notification transport.
type Broker interface {
	Notifier
	Subscriber
}

// Dispatcher sends notifications off the request path with a bounded
// timeout. Failures and panics are logged and dropped.
type Dispatcher struct {
	notifier Notifier
	timeout  time.Duration
	log      *logging.Logger
	wg       sync.WaitGroup
}

// NewDispatcher wraps notifier. A non-positive timeout defaults to 5s.
func NewDispatcher(notifier Notifier, timeout time.Duration, log *logging.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if log == nil {
		log = logging.NewDefault("notify")
	}
	return &Dispatcher{notifier: notifier, timeout: timeout, log: log}
}

// Dispatch sends n in the background and returns immediately.
func (d *Dispatcher) Dispatch(n TipReceived) {
	if d == nil || d.notifier == nil {
		return
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		if err := d.send(n); err != nil {
			d.log.WithField("tip_id", n.TipID).WithField("receiver_id", n.ReceiverID).
				WithError(err).Warn("tip notification failed")
		}
	}()
}

func (d *Dispatcher) send(n TipReceived) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	return d.notifier.NotifyTipReceived(ctx, n)
}

// Wait blocks until in-flight notifications finish.
func (d *Dispatcher) Wait() {
	if d != nil {
		d.wg.Wait()
	}
}
