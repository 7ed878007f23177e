package dns

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	mdns "github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

const retryJitter = 0.3

// rcodeError is a server's definitive answer. Asking again, here or
// elsewhere, will not change it.
type rcodeError struct {
	server string
	rcode  int
}

func (e *rcodeError) Error() string {
	return fmt.Sprintf("%s answered %s", e.server, mdns.RcodeToString[e.rcode])
}

// retryTransient runs fn up to retries+1 times. Only transport failures are
// retried, after base*2^n with jitter.
func retryTransient(ctx context.Context, retries int, base time.Duration, logger *logrus.Logger, fn func() error) error {
	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		var rerr *rcodeError
		if errors.As(err, &rerr) || attempt == retries {
			break
		}
		wait := time.Duration(float64(base<<attempt) * (1 + retryJitter*(2*rand.Float64()-1)))
		logger.Debugf("DNS query failed (attempt %d/%d), retrying in %v: %v", attempt+1, retries+1, wait, err)
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
