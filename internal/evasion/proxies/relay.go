package proxies

import (
	"context"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bl4ck0w1/idlynx/pkg/utils"
)

const DefaultRelaySettle = 5 * time.Second

// RelayController asks a local anonymizing relay for a fresh circuit over
// its control port.
type RelayController struct {
	Addr     string
	Password string
	Settle   time.Duration
	Sleep    utils.Sleeper
	logger   *logrus.Logger
}

func NewRelayController(addr, password string, logger *logrus.Logger) *RelayController {
	if logger == nil {
		logger = logrus.New()
	}
	return &RelayController{
		Addr:     addr,
		Password: password,
		Settle:   DefaultRelaySettle,
		Sleep:    utils.SleepContext,
		logger:   logger,
	}
}

// NewIdentity authenticates, signals NEWNYM and waits for the new circuit
// to settle.
func (rc *RelayController) NewIdentity(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", rc.Addr)
	if err != nil {
		return fmt.Errorf("dial relay control %s: %w", rc.Addr, err)
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(10 * time.Second))
	}

	tc := textproto.NewConn(conn)
	if err := rc.command(tc, "AUTHENTICATE "+strconv.Quote(rc.Password)); err != nil {
		return fmt.Errorf("relay authenticate: %w", err)
	}
	if err := rc.command(tc, "SIGNAL NEWNYM"); err != nil {
		return fmt.Errorf("relay newnym: %w", err)
	}
	_ = rc.command(tc, "QUIT")

	rc.logger.Debug("relay identity rotated")
	if rc.Sleep != nil {
		return rc.Sleep(ctx, rc.Settle)
	}
	return nil
}

func (rc *RelayController) command(tc *textproto.Conn, line string) error {
	id, err := tc.Cmd("%s", line)
	if err != nil {
		return err
	}
	tc.StartResponse(id)
	defer tc.EndResponse(id)
	_, _, err = tc.ReadResponse(250)
	return err
}
