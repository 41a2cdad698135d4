package farmer

import (
	"context"
	"strings"

	"github.com/gorilla/websocket"
	"golang.org/x/sync/errgroup"

	"github.com/gardenos/gardend/internal/errdefs"
)

var logLevels = map[string]struct{}{
	"error": {}, "warn": {}, "info": {}, "debug": {}, "trace": {},
}

// ParseLogLevel validates a log-stream severity.
func ParseLogLevel(level string) (string, error) {
	l := strings.ToLower(level)
	if _, ok := logLevels[l]; !ok {
		return "", errdefs.New(errdefs.KindInvalidInput, "%s is not a valid log level", level)
	}
	return l, nil
}

// LogStream proxies the farmer's log websocket at the given severity to the
// client connection. Messages are pumped in both directions until either
// side closes or errors, or ctx is cancelled.
func (s *Supervisor) LogStream(ctx context.Context, level string, client *websocket.Conn) error {
	level, err := ParseLogLevel(level)
	if err != nil {
		return err
	}
	base, err := baseURL(s.settings)
	if err != nil {
		return err
	}
	url := "ws" + strings.TrimPrefix(base, "http") + "/log_stream/" + level
	upstream, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return errdefs.Wrap(errdefs.KindInvalidInput, "farmer: log stream not reachable", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer upstream.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pump(upstream, client) })
	g.Go(func() error { return pump(client, upstream) })
	// Closing both ends unblocks whichever pump is mid-read once the other
	// finishes or ctx fires.
	go func() {
		<-gctx.Done()
		upstream.Close()
		client.Close()
	}()
	err = g.Wait()
	if err == nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || ctx.Err() != nil {
		return nil
	}
	return errdefs.Wrap(errdefs.KindUnavailable, "farmer: log stream", err)
}

// pump forwards messages from src to dst until src closes or either side
// errors.
func pump(src, dst *websocket.Conn) error {
	for {
		msgType, msg, err := src.ReadMessage()
		if err != nil {
			return err
		}
		if err := dst.WriteMessage(msgType, msg); err != nil {
			return err
		}
	}
}
