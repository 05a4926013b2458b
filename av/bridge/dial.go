package bridge

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// ErrDialFailed indicates neither channel path could be established.
var ErrDialFailed = errors.New("failed to open media channel")

// DialChannel opens a browser-side media channel for a call.
//
// The primary path is tried first. The fallback path is tried only if the
// primary cannot be established; failures after a successful open are not
// retried here.
//
// Parameters:
//   - ctx: Bounds both dial attempts
//   - baseURL: ws:// or wss:// origin of the server
//   - primaryPath: First path to try
//   - fallbackPath: Path to try when the primary fails, may be empty
//   - callID: Call to attach to, sent as the callId query parameter
//
// Returns:
//   - *websocket.Conn: The open channel
//   - string: The path that succeeded
//   - error: ErrDialFailed joined with the per-path errors
func DialChannel(ctx context.Context, baseURL, primaryPath, fallbackPath, callID string) (*websocket.Conn, string, error) {
	return dialChannel(ctx, websocket.DefaultDialer, baseURL, primaryPath, fallbackPath, callID)
}

func dialChannel(ctx context.Context, dialer *websocket.Dialer, baseURL, primaryPath, fallbackPath, callID string) (*websocket.Conn, string, error) {
	conn, primaryErr := dialPath(ctx, dialer, baseURL, primaryPath, callID)
	if primaryErr == nil {
		return conn, primaryPath, nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "DialChannel",
		"call_id":  callID,
		"path":     primaryPath,
		"error":    primaryErr.Error(),
	}).Warn("Primary media channel path failed")

	if fallbackPath == "" || fallbackPath == primaryPath {
		return nil, "", errors.Join(ErrDialFailed, primaryErr)
	}

	conn, fallbackErr := dialPath(ctx, dialer, baseURL, fallbackPath, callID)
	if fallbackErr != nil {
		return nil, "", errors.Join(ErrDialFailed, primaryErr, fallbackErr)
	}

	logrus.WithFields(logrus.Fields{
		"function": "DialChannel",
		"call_id":  callID,
		"path":     fallbackPath,
	}).Info("Media channel opened on fallback path")

	return conn, fallbackPath, nil
}

func dialPath(ctx context.Context, dialer *websocket.Dialer, baseURL, path, callID string) (*websocket.Conn, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url %q: %w", baseURL, err)
	}
	u.Path = path
	query := u.Query()
	query.Set("callId", callID)
	u.RawQuery = query.Encode()

	conn, resp, err := dialer.DialContext(ctx, u.String(), nil)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return conn, nil
}
