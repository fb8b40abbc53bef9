// Package transport maintains the persistent duplex connection to the
// backend SQL service. It decodes incoming frames into typed protocol
// messages, accepts outbound execute requests, and exposes connectivity
// status. Cancellation of in-flight commands goes out-of-band over HTTP,
// keyed by the connection id the server announces at startup.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/rillstream/console/internal/protocol"
)

// Status is the connection lifecycle phase.
type Status int

const (
	StatusInitializing Status = iota
	StatusOpen
	StatusClosed
)

// Config configures a connection.
type Config struct {
	// URL of the websocket SQL endpoint.
	URL string
	// CancelURL of the HTTP endpoint accepting out-of-band cancel
	// requests. Optional; Cancel fails without it.
	CancelURL string
	// Params are sent in the first frame after the socket opens.
	Params protocol.SessionParams
	// HTTPClient used for cancel requests. Defaults to a client with a
	// short timeout.
	HTTPClient *http.Client
	// Dialer defaults to websocket.DefaultDialer.
	Dialer *websocket.Dialer

	Log logrus.FieldLogger
}

// Conn is one live connection. The read pump decodes every incoming frame
// and delivers it on Messages in arrival order; the machine downstream
// depends on that ordering.
type Conn struct {
	cfg  Config
	log  logrus.FieldLogger
	ws   *websocket.Conn
	http *http.Client

	messages chan protocol.Message
	done     chan struct{}

	// Guards writes; gorilla allows one concurrent writer.
	writeMu sync.Mutex

	mu       sync.RWMutex
	status   Status
	closeErr error
	connID   string

	closeOnce sync.Once
}

// paramsFrame is the first outbound frame, carrying session parameters.
type paramsFrame struct {
	Params protocol.SessionParams `json:"params"`
}

// Dial opens a connection and sends the session parameters.
func Dial(ctx context.Context, cfg Config) (*Conn, error) {
	if cfg.URL == "" {
		return nil, errors.New("transport: URL is required")
	}
	dialer := cfg.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	log := cfg.Log
	if log == nil {
		log = logrus.StandardLogger()
	}

	ws, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "dialing %s", cfg.URL)
	}

	c := &Conn{
		cfg:      cfg,
		log:      log.WithField("component", "transport"),
		ws:       ws,
		http:     httpClient,
		messages: make(chan protocol.Message, 256),
		done:     make(chan struct{}),
		status:   StatusInitializing,
	}

	if err := c.writeJSON(paramsFrame{Params: cfg.Params}); err != nil {
		ws.Close()
		return nil, errors.Wrap(err, "sending session parameters")
	}

	c.mu.Lock()
	c.status = StatusOpen
	c.mu.Unlock()

	go c.readPump()
	return c, nil
}

// readPump reads frames until the socket dies, decoding each into a typed
// message. BackendKeyData is captured here as connection metadata before
// being forwarded.
func (c *Conn) readPump() {
	defer close(c.messages)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			c.shutdown(err)
			return
		}
		msg, err := protocol.Decode(data)
		if err != nil {
			c.log.WithError(err).Warn("dropping undecodable frame")
			continue
		}
		if key, ok := msg.(*protocol.BackendKeyData); ok {
			c.mu.Lock()
			c.connID = key.ConnID
			c.mu.Unlock()
		}
		select {
		case c.messages <- msg:
		case <-c.done:
			return
		}
	}
}

// Messages delivers decoded server frames in arrival order. The channel is
// closed when the connection dies.
func (c *Conn) Messages() <-chan protocol.Message {
	return c.messages
}

// Send submits one command's execute request.
func (c *Conn) Send(req *protocol.ExecuteRequest) error {
	if status, _ := c.Status(); status != StatusOpen {
		return errors.New("transport: connection is not open")
	}
	return c.writeJSON(req)
}

// SetParams re-sends the session parameters. Called when a parameter
// changes mid-session, e.g. the user switches cluster or database.
func (c *Conn) SetParams(params protocol.SessionParams) error {
	if status, _ := c.Status(); status != StatusOpen {
		return errors.New("transport: connection is not open")
	}
	return c.writeJSON(paramsFrame{Params: params})
}

func (c *Conn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return errors.Wrap(c.ws.WriteJSON(v), "writing frame")
}

// Status returns the connection phase, plus the terminating error once
// closed.
func (c *Conn) Status() (Status, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status, c.closeErr
}

// ConnID returns the server-assigned connection id, empty until the server
// announces it.
func (c *Conn) ConnID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connID
}

// Cancel asks the server to cancel whatever this connection is executing.
// The acknowledgment arrives in-band as an Error frame with the canceled
// classification, handled by the machine's normal ERROR transition.
func (c *Conn) Cancel(ctx context.Context) error {
	if c.cfg.CancelURL == "" {
		return errors.New("transport: no cancel endpoint configured")
	}
	connID := c.ConnID()
	if connID == "" {
		return errors.New("transport: connection id not yet known")
	}

	body, err := json.Marshal(map[string]string{"conn_id": connID})
	if err != nil {
		return errors.Wrap(err, "encoding cancel request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.CancelURL, bytes.NewReader(body))
	if err != nil {
		return errors.Wrap(err, "building cancel request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrap(err, "sending cancel request")
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return errors.Newf("cancel request rejected: %s", resp.Status)
	}
	return nil
}

// Done is closed when the connection has terminated.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// Close tears the connection down.
func (c *Conn) Close() error {
	c.shutdown(nil)
	return nil
}

func (c *Conn) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		c.status = StatusClosed
		if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
			c.closeErr = err
		}
		c.mu.Unlock()

		close(c.done)
		c.ws.Close()

		if err != nil {
			c.log.WithError(err).Info("connection closed")
		}
	})
}
