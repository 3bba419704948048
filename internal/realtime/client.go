package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/oklog/ulid/v2"

	"github.com/roach88/todosync/internal/model"
	"github.com/roach88/todosync/internal/query"
	"github.com/roach88/todosync/internal/remote"
)

func init() {
	open := func(ctx context.Context, dsn string) (remote.Client, error) {
		return Dial(ctx, dsn)
	}
	remote.Register("ws", open)
	remote.Register("wss", open)
}

// readLimit bounds a single frame; a full table fits comfortably.
const readLimit = 8 << 20

// Client is a remote.Client speaking to a Server.
type Client struct {
	conn    *websocket.Conn
	logger  *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan Frame
	subs    map[string]*clientSubscription
	err     error

	done   chan struct{}
	cancel context.CancelFunc
}

// ClientOption configures Dial.
type ClientOption func(*clientOptions)

type clientOptions struct {
	token      string
	timeout    time.Duration
	logger     *slog.Logger
	httpClient *http.Client
}

// WithToken authenticates with a bearer token. Tokens may instead be
// passed as the access_token query parameter of the URL.
func WithToken(token string) ClientOption {
	return func(o *clientOptions) { o.token = token }
}

// WithRequestTimeout bounds every request. Zero means no timeout.
func WithRequestTimeout(d time.Duration) ClientOption {
	return func(o *clientOptions) { o.timeout = d }
}

// WithClientLogger sets the client logger. Default: slog.Default().
func WithClientLogger(l *slog.Logger) ClientOption {
	return func(o *clientOptions) { o.logger = l }
}

// WithHTTPClient sets the HTTP client used for the handshake.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(o *clientOptions) { o.httpClient = c }
}

// Dial connects to a server's /ws endpoint.
func Dial(ctx context.Context, url string, opts ...ClientOption) (*Client, error) {
	o := clientOptions{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	dialOpts := &websocket.DialOptions{HTTPClient: o.httpClient}
	if o.token != "" {
		dialOpts.HTTPHeader = http.Header{"Authorization": []string{"Bearer " + o.token}}
	}
	conn, resp, err := websocket.Dial(ctx, url, dialOpts)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", url, remote.ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}
	conn.SetReadLimit(readLimit)

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Client{
		conn:    conn,
		logger:  o.logger,
		timeout: o.timeout,
		pending: make(map[string]chan Frame),
		subs:    make(map[string]*clientSubscription),
		done:    make(chan struct{}),
		cancel:  cancel,
	}
	go c.readLoop(readCtx)
	return c, nil
}

func (c *Client) readLoop(ctx context.Context) {
	var err error
	defer func() { c.shutdown(err) }()
	for {
		var f Frame
		if err = wsjson.Read(ctx, c.conn, &f); err != nil {
			return
		}
		switch f.Type {
		case FrameResponse:
			c.mu.Lock()
			ch, ok := c.pending[f.ID]
			delete(c.pending, f.ID)
			c.mu.Unlock()
			if ok {
				ch <- f
			}
		case FrameEvent:
			c.mu.Lock()
			sub, ok := c.subs[f.ID]
			c.mu.Unlock()
			if ok && f.Change != nil {
				sub.hub.Publish(*f.Change)
			}
		}
	}
}

// shutdown fails pending requests and ends every subscription.
func (c *Client) shutdown(cause error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = fmt.Errorf("%w: %v", remote.ErrClosed, cause)
	subs := c.subs
	c.subs = make(map[string]*clientSubscription)
	c.pending = make(map[string]chan Frame)
	close(c.done)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.hub.Close()
	}
	c.logger.Debug("realtime client closed", "error", cause)
}

// call sends req and waits for its response. req.ID is assigned unless
// already set.
func (c *Client) call(ctx context.Context, req Frame) (Frame, error) {
	if req.ID == "" {
		req.ID = ulid.Make().String()
	}
	req.Type = FrameRequest
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	ch := make(chan Frame, 1)
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return Frame{}, err
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	forget := func() {
		c.mu.Lock()
		delete(c.pending, req.ID)
		c.mu.Unlock()
	}
	if err := wsjson.Write(ctx, c.conn, req); err != nil {
		forget()
		return Frame{}, fmt.Errorf("%s %s: %w", req.Op, req.Table, err)
	}

	select {
	case resp := <-ch:
		if resp.Error != nil {
			return resp, fmt.Errorf("%s %s: %w", req.Op, req.Table, fromWire(resp.Error))
		}
		return resp, nil
	case <-ctx.Done():
		forget()
		return Frame{}, fmt.Errorf("%s %s: %w", req.Op, req.Table, ctx.Err())
	case <-c.done:
		return Frame{}, fmt.Errorf("%s %s: %w", req.Op, req.Table, remote.ErrClosed)
	}
}

// Query implements remote.Client. The server always scopes the query to
// the connection's owner; q's filter is applied on top.
func (c *Client) Query(ctx context.Context, q query.Select) ([]model.Row, error) {
	resp, err := c.call(ctx, Frame{
		Op:     remote.OpQuery,
		Table:  q.From,
		Filter: query.FormatFilter(q.Filter),
		Order:  q.OrderBy,
	})
	if err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

// Insert implements remote.Client.
func (c *Client) Insert(ctx context.Context, table string, row model.Row) (model.Row, error) {
	resp, err := c.call(ctx, Frame{Op: remote.OpInsert, Table: table, Row: row})
	if err != nil {
		return nil, err
	}
	return resp.Row, nil
}

// Update implements remote.Client. The owner is taken from the
// connection's token; owner must match it.
func (c *Client) Update(ctx context.Context, table, owner, id string, patch model.Row) (model.Row, error) {
	resp, err := c.call(ctx, Frame{Op: remote.OpUpdate, Table: table, RecordID: id, Row: patch})
	if err != nil {
		return nil, err
	}
	return resp.Row, nil
}

// Delete implements remote.Client.
func (c *Client) Delete(ctx context.Context, table, owner string, key model.Row) error {
	_, err := c.call(ctx, Frame{Op: remote.OpDelete, Table: table, Row: key})
	return err
}

// Subscribe implements remote.Client.
func (c *Client) Subscribe(ctx context.Context, opts remote.SubscribeOptions) (remote.Subscription, error) {
	if opts.Table == "" {
		return nil, fmt.Errorf("subscribe: table required")
	}
	// Each subscription buffers through its own hub, so events for it are
	// never duplicated into another subscription on the same table.
	hub := remote.NewHub()
	inner, err := hub.Subscribe(remote.SubscribeOptions{Table: opts.Table})
	if err != nil {
		return nil, err
	}
	sub := &clientSubscription{client: c, id: ulid.Make().String(), hub: hub, inner: inner}

	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return nil, err
	}
	c.subs[sub.id] = sub
	c.mu.Unlock()

	if _, err := c.call(ctx, Frame{ID: sub.id, Op: OpSubscribe, Table: opts.Table, Filter: opts.Filter}); err != nil {
		c.dropSubscription(sub.id)
		hub.Close()
		return nil, err
	}
	return sub, nil
}

func (c *Client) dropSubscription(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[id]; !ok {
		return false
	}
	delete(c.subs, id)
	return true
}

// Close implements remote.Client.
func (c *Client) Close() error {
	err := c.conn.Close(websocket.StatusNormalClosure, "")
	c.cancel()
	<-c.done
	return err
}

type clientSubscription struct {
	client *Client
	id     string
	hub    *remote.Hub
	inner  remote.Subscription
	once   sync.Once
}

func (s *clientSubscription) Events() <-chan model.RowChange { return s.inner.Events() }

func (s *clientSubscription) Close() error {
	s.once.Do(func() {
		if s.client.dropSubscription(s.id) {
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			defer cancel()
			_ = wsjson.Write(ctx, s.client.conn, Frame{Type: FrameRequest, ID: ulid.Make().String(), Op: OpUnsubscribe, RecordID: s.id})
		}
		s.hub.Close()
	})
	return nil
}
