package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"linkplan.ai/internal/entity"
	"linkplan.ai/internal/geom"
	"linkplan.ai/internal/protocol"
)

type WSConfig struct {
	URL            string
	Token          string
	HandshakeTime  time.Duration
	WriteTimeout   time.Duration
	RequestTimeout time.Duration
}

// RemoteError is an error response from the authority.
type RemoteError struct {
	Op      string
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
}

var ErrClosed = errors.New("authority connection closed")

// WSClient is an Authority reached over a websocket. Calls may be issued
// concurrently; responses are matched to requests by id.
type WSClient struct {
	cfg WSConfig
	log *zap.Logger

	conn    *websocket.Conn
	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[string]chan protocol.Response
	lastErr error

	closeOnce sync.Once
	done      chan struct{}
}

func Dial(ctx context.Context, cfg WSConfig, logger *zap.Logger) (*WSClient, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.HandshakeTime <= 0 {
		cfg.HandshakeTime = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 10 * time.Second
	}
	d := websocket.Dialer{HandshakeTimeout: cfg.HandshakeTime}
	hdr := http.Header{}
	if cfg.Token != "" {
		hdr.Set("Authorization", "Bearer "+cfg.Token)
	}
	conn, resp, err := d.DialContext(ctx, cfg.URL, hdr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	c := &WSClient{
		cfg:     cfg,
		log:     logger.With(zap.String("authority", cfg.URL)),
		conn:    conn,
		pending: map[string]chan protocol.Response{},
		done:    make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *WSClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.conn.Close()
		<-c.done
	})
	return err
}

func (c *WSClient) readLoop() {
	defer close(c.done)
	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			c.failPending(err)
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil || base.Type != protocol.TypeResponse {
			continue
		}
		if !protocol.IsSupportedVersion(base.ProtocolVersion) {
			c.log.Warn("dropping response with unsupported protocol version", zap.String("version", base.ProtocolVersion))
			continue
		}
		var resp protocol.Response
		if err := json.Unmarshal(msg, &resp); err != nil {
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[resp.ID]
		delete(c.pending, resp.ID)
		c.mu.Unlock()
		if ok {
			ch <- resp
		}
	}
}

func (c *WSClient) failPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	for id, ch := range c.pending {
		close(ch)
		delete(c.pending, id)
	}
}

func (c *WSClient) call(ctx context.Context, op string, args any, out any) error {
	rawArgs, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("%s: encode args: %w", op, err)
	}
	req := protocol.Request{
		Type:            protocol.TypeRequest,
		ProtocolVersion: protocol.Version,
		ID:              uuid.NewString(),
		Op:              op,
		Args:            rawArgs,
	}
	b, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("%s: encode request: %w", op, err)
	}

	ch := make(chan protocol.Response, 1)
	c.mu.Lock()
	if c.lastErr != nil {
		err := c.lastErr
		c.mu.Unlock()
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	c.pending[req.ID] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err = c.conn.WriteMessage(websocket.TextMessage, b)
	c.writeMu.Unlock()
	if err != nil {
		c.forget(req.ID)
		return fmt.Errorf("%s: write: %w", op, err)
	}

	timer := time.NewTimer(c.cfg.RequestTimeout)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		c.forget(req.ID)
		return ctx.Err()
	case <-timer.C:
		c.forget(req.ID)
		return fmt.Errorf("%s: timeout after %s", op, c.cfg.RequestTimeout)
	case resp, ok := <-ch:
		if !ok {
			return fmt.Errorf("%s: %w", op, ErrClosed)
		}
		if !resp.OK {
			return &RemoteError{Op: op, Code: resp.Code, Message: resp.Message}
		}
		if out == nil || len(resp.Result) == 0 {
			return nil
		}
		if err := json.Unmarshal(resp.Result, out); err != nil {
			return fmt.Errorf("%s: decode result: %w", op, err)
		}
		return nil
	}
}

func (c *WSClient) forget(id string) {
	c.mu.Lock()
	delete(c.pending, id)
	c.mu.Unlock()
}

func (c *WSClient) SubmitPathRequest(ctx context.Context, req PathRequest) (Handle, error) {
	var res protocol.SubmitPathResult
	err := c.call(ctx, protocol.OpSubmitPath, protocol.SubmitPathArgs{
		Start:           req.Start,
		Finish:          req.Finish,
		Radius:          req.Radius,
		AllowThroughOwn: req.AllowThroughOwn,
		ConnectorSize:   req.ConnectorSize,
	}, &res)
	return Handle(res.Handle), err
}

func (c *WSClient) FetchPathOutcome(ctx context.Context, h Handle, req FetchRequest) (RawPathOutcome, error) {
	var res protocol.FetchPathResult
	err := c.call(ctx, protocol.OpFetchPath, protocol.FetchPathArgs{
		Handle:     int64(h),
		Start:      req.Start,
		Finish:     req.Finish,
		Connectors: req.Connectors,
		DryRun:     req.DryRun,
		Available:  req.Available,
	}, &res)
	if err != nil {
		return RawPathOutcome{}, err
	}
	out := RawPathOutcome{
		Success:   res.Success,
		Entities:  make(map[int]json.RawMessage, len(res.Entities)),
		Required:  res.Required,
		Available: res.Available,
		Error:     res.Error,
	}
	for k, v := range res.Entities {
		i, err := strconv.Atoi(k)
		if err != nil {
			return RawPathOutcome{}, fmt.Errorf("%s: bad entity index %q", protocol.OpFetchPath, k)
		}
		out.Entities[i] = v
	}
	return out, nil
}

func (c *WSClient) QueryEntities(ctx context.Context, p geom.Point, radius float64) ([]json.RawMessage, error) {
	var res protocol.EntitiesResult
	err := c.call(ctx, protocol.OpQueryEntities, protocol.QueryEntitiesArgs{Point: p, Radius: radius}, &res)
	return res.Entities, err
}

func (c *WSClient) QueryEntitiesByKind(ctx context.Context, names []string, anchor geom.Point, radius float64) ([]json.RawMessage, error) {
	var res protocol.EntitiesResult
	err := c.call(ctx, protocol.OpQueryByKind, protocol.QueryByKindArgs{Names: names, Anchor: anchor, Radius: radius}, &res)
	return res.Entities, err
}

func (c *WSClient) InstallCollisionBuffer(ctx context.Context, start, end geom.Point) error {
	return c.call(ctx, protocol.OpInstallBuffer, protocol.BufferArgs{Start: start, End: end}, nil)
}

func (c *WSClient) ClearCollisionBuffer(ctx context.Context) error {
	return c.call(ctx, protocol.OpClearBuffer, struct{}{}, nil)
}

func (c *WSClient) InventoryCount(ctx context.Context, name string) (int, error) {
	var res protocol.InventoryResult
	err := c.call(ctx, protocol.OpInventoryCount, protocol.InventoryArgs{Name: name}, &res)
	return res.Count, err
}

func (c *WSClient) Pickup(ctx context.Context, e entity.Entity) error {
	return c.call(ctx, protocol.OpPickup, protocol.PickupArgs{Name: e.Name, Position: e.Position}, nil)
}

var _ Authority = (*WSClient)(nil)
