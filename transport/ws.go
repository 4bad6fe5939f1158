package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// graphql-transport-ws framing and timing constants (spec.md §6):
// heartbeat every 5s, a 10s client read timeout, and a 10s
// connection-init timeout.
const (
	wsSubprotocol         = "graphql-transport-ws"
	wsHeartbeatInterval   = 5 * time.Second
	wsConnectionInitDelay = 10 * time.Second
	wsClientTimeout       = 10 * time.Second
)

type wsMessageType string

const (
	wsConnectionInit wsMessageType = "connection_init"
	wsConnectionAck  wsMessageType = "connection_ack"
	wsPing           wsMessageType = "ping"
	wsPong           wsMessageType = "pong"
	wsSubscribe      wsMessageType = "subscribe"
	wsNext           wsMessageType = "next"
	wsComplete       wsMessageType = "complete"
	wsError          wsMessageType = "error"
)

type wsEnvelope struct {
	ID      string          `json:"id,omitempty"`
	Type    wsMessageType   `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type wsSubscribePayload struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName,omitempty"`
	Variables     map[string]interface{} `json:"variables,omitempty"`
}

// WebSocketSubscriber dials one graphql-transport-ws connection per
// subgraph URL, shared across every subscription issued against that
// subgraph, and demultiplexes Next/Complete/Error frames by
// subscription id.
//
// Grounded on the teacher's own graphql/server.go connection handling
// (one *websocket.Conn, a write mutex serializing WriteJSON calls, a
// map of live subscriptions keyed by id) generalized from the
// teacher's bespoke subscribe/mutate/echo protocol to the
// graphql-transport-ws message types spec.md §6 names.
type WebSocketSubscriber struct {
	Dialer *websocket.Dialer

	mu    sync.Mutex
	conns map[string]*wsConn
}

// NewWebSocketSubscriber builds a subscriber using gorilla/websocket's
// default dialer.
func NewWebSocketSubscriber() *WebSocketSubscriber {
	return &WebSocketSubscriber{}
}

// Subscribe opens (or reuses) the connection for url and starts a new
// subscription over it.
func (s *WebSocketSubscriber) Subscribe(ctx context.Context, url string, req Request) (EventStream, error) {
	c, err := s.connFor(ctx, url)
	if err != nil {
		return nil, err
	}
	return c.subscribe(req)
}

func (s *WebSocketSubscriber) connFor(ctx context.Context, url string) (*wsConn, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.conns[url]; ok && !c.closed() {
		return c, nil
	}
	c, err := dialWSConn(ctx, s.dialer(), url)
	if err != nil {
		return nil, err
	}
	if s.conns == nil {
		s.conns = map[string]*wsConn{}
	}
	s.conns[url] = c
	return c, nil
}

func (s *WebSocketSubscriber) dialer() *websocket.Dialer {
	if s.Dialer != nil {
		return s.Dialer
	}
	return websocket.DefaultDialer
}

// wsConn is one graphql-transport-ws connection shared by every
// subscription against one subgraph URL.
type wsConn struct {
	socket *websocket.Conn

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]*wsEventStream
	done chan struct{}
	err  error
}

func dialWSConn(ctx context.Context, dialer *websocket.Dialer, url string) (*wsConn, error) {
	header := http.Header{"Sec-WebSocket-Protocol": []string{wsSubprotocol}}
	socket, _, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, fmt.Errorf("transport: dialing %q: %w", url, err)
	}

	c := &wsConn{socket: socket, subs: map[string]*wsEventStream{}, done: make(chan struct{})}

	if err := c.writeEnvelope(wsEnvelope{Type: wsConnectionInit, Payload: json.RawMessage("{}")}); err != nil {
		socket.Close()
		return nil, fmt.Errorf("transport: sending connection_init to %q: %w", url, err)
	}

	socket.SetReadDeadline(time.Now().Add(wsConnectionInitDelay))
	var ack wsEnvelope
	if err := socket.ReadJSON(&ack); err != nil {
		socket.Close()
		return nil, fmt.Errorf("transport: waiting for connection_ack from %q: %w", url, err)
	}
	if ack.Type != wsConnectionAck {
		socket.Close()
		return nil, fmt.Errorf("transport: expected connection_ack from %q, got %q", url, ack.Type)
	}

	go c.readLoop()
	go c.heartbeatLoop()
	return c, nil
}

func (c *wsConn) writeEnvelope(env wsEnvelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.socket.WriteJSON(env)
}

func (c *wsConn) subscribe(req Request) (*wsEventStream, error) {
	id := uuid.NewString()
	payload, err := json.Marshal(wsSubscribePayload{Query: req.Query, OperationName: req.OperationName, Variables: req.Variables})
	if err != nil {
		return nil, fmt.Errorf("transport: marshaling subscribe payload: %w", err)
	}

	stream := newWSEventStream(c, id)
	c.mu.Lock()
	c.subs[id] = stream
	c.mu.Unlock()

	if err := c.writeEnvelope(wsEnvelope{ID: id, Type: wsSubscribe, Payload: payload}); err != nil {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
		return nil, fmt.Errorf("transport: sending subscribe: %w", err)
	}
	return stream, nil
}

// readLoop is the connection's sole reader, demultiplexing frames to
// the subscription they're addressed to by id. Every read resets the
// client timeout deadline, so a Ping, Pong, or Next frame all count as
// the connection being alive.
func (c *wsConn) readLoop() {
	defer c.closeWithErr(fmt.Errorf("transport: connection closed"))
	for {
		c.socket.SetReadDeadline(time.Now().Add(wsClientTimeout))
		var env wsEnvelope
		if err := c.socket.ReadJSON(&env); err != nil {
			return
		}
		switch env.Type {
		case wsPing:
			_ = c.writeEnvelope(wsEnvelope{Type: wsPong})
		case wsPong:
			// deadline already reset above; nothing else to do.
		case wsNext:
			c.dispatch(env.ID, func(s *wsEventStream) { s.deliver(env.Payload, nil) })
		case wsError:
			c.dispatch(env.ID, func(s *wsEventStream) {
				s.deliver(nil, fmt.Errorf("transport: subscription error: %s", string(env.Payload)))
			})
		case wsComplete:
			c.dispatch(env.ID, func(s *wsEventStream) { s.closeOnce() })
		}
	}
}

func (c *wsConn) dispatch(id string, fn func(*wsEventStream)) {
	c.mu.Lock()
	s, ok := c.subs[id]
	c.mu.Unlock()
	if ok {
		fn(s)
	}
}

func (c *wsConn) heartbeatLoop() {
	ticker := time.NewTicker(wsHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := c.writeEnvelope(wsEnvelope{Type: wsPing}); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

// closeWithErr tears the connection down once -- from a read failure,
// a heartbeat write failure, or an external Close -- and delivers err
// to every subscription still attached to it.
func (c *wsConn) closeWithErr(err error) {
	c.mu.Lock()
	if c.err != nil {
		c.mu.Unlock()
		return
	}
	c.err = err
	subs := make([]*wsEventStream, 0, len(c.subs))
	for _, s := range c.subs {
		subs = append(subs, s)
	}
	c.mu.Unlock()

	close(c.done)
	c.socket.Close()
	for _, s := range subs {
		s.deliver(nil, err)
	}
}

func (c *wsConn) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *wsConn) unsubscribe(id string) {
	c.mu.Lock()
	delete(c.subs, id)
	c.mu.Unlock()
	_ = c.writeEnvelope(wsEnvelope{ID: id, Type: wsComplete})
}

// wsEventStream implements transport.EventStream over one subscription
// id on a shared wsConn.
type wsEventStream struct {
	conn *wsConn
	id   string

	events chan Response
	errs   chan error
	closed chan struct{}
	once   sync.Once
}

func newWSEventStream(conn *wsConn, id string) *wsEventStream {
	return &wsEventStream{
		conn:   conn,
		id:     id,
		events: make(chan Response, 8),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (s *wsEventStream) deliver(payload json.RawMessage, err error) {
	if err != nil {
		select {
		case s.errs <- err:
		default:
		}
		s.closeOnce()
		return
	}
	select {
	case s.events <- Response{Body: payload}:
	case <-s.closed:
	}
}

func (s *wsEventStream) closeOnce() {
	s.once.Do(func() { close(s.closed) })
}

// Next implements transport.EventStream.
func (s *wsEventStream) Next(ctx context.Context) (Response, error) {
	select {
	case r := <-s.events:
		return r, nil
	case err := <-s.errs:
		return Response{}, err
	case <-s.closed:
		select {
		case r := <-s.events:
			return r, nil
		default:
			return Response{}, io.EOF
		}
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

// Close implements transport.EventStream.
func (s *wsEventStream) Close() error {
	s.closeOnce()
	s.conn.unsubscribe(s.id)
	return nil
}
