package router

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/latticeflow/fedrouter/ast"
	"github.com/latticeflow/fedrouter/execute"
	"github.com/latticeflow/fedrouter/graphqlerr"
)

// graphql-transport-ws framing (spec.md §6), mirrored here for the
// server side of the protocol -- transport/ws.go implements the client
// side of the identical wire format for talking to subgraphs.
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

// wsUpgrader is shared across connections; CheckOrigin is left to the
// host's reverse proxy, matching the teacher's Handler's permissive
// default.
var wsUpgrader = websocket.Upgrader{
	Subprotocols:    []string{wsSubprotocol},
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeWS upgrades r to a graphql-transport-ws connection and serves
// every subscribe/complete message on it until the client disconnects.
// Grounded on graphql/server.go's conn/ServeJSONSocket split
// (writeMu-guarded WriteJSON, a subscriptions map keyed by message id,
// one dedicated read loop), generalized from the teacher's bespoke
// subscribe/mutate/echo protocol to graphql-transport-ws framing.
func (rt *Router) ServeWS(w http.ResponseWriter, r *http.Request) {
	socket, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		rt.Log.Warn("websocket upgrade failed", "error", err.Error())
		return
	}
	c := &wsServerConn{rt: rt, socket: socket, subs: map[string]context.CancelFunc{}}
	defer c.closeAll()
	c.serve()
}

type wsServerConn struct {
	rt     *Router
	socket *websocket.Conn

	writeMu sync.Mutex

	mu   sync.Mutex
	subs map[string]context.CancelFunc
}

func (c *wsServerConn) serve() {
	defer c.socket.Close()

	c.socket.SetReadDeadline(time.Now().Add(wsConnectionInitDelay))
	var init wsEnvelope
	if err := c.socket.ReadJSON(&init); err != nil {
		return
	}
	if init.Type != wsConnectionInit {
		c.write(wsEnvelope{Type: wsError, Payload: mustJSON("expected connection_init")})
		return
	}
	if err := c.write(wsEnvelope{Type: wsConnectionAck}); err != nil {
		return
	}

	heartbeatDone := make(chan struct{})
	defer close(heartbeatDone)
	go c.heartbeatLoop(heartbeatDone)

	for {
		c.socket.SetReadDeadline(time.Now().Add(wsClientTimeout))
		var env wsEnvelope
		if err := c.socket.ReadJSON(&env); err != nil {
			return
		}
		switch env.Type {
		case wsPing:
			_ = c.write(wsEnvelope{Type: wsPong})
		case wsPong:
			// deadline already reset above.
		case wsSubscribe:
			var payload wsSubscribePayload
			if err := json.Unmarshal(env.Payload, &payload); err != nil {
				c.write(wsEnvelope{ID: env.ID, Type: wsError, Payload: mustJSON(err.Error())})
				continue
			}
			c.startSubscription(env.ID, payload)
		case wsComplete:
			c.stopSubscription(env.ID)
		}
	}
}

// startSubscription normalizes, authorizes, and plans payload, then (if
// it is in fact a subscription operation) drives it via
// Executor.ExecuteSubscription, emitting one "next" frame per event
// until the upstream stream ends or the client sends "complete".
func (c *wsServerConn) startSubscription(id string, payload wsSubscribePayload) {
	c.mu.Lock()
	if _, ok := c.subs[id]; ok {
		c.mu.Unlock()
		c.write(wsEnvelope{ID: id, Type: wsError, Payload: mustJSON("duplicate subscription id")})
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	c.subs[id] = cancel
	c.mu.Unlock()

	prep, prepErr := c.rt.prepare(ctx, payload.Query, payload.OperationName, payload.Variables)
	if prepErr != nil {
		c.finishWithError(id, prepErr)
		return
	}
	if prep.Plan == nil {
		rejectErr := graphqlerr.Unauthorized(nil)
		if len(prep.AuthzErrors) > 0 {
			rejectErr = prep.AuthzErrors[0]
		}
		c.finishWithError(id, rejectErr)
		return
	}
	if prep.Plan.RootOperationKind != ast.OperationSubscription {
		c.finishWithError(id, graphqlerr.ServiceUnavailable("not a subscription operation"))
		return
	}

	events, err := c.rt.Executor.ExecuteSubscription(ctx, prep.Plan, payload.Variables)
	if err != nil {
		c.finishWithError(id, graphqlerr.ServiceUnavailable(err.Error()))
		return
	}

	go c.pump(id, prep, payload.Variables, events)
}

func (c *wsServerConn) pump(id string, prep *prepared, variables map[string]interface{}, events <-chan execute.Event) {
	for ev := range events {
		if ev.Err != nil {
			c.finishWithError(id, graphqlerr.SubgraphRequestFailure("", nil, ev.Err.Error()))
			return
		}
		allErrs := append(graphqlerr.List{}, prep.AuthzErrors...)
		allErrs = append(allErrs, ev.Ctx.Errors()...)
		envelope := execute.BuildEnvelope(ev.Ctx.Root(), prep.Op.Selections, variables, c.rt.State, allErrs)
		if c.write(wsEnvelope{ID: id, Type: wsNext, Payload: mustJSON(envelope)}) != nil {
			return
		}
	}
	c.write(wsEnvelope{ID: id, Type: wsComplete})
	c.stopSubscription(id)
}

func (c *wsServerConn) finishWithError(id string, err *graphqlerr.Error) {
	c.write(wsEnvelope{ID: id, Type: wsError, Payload: mustJSON(graphqlerr.List{err}.ToEnvelopeErrors())})
	c.stopSubscription(id)
}

func (c *wsServerConn) stopSubscription(id string) {
	c.mu.Lock()
	cancel, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *wsServerConn) closeAll() {
	c.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(c.subs))
	for id, cancel := range c.subs {
		cancels = append(cancels, cancel)
		delete(c.subs, id)
	}
	c.mu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (c *wsServerConn) heartbeatLoop(done <-chan struct{}) {
	ticker := time.NewTicker(wsHeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if c.write(wsEnvelope{Type: wsPing}) != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (c *wsServerConn) write(env wsEnvelope) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.socket.WriteJSON(env)
}

func mustJSON(v interface{}) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return b
}
