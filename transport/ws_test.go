package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGraphQLTransportWSServer implements just enough of
// graphql-transport-ws for WebSocketSubscriber's client-side tests:
// connection_init -> connection_ack, then for every subscribe it
// streams two next payloads followed by complete.
func fakeGraphQLTransportWSServer(t *testing.T) *httptest.Server {
	upgrader := websocket.Upgrader{}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		var init wsEnvelope
		if err := conn.ReadJSON(&init); err != nil {
			return
		}
		require.Equal(t, wsConnectionInit, init.Type)
		require.NoError(t, conn.WriteJSON(wsEnvelope{Type: wsConnectionAck}))

		for {
			var env wsEnvelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			switch env.Type {
			case wsSubscribe:
				for i := 0; i < 2; i++ {
					payload, _ := json.Marshal(map[string]interface{}{"data": map[string]interface{}{"seq": i}})
					if err := conn.WriteJSON(wsEnvelope{ID: env.ID, Type: wsNext, Payload: payload}); err != nil {
						return
					}
				}
				if err := conn.WriteJSON(wsEnvelope{ID: env.ID, Type: wsComplete}); err != nil {
					return
				}
			case wsComplete:
				// client unsubscribed; nothing further to send.
			case wsPing:
				_ = conn.WriteJSON(wsEnvelope{Type: wsPong})
			}
		}
	}))
}

func TestWebSocketSubscriberStreamsNextFramesThenCompletes(t *testing.T) {
	srv := fakeGraphQLTransportWSServer(t)
	defer srv.Close()
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")

	sub := NewWebSocketSubscriber()
	stream, err := sub.Subscribe(context.Background(), wsURL, Request{Query: "subscription { onEvent { seq } }"})
	require.NoError(t, err)
	defer stream.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp1, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(resp1.Body), `"seq":0`)

	resp2, err := stream.Next(ctx)
	require.NoError(t, err)
	assert.Contains(t, string(resp2.Body), `"seq":1`)

	_, err = stream.Next(ctx)
	assert.Error(t, err, "stream should terminate after the server sends complete")
}
