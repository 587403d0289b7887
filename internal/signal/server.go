package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/graphql-go/graphql"
	"github.com/rs/zerolog"

	"github.com/vulcan-relay/vulcan-relay/internal/core"
	"github.com/vulcan-relay/vulcan-relay/internal/session"
	"github.com/vulcan-relay/vulcan-relay/internal/state"
	"github.com/vulcan-relay/vulcan-relay/internal/telemetry"
)

// Message types of the graphql-ws / subscriptions-transport-ws envelope
// (spec §4.6, §6).
const (
	msgConnectionInit      = "connection_init"
	msgConnectionAck       = "connection_ack"
	msgConnectionError     = "connection_error"
	msgConnectionTerminate = "connection_terminate"
	msgStart               = "start"
	msgData                = "data"
	msgError               = "error"
	msgComplete            = "complete"
	msgStop                = "stop"
)

const (
	subscriptionProducerAvailable     = "producerAvailable"
	subscriptionDataProducerAvailable = "dataProducerAvailable"
)

type envelope struct {
	ID      string          `json:"id,omitempty"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type connectionInitPayload struct {
	Token string `json:"token"`
}

type startPayload struct {
	Query         string                 `json:"query"`
	Variables     map[string]interface{} `json:"variables"`
	OperationName string                 `json:"operationName"`
}

// Service is the Signal Service described in spec §4.6.
type Service struct {
	state    *state.SharedState
	schema   graphql.Schema
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// New builds the Signal Service's GraphQL schema and WebSocket upgrader.
func New(ss *state.SharedState, log zerolog.Logger) (*Service, error) {
	schema, err := buildSchema()
	if err != nil {
		return nil, err
	}
	return &Service{
		state:  ss,
		schema: schema,
		log:    log,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
	}, nil
}

// Router builds the chi router the Signal HTTP server listens with,
// grounded on the teacher's internal/ws/app.go initRouter pattern.
func (s *Service) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Get("/signal", s.handleWebSocket)
	return r
}

// PrintSchema returns the Signal schema's introspection result as
// pretty-printed JSON (spec §6, SPEC_FULL.md's supplemented features).
func (s *Service) PrintSchema() (string, error) {
	return printSchema(s.schema)
}

func printSchema(schema graphql.Schema) (string, error) {
	result := graphql.Do(graphql.Params{Schema: schema, RequestString: introspectionQuery})
	if len(result.Errors) > 0 {
		return "", result.Errors[0]
	}
	out, err := json.MarshalIndent(result.Data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(out), nil
}

const introspectionQuery = `
query IntrospectionQuery {
  __schema {
    queryType { name }
    mutationType { name }
    types {
      kind
      name
      fields(includeDeprecated: true) {
        name
        args { name type { kind name ofType { kind name } } }
        type { kind name ofType { kind name ofType { kind name } } }
      }
    }
  }
}`

// connection is per-WebSocket state: the bound Session (once connection_init
// succeeds) and the set of live subscriptions started on it.
type connection struct {
	conn *websocket.Conn
	log  zerolog.Logger

	writeMu sync.Mutex

	mu   sync.Mutex
	sess *session.Session
	subs map[string]func()
}

func (s *Service) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	wsConn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error().Err(err).Msg("signal: websocket upgrade failed")
		return
	}

	c := &connection{
		conn: wsConn,
		log:  s.log.With().Str("remote", r.RemoteAddr).Logger(),
		subs: make(map[string]func()),
	}
	defer c.close()

	if !s.awaitConnectionInit(c) {
		return
	}

	for {
		var msg envelope
		if err := wsConn.ReadJSON(&msg); err != nil {
			break
		}

		switch msg.Type {
		case msgStart:
			s.handleStart(c, msg)
		case msgStop:
			c.stopSubscription(msg.ID)
		case msgConnectionTerminate:
			return
		}
	}
}

func (s *Service) awaitConnectionInit(c *connection) bool {
	var msg envelope
	if err := c.conn.ReadJSON(&msg); err != nil {
		return false
	}
	if msg.Type != msgConnectionInit {
		c.send(envelope{Type: msgConnectionError, Payload: mustJSON(map[string]string{"message": "expected connection_init"})})
		return false
	}

	var payload connectionInitPayload
	_ = json.Unmarshal(msg.Payload, &payload)

	sess, err := s.state.RedeemToken(core.Token(payload.Token))
	if err != nil {
		c.send(envelope{Type: msgConnectionError, Payload: mustJSON(map[string]string{"message": err.Error()})})
		return false
	}

	c.mu.Lock()
	c.sess = sess
	c.mu.Unlock()

	sess.OnClosed(func(core.SessionID) { _ = c.conn.Close() })

	c.send(envelope{Type: msgConnectionAck})
	return true
}

func (s *Service) handleStart(c *connection, msg envelope) {
	var payload startPayload
	if err := json.Unmarshal(msg.Payload, &payload); err != nil {
		c.send(envelope{ID: msg.ID, Type: msgError, Payload: mustJSON(map[string]string{"message": err.Error()})})
		return
	}

	operation := payload.OperationName
	if operation == "" {
		operation = "query"
	}

	switch payload.OperationName {
	case subscriptionProducerAvailable:
		telemetry.SignalOperations.WithLabelValues(operation, "ok").Inc()
		s.startProducerSubscription(c, msg.ID)
		return
	case subscriptionDataProducerAvailable:
		telemetry.SignalOperations.WithLabelValues(operation, "ok").Inc()
		s.startDataProducerSubscription(c, msg.ID)
		return
	}

	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	ctx := withSession(context.Background(), sess)
	result := graphql.Do(graphql.Params{
		Schema:         s.schema,
		RequestString:  payload.Query,
		VariableValues: payload.Variables,
		Context:        ctx,
	})

	status := "ok"
	if len(result.Errors) > 0 {
		status = "error"
	}
	telemetry.SignalOperations.WithLabelValues(operation, status).Inc()

	c.send(envelope{ID: msg.ID, Type: msgData, Payload: mustJSON(result)})
	c.send(envelope{ID: msg.ID, Type: msgComplete})
}

func (s *Service) startProducerSubscription(c *connection, id string) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	ch, cancel, err := sess.SubscribeProducerAvailable()
	if err != nil {
		c.send(envelope{ID: id, Type: msgError, Payload: mustJSON(map[string]string{"message": err.Error()})})
		return
	}
	c.trackSubscription(id, cancel)

	go func() {
		for producerID := range ch {
			c.send(envelope{ID: id, Type: msgData, Payload: mustJSON(map[string]interface{}{
				"data": map[string]interface{}{"producerAvailable": string(producerID)},
			})})
		}
		c.send(envelope{ID: id, Type: msgComplete})
		c.untrackSubscription(id)
	}()
}

func (s *Service) startDataProducerSubscription(c *connection, id string) {
	c.mu.Lock()
	sess := c.sess
	c.mu.Unlock()

	ch, cancel, err := sess.SubscribeDataProducerAvailable()
	if err != nil {
		c.send(envelope{ID: id, Type: msgError, Payload: mustJSON(map[string]string{"message": err.Error()})})
		return
	}
	c.trackSubscription(id, cancel)

	go func() {
		for dataProducerID := range ch {
			c.send(envelope{ID: id, Type: msgData, Payload: mustJSON(map[string]interface{}{
				"data": map[string]interface{}{"dataProducerAvailable": string(dataProducerID)},
			})})
		}
		c.send(envelope{ID: id, Type: msgComplete})
		c.untrackSubscription(id)
	}()
}

func (c *connection) trackSubscription(id string, cancel func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[id] = cancel
}

func (c *connection) untrackSubscription(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, id)
}

func (c *connection) stopSubscription(id string) {
	c.mu.Lock()
	cancel, ok := c.subs[id]
	delete(c.subs, id)
	c.mu.Unlock()
	if ok {
		cancel()
	}
}

func (c *connection) send(msg envelope) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.WriteJSON(msg)
}

// close runs the teardown guard spec §4.4 requires on any exit from
// Connected: every subscription this connection started is cancelled and,
// if a session was bound, it is returned to Registered with its media
// objects released.
func (c *connection) close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	sess := c.sess
	c.mu.Unlock()

	for _, cancel := range subs {
		cancel()
	}
	if sess != nil {
		sess.Disconnect()
	}
	_ = c.conn.Close()
}

func mustJSON(v interface{}) json.RawMessage {
	out, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage(`null`)
	}
	return out
}
