// Package control implements spec §4.5's Control Service: a stateless
// GraphQL-over-HTTP surface over SharedState, reachable only from trusted
// infrastructure.
package control

import (
	"runtime/debug"

	"github.com/graphql-go/graphql"

	"github.com/vulcan-relay/vulcan-relay/internal/core"
	"github.com/vulcan-relay/vulcan-relay/internal/state"
	"github.com/vulcan-relay/vulcan-relay/internal/telemetry"
)

// observe records a control mutation/query outcome under the operation's
// name, with status "ok" or the mapped error code.
func observe(operation string, errorCode string) {
	status := "ok"
	if errorCode != "" {
		status = errorCode
	}
	telemetry.ControlOperations.WithLabelValues(operation, status).Inc()
}

var roomType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Room",
	Fields: graphql.Fields{
		"id": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
	},
})

var sessionType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Session",
	Fields: graphql.Fields{
		"id":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"role":  &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"state": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
	},
})

var sessionWithTokenType = graphql.NewObject(graphql.ObjectConfig{
	Name: "SessionWithToken",
	Fields: graphql.Fields{
		"sessionId": &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"token":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
	},
})

var statsType = graphql.NewObject(graphql.ObjectConfig{
	Name: "Stats",
	Fields: graphql.Fields{
		"sessionId":     &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"role":          &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"state":         &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"transports":    &graphql.Field{Type: graphql.NewList(graphql.String)},
		"producers":     &graphql.Field{Type: graphql.NewList(graphql.String)},
		"consumers":     &graphql.Field{Type: graphql.NewList(graphql.String)},
		"dataProducers": &graphql.Field{Type: graphql.NewList(graphql.String)},
		"dataConsumers": &graphql.Field{Type: graphql.NewList(graphql.String)},
	},
})

// resultFields declares the "typed union of a payload or a typed error"
// shape spec §4.5 and §7 call for. graphql-go's union type requires every
// member to be a concrete object, which forces client-side type-switching
// noise on the common case; a single object with a nullable error code
// alongside nullable payload fields gets clients the same information with
// a friendlier shape, and is the variant spec §7 explicitly allows
// ("materialize typed error variants where the schema already supports
// it, plain GraphQL errors otherwise").
func resultFields(payload string, payloadType graphql.Output) graphql.Fields {
	return graphql.Fields{
		payload:      &graphql.Field{Type: payloadType},
		"errorCode":  &graphql.Field{Type: graphql.String},
	}
}

var roomResultType = graphql.NewObject(graphql.ObjectConfig{
	Name:   "RoomResult",
	Fields: resultFields("room", roomType),
})

var sessionResultType = graphql.NewObject(graphql.ObjectConfig{
	Name:   "SessionResult",
	Fields: resultFields("session", sessionType),
})

var sessionWithTokenResultType = graphql.NewObject(graphql.ObjectConfig{
	Name:   "SessionWithTokenResult",
	Fields: resultFields("sessionWithToken", sessionWithTokenType),
})

var statsResultType = graphql.NewObject(graphql.ObjectConfig{
	Name:   "StatsResult",
	Fields: resultFields("stats", statsType),
})

func errCode(err error) string {
	switch err {
	case core.ErrRoomAlreadyExists:
		return "ROOM_ALREADY_EXISTS"
	case core.ErrNoSuchRoom:
		return "NO_SUCH_ROOM"
	case core.ErrSessionAlreadyExists:
		return "SESSION_ALREADY_EXISTS"
	case core.ErrNoSuchSession:
		return "NO_SUCH_SESSION"
	case core.ErrVulcastSessionAlreadyBound:
		return "VULCAST_SESSION_ALREADY_BOUND"
	default:
		return "INTERNAL"
	}
}

// buildSchema wires every resolver to the given SharedState.
func buildSchema(ss *state.SharedState) (graphql.Schema, error) {
	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"registerRoom": &graphql.Field{
				Type: roomResultType,
				Args: graphql.FieldConfigArgument{
					"roomId":           &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"vulcastSessionId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					roomID := core.RoomID(p.Args["roomId"].(string))
					vulcastID := core.SessionID(p.Args["vulcastSessionId"].(string))
					rm, err := ss.RegisterRoom(roomID, vulcastID)
					if err != nil {
						code := errCode(err)
						observe("registerRoom", code)
						return map[string]interface{}{"errorCode": code}, nil
					}
					observe("registerRoom", "")
					return map[string]interface{}{"room": map[string]interface{}{"id": string(rm.ID)}}, nil
				},
			},
			"unregisterRoom": &graphql.Field{
				Type: roomResultType,
				Args: graphql.FieldConfigArgument{
					"roomId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					roomID := core.RoomID(p.Args["roomId"].(string))
					id, err := ss.UnregisterRoom(roomID)
					if err != nil {
						code := errCode(err)
						observe("unregisterRoom", code)
						return map[string]interface{}{"errorCode": code}, nil
					}
					observe("unregisterRoom", "")
					return map[string]interface{}{"room": map[string]interface{}{"id": string(id)}}, nil
				},
			},
			"registerVulcastSession": &graphql.Field{
				Type: sessionWithTokenResultType,
				Args: graphql.FieldConfigArgument{
					"sessionId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sessionID := core.SessionID(p.Args["sessionId"].(string))
					id, token, err := ss.RegisterVulcastSession(sessionID)
					if err != nil {
						code := errCode(err)
						observe("registerVulcastSession", code)
						return map[string]interface{}{"errorCode": code}, nil
					}
					observe("registerVulcastSession", "")
					return map[string]interface{}{"sessionWithToken": map[string]interface{}{
						"sessionId": string(id),
						"token":     string(token),
					}}, nil
				},
			},
			"registerClientSession": &graphql.Field{
				Type: sessionWithTokenResultType,
				Args: graphql.FieldConfigArgument{
					"sessionId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"roomId":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sessionID := core.SessionID(p.Args["sessionId"].(string))
					roomID := core.RoomID(p.Args["roomId"].(string))
					id, token, err := ss.RegisterClientSession(sessionID, roomID)
					if err != nil {
						code := errCode(err)
						observe("registerClientSession", code)
						return map[string]interface{}{"errorCode": code}, nil
					}
					observe("registerClientSession", "")
					return map[string]interface{}{"sessionWithToken": map[string]interface{}{
						"sessionId": string(id),
						"token":     string(token),
					}}, nil
				},
			},
			"unregisterSession": &graphql.Field{
				Type: sessionResultType,
				Args: graphql.FieldConfigArgument{
					"sessionId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sessionID := core.SessionID(p.Args["sessionId"].(string))
					id, err := ss.UnregisterSession(sessionID)
					if err != nil {
						code := errCode(err)
						observe("unregisterSession", code)
						return map[string]interface{}{"errorCode": code}, nil
					}
					observe("unregisterSession", "")
					return map[string]interface{}{"session": map[string]interface{}{
						"id":    string(id),
						"role":  "",
						"state": "closed",
					}}, nil
				},
			},
		},
	})

	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"stats": &graphql.Field{
				Type: statsResultType,
				Args: graphql.FieldConfigArgument{
					"sessionId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sessionID := core.SessionID(p.Args["sessionId"].(string))
					stats, err := ss.Stats(sessionID)
					if err != nil {
						code := errCode(err)
						observe("stats", code)
						return map[string]interface{}{"errorCode": code}, nil
					}
					observe("stats", "")
					return map[string]interface{}{"stats": stats}, nil
				},
			},
			"version": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					return resolveVersion(), nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    query,
		Mutation: mutation,
	})
}

// Version is the build-time version string reported by the version query.
// Overridden via -ldflags at release build time.
var Version = "dev"

// resolveVersion falls back to the revision embedded by the Go toolchain's
// own VCS stamping when no -ldflags version was set, so a plain `go build`
// from a checkout still reports something more useful than "dev".
func resolveVersion() string {
	if Version != "dev" {
		return Version
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return Version
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			if setting.Value == "" {
				break
			}
			if dirty := vcsDirty(info.Settings); dirty {
				return setting.Value + "-dirty"
			}
			return setting.Value
		}
	}
	return Version
}

func vcsDirty(settings []debug.BuildSetting) bool {
	for _, setting := range settings {
		if setting.Key == "vcs.modified" {
			return setting.Value == "true"
		}
	}
	return false
}
