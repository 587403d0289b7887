// Package signal implements spec §4.6's Signal Service: the per-client
// GraphQL-over-WebSocket endpoint that binds a redeemed token to a Session
// and then scopes every operation to it.
package signal

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/language/ast"

	"github.com/vulcan-relay/vulcan-relay/internal/engine"
	"github.com/vulcan-relay/vulcan-relay/internal/session"
)

type sessionCtxKey struct{}

func withSession(ctx context.Context, sess *session.Session) context.Context {
	return context.WithValue(ctx, sessionCtxKey{}, sess)
}

func sessionFrom(ctx context.Context) (*session.Session, error) {
	sess, ok := ctx.Value(sessionCtxKey{}).(*session.Session)
	if !ok || sess == nil {
		return nil, fmt.Errorf("signal: no session bound to this connection")
	}
	return sess, nil
}

// rawJSON is the scalar type backing every opaque Media-Engine blob the
// schema exchanges (RtpCapabilities, DtlsParameters, RtpParameters,
// SctpStreamParameters — spec §6). It passes values through verbatim; the
// relay never inspects them.
var rawJSON = graphql.NewScalar(graphql.ScalarConfig{
	Name:        "JSON",
	Description: "An opaque JSON blob defined by the Media Engine.",
	Serialize: func(value interface{}) interface{} {
		return value
	},
	ParseValue: func(value interface{}) interface{} {
		return value
	},
	ParseLiteral: func(valueAST ast.Value) interface{} {
		return parseLiteral(valueAST)
	},
})

func parseLiteral(valueAST ast.Value) interface{} {
	switch v := valueAST.(type) {
	case *ast.ObjectValue:
		out := make(map[string]interface{}, len(v.Fields))
		for _, f := range v.Fields {
			out[f.Name.Value] = parseLiteral(f.Value)
		}
		return out
	case *ast.ListValue:
		out := make([]interface{}, len(v.Values))
		for i, item := range v.Values {
			out[i] = parseLiteral(item)
		}
		return out
	case *ast.StringValue:
		return v.Value
	case *ast.BooleanValue:
		return v.Value
	case *ast.IntValue:
		return json.Number(v.Value)
	case *ast.FloatValue:
		return json.Number(v.Value)
	default:
		return nil
	}
}

func toRawScalar(v interface{}) (engine.RawScalar, error) {
	return json.Marshal(v)
}

var mediaKindEnum = graphql.NewEnum(graphql.EnumConfig{
	Name: "MediaKind",
	Values: graphql.EnumValueConfigMap{
		"AUDIO": &graphql.EnumValueConfig{Value: engine.KindAudio},
		"VIDEO": &graphql.EnumValueConfig{Value: engine.KindVideo},
	},
})

var transportOptionsType = graphql.NewObject(graphql.ObjectConfig{
	Name: "TransportOptions",
	Fields: graphql.Fields{
		"id":             &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"iceParameters":  &graphql.Field{Type: rawJSON},
		"iceCandidates":  &graphql.Field{Type: graphql.NewList(rawJSON)},
		"dtlsParameters": &graphql.Field{Type: rawJSON},
	},
})

var consumerOptionsType = graphql.NewObject(graphql.ObjectConfig{
	Name: "ConsumerOptions",
	Fields: graphql.Fields{
		"id":            &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"producerId":    &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"kind":          &graphql.Field{Type: mediaKindEnum},
		"rtpParameters": &graphql.Field{Type: rawJSON},
	},
})

var dataConsumerOptionsType = graphql.NewObject(graphql.ObjectConfig{
	Name: "DataConsumerOptions",
	Fields: graphql.Fields{
		"id":                   &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"dataProducerId":       &graphql.Field{Type: graphql.NewNonNull(graphql.String)},
		"sctpStreamParameters": &graphql.Field{Type: rawJSON},
	},
})

func transportOptionsPayload(o engine.TransportOptions) map[string]interface{} {
	return map[string]interface{}{
		"id":             string(o.ID),
		"iceParameters":  json.RawMessage(o.IceParameters),
		"iceCandidates":  o.IceCandidates,
		"dtlsParameters": json.RawMessage(o.DtlsParameters),
	}
}

func consumerOptionsPayload(o engine.ConsumerOptions) map[string]interface{} {
	return map[string]interface{}{
		"id":            string(o.ID),
		"producerId":    string(o.ProducerID),
		"kind":          o.Kind,
		"rtpParameters": json.RawMessage(o.RtpParameters),
	}
}

func dataConsumerOptionsPayload(o engine.DataConsumerOptions) map[string]interface{} {
	return map[string]interface{}{
		"id":                   string(o.ID),
		"dataProducerId":       string(o.DataProducerID),
		"sctpStreamParameters": json.RawMessage(o.SctpStreamParameters),
	}
}

func buildSchema() (graphql.Schema, error) {
	query := graphql.NewObject(graphql.ObjectConfig{
		Name: "Query",
		Fields: graphql.Fields{
			"serverRtpCapabilities": &graphql.Field{
				Type: rawJSON,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFrom(p.Context)
					if err != nil {
						return nil, err
					}
					caps, err := sess.ServerRTPCapabilities()
					if err != nil {
						return nil, err
					}
					return json.RawMessage(caps), nil
				},
			},
		},
	})

	mutation := graphql.NewObject(graphql.ObjectConfig{
		Name: "Mutation",
		Fields: graphql.Fields{
			"rtpCapabilities": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{
					"clientCapabilities": &graphql.ArgumentConfig{Type: graphql.NewNonNull(rawJSON)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFrom(p.Context)
					if err != nil {
						return nil, err
					}
					raw, err := toRawScalar(p.Args["clientCapabilities"])
					if err != nil {
						return nil, err
					}
					sess.SetClientRTPCapabilities(raw)
					return true, nil
				},
			},
			"createWebrtcTransport": &graphql.Field{
				Type: transportOptionsType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFrom(p.Context)
					if err != nil {
						return nil, err
					}
					opts, err := sess.CreateWebRTCTransport(p.Context)
					if err != nil {
						return nil, err
					}
					return transportOptionsPayload(opts), nil
				},
			},
			"createPlainTransport": &graphql.Field{
				Type: transportOptionsType,
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFrom(p.Context)
					if err != nil {
						return nil, err
					}
					opts, err := sess.CreatePlainTransport(p.Context)
					if err != nil {
						return nil, err
					}
					return transportOptionsPayload(opts), nil
				},
			},
			"connectWebrtcTransport": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Args: graphql.FieldConfigArgument{
					"transportId":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"dtlsParameters": &graphql.ArgumentConfig{Type: graphql.NewNonNull(rawJSON)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFrom(p.Context)
					if err != nil {
						return nil, err
					}
					transportID := engine.TransportID(p.Args["transportId"].(string))
					raw, err := toRawScalar(p.Args["dtlsParameters"])
					if err != nil {
						return nil, err
					}
					if err := sess.ConnectTransport(transportID, raw); err != nil {
						return nil, err
					}
					return string(transportID), nil
				},
			},
			"produce": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Args: graphql.FieldConfigArgument{
					"transportId":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"kind":          &graphql.ArgumentConfig{Type: graphql.NewNonNull(mediaKindEnum)},
					"rtpParameters": &graphql.ArgumentConfig{Type: graphql.NewNonNull(rawJSON)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFrom(p.Context)
					if err != nil {
						return nil, err
					}
					transportID := engine.TransportID(p.Args["transportId"].(string))
					kind := p.Args["kind"].(engine.MediaKind)
					raw, err := toRawScalar(p.Args["rtpParameters"])
					if err != nil {
						return nil, err
					}
					id, err := sess.Produce(transportID, kind, raw)
					if err != nil {
						return nil, err
					}
					return string(id), nil
				},
			},
			"producePlain": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Args: graphql.FieldConfigArgument{
					"transportId":   &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"kind":          &graphql.ArgumentConfig{Type: graphql.NewNonNull(mediaKindEnum)},
					"rtpParameters": &graphql.ArgumentConfig{Type: graphql.NewNonNull(rawJSON)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFrom(p.Context)
					if err != nil {
						return nil, err
					}
					transportID := engine.TransportID(p.Args["transportId"].(string))
					kind := p.Args["kind"].(engine.MediaKind)
					raw, err := toRawScalar(p.Args["rtpParameters"])
					if err != nil {
						return nil, err
					}
					id, err := sess.ProducePlain(transportID, kind, raw)
					if err != nil {
						return nil, err
					}
					return string(id), nil
				},
			},
			"produceData": &graphql.Field{
				Type: graphql.NewNonNull(graphql.String),
				Args: graphql.FieldConfigArgument{
					"transportId":          &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"sctpStreamParameters": &graphql.ArgumentConfig{Type: graphql.NewNonNull(rawJSON)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFrom(p.Context)
					if err != nil {
						return nil, err
					}
					transportID := engine.TransportID(p.Args["transportId"].(string))
					raw, err := toRawScalar(p.Args["sctpStreamParameters"])
					if err != nil {
						return nil, err
					}
					id, err := sess.ProduceData(transportID, raw)
					if err != nil {
						return nil, err
					}
					return string(id), nil
				},
			},
			"consume": &graphql.Field{
				Type: consumerOptionsType,
				Args: graphql.FieldConfigArgument{
					"transportId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"producerId":  &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFrom(p.Context)
					if err != nil {
						return nil, err
					}
					transportID := engine.TransportID(p.Args["transportId"].(string))
					producerID := engine.ProducerID(p.Args["producerId"].(string))
					opts, err := sess.Consume(transportID, producerID)
					if err != nil {
						return nil, err
					}
					return consumerOptionsPayload(opts), nil
				},
			},
			"consumeData": &graphql.Field{
				Type: dataConsumerOptionsType,
				Args: graphql.FieldConfigArgument{
					"transportId":    &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
					"dataProducerId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFrom(p.Context)
					if err != nil {
						return nil, err
					}
					transportID := engine.TransportID(p.Args["transportId"].(string))
					dataProducerID := engine.DataProducerID(p.Args["dataProducerId"].(string))
					opts, err := sess.ConsumeData(transportID, dataProducerID)
					if err != nil {
						return nil, err
					}
					return dataConsumerOptionsPayload(opts), nil
				},
			},
			"consumerResume": &graphql.Field{
				Type: graphql.NewNonNull(graphql.Boolean),
				Args: graphql.FieldConfigArgument{
					"consumerId": &graphql.ArgumentConfig{Type: graphql.NewNonNull(graphql.String)},
				},
				Resolve: func(p graphql.ResolveParams) (interface{}, error) {
					sess, err := sessionFrom(p.Context)
					if err != nil {
						return nil, err
					}
					consumerID := engine.ConsumerID(p.Args["consumerId"].(string))
					if err := sess.ConsumerResume(consumerID); err != nil {
						return nil, err
					}
					return true, nil
				},
			},
		},
	})

	return graphql.NewSchema(graphql.SchemaConfig{
		Query:    query,
		Mutation: mutation,
	})
}
