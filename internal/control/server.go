package control

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/handler"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/vulcan-relay/vulcan-relay/internal/state"
)

// Service is the Control Service described in spec §4.5: a stateless
// GraphQL-over-HTTP surface that re-reads SharedState on every request.
type Service struct {
	schema graphql.Schema
	log    zerolog.Logger
}

// New builds the Control Service's GraphQL schema against the given
// SharedState.
func New(ss *state.SharedState, log zerolog.Logger) (*Service, error) {
	schema, err := buildSchema(ss)
	if err != nil {
		return nil, err
	}
	return &Service{schema: schema, log: log}, nil
}

// Router builds the chi router the Control HTTP server listens with,
// grounded on the teacher's internal/ws/app.go initRouter pattern.
func (s *Service) Router() http.Handler {
	h := handler.New(&handler.Config{
		Schema:   &s.schema,
		Pretty:   true,
		GraphiQL: false,
	})

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)
	r.Handle("/graphql", h)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// PrintSchema executes the standard GraphQL introspection query against
// the Control schema and returns it as pretty-printed JSON — the
// authoritative exported schema text the dump-control-schema
// subcommand writes to stdout (spec §6, SPEC_FULL.md's supplemented
// features).
func (s *Service) PrintSchema() (string, error) {
	return printSchema(s.schema)
}

func printSchema(schema graphql.Schema) (string, error) {
	result := graphql.Do(graphql.Params{
		Schema:        schema,
		RequestString: introspectionQuery,
	})
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
    subscriptionType { name }
    types {
      kind
      name
      description
      fields(includeDeprecated: true) {
        name
        args { name description type { kind name ofType { kind name } } defaultValue }
        type { kind name ofType { kind name ofType { kind name } } }
      }
    }
  }
}`
