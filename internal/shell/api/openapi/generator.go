// Package openapi builds the static OpenAPI 3.0 description for the
// Control Surface. The fixed, small endpoint table here doesn't warrant
// reflecting over request/response structs the way a resource-oriented API
// would; the document is assembled directly, once, and cached.
package openapi

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/getkin/kin-openapi/openapi3"
)

// Generator produces the OpenAPI 3.0 document describing the agent's
// HTTP+JSON API.
type Generator struct {
	title       string
	version     string
	description string
	servers     []string

	mu         sync.Mutex
	cachedSpec *openapi3.T
}

// Option configures the generator.
type Option func(*Generator)

// WithTitle sets the API title.
func WithTitle(title string) Option { return func(g *Generator) { g.title = title } }

// WithVersion sets the API version.
func WithVersion(version string) Option { return func(g *Generator) { g.version = version } }

// WithDescription sets the API description.
func WithDescription(description string) Option {
	return func(g *Generator) { g.description = description }
}

// WithServer adds a server URL.
func WithServer(url string) Option {
	return func(g *Generator) { g.servers = append(g.servers, url) }
}

// NewGenerator creates a Generator with the fixed container-fleet endpoint
// table already described.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{
		title:       "Watchtower Agent API",
		version:     "1.0.0",
		description: "Container-fleet monitoring and update-orchestration agent",
		servers:     []string{"http://localhost:8080"},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns the OpenAPI document, building and caching it on first
// call.
func (g *Generator) Generate() *openapi3.T {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cachedSpec != nil {
		return g.cachedSpec
	}

	spec := &openapi3.T{
		OpenAPI: "3.0.3",
		Info: &openapi3.Info{
			Title:       g.title,
			Version:     g.version,
			Description: g.description,
		},
		Paths:      &openapi3.Paths{},
		Components: &openapi3.Components{Schemas: openapi3.Schemas{}},
	}
	for _, url := range g.servers {
		spec.Servers = append(spec.Servers, &openapi3.Server{URL: url})
	}

	g.addSchemas(spec)
	g.addPaths(spec)

	g.cachedSpec = spec
	return spec
}

// Handler returns an HTTP handler that serves the generated document.
func (g *Generator) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(g.Generate()); err != nil {
			http.Error(w, "failed to encode OpenAPI document", http.StatusInternalServerError)
		}
	}
}

func schemaRef(typ string) *openapi3.SchemaRef {
	return &openapi3.SchemaRef{Value: &openapi3.Schema{Type: &openapi3.Types{typ}}}
}

func (g *Generator) addSchemas(spec *openapi3.T) {
	spec.Components.Schemas["Error"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"error": schemaRef("string"),
				"code":  schemaRef("string"),
			},
		},
	}

	spec.Components.Schemas["ContainerRecord"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"id":              schemaRef("string"),
				"name":            schemaRef("string"),
				"image_ref":       schemaRef("string"),
				"image_digest":    schemaRef("string"),
				"status":          schemaRef("string"),
				"update_state":    schemaRef("string"),
				"last_seen_at":    schemaRef("string"),
				"last_update_error": schemaRef("string"),
			},
		},
	}

	spec.Components.Schemas["AgentStatus"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"status":               schemaRef("string"),
				"monitored_count":      schemaRef("integer"),
				"last_check_at":        schemaRef("string"),
				"update_history_count": schemaRef("integer"),
			},
		},
	}

	spec.Components.Schemas["Configuration"] = &openapi3.SchemaRef{
		Value: &openapi3.Schema{
			Type: &openapi3.Types{"object"},
			Properties: openapi3.Schemas{
				"check_interval":       schemaRef("string"),
				"update_interval":      schemaRef("string"),
				"auto_update":          schemaRef("boolean"),
				"cleanup":              schemaRef("boolean"),
				"label_filter":         schemaRef("string"),
				"event_buffer_size":    schemaRef("integer"),
				"max_parallel_updates": schemaRef("integer"),
			},
		},
	}
}

func jsonResponse(desc, ref string) *openapi3.ResponseRef {
	description := desc
	return &openapi3.ResponseRef{
		Value: &openapi3.Response{
			Description: &description,
			Content: openapi3.Content{
				"application/json": &openapi3.MediaType{
					Schema: &openapi3.SchemaRef{Ref: "#/components/schemas/" + ref},
				},
			},
		},
	}
}

func errorResponse(desc string) *openapi3.ResponseRef {
	return jsonResponse(desc, "Error")
}

func (g *Generator) addPaths(spec *openapi3.T) {
	get := func(summary string, okRef string, errs map[string]string) *openapi3.Operation {
		responses := &openapi3.Responses{}
		responses.Set("200", jsonResponse("OK", okRef))
		for status, desc := range errs {
			responses.Set(status, errorResponse(desc))
		}
		return &openapi3.Operation{Summary: summary, Responses: responses}
	}
	post := func(summary string, errs map[string]string) *openapi3.Operation {
		responses := &openapi3.Responses{}
		responses.Set("202", jsonResponse("accepted", "Error"))
		for status, desc := range errs {
			responses.Set(status, errorResponse(desc))
		}
		return &openapi3.Operation{Summary: summary, Responses: responses}
	}

	spec.Paths.Set("/api/watchtower/status", &openapi3.PathItem{
		Get: get("Agent status", "AgentStatus", nil),
	})
	spec.Paths.Set("/api/watchtower/containers", &openapi3.PathItem{
		Get: get("List monitored containers", "ContainerRecord", nil),
	})
	spec.Paths.Set("/api/watchtower/containers/{id}/start", &openapi3.PathItem{
		Post: post("Start a container", map[string]string{"404": "not found", "409": "update in flight"}),
	})
	spec.Paths.Set("/api/watchtower/containers/{id}/stop", &openapi3.PathItem{
		Post: post("Stop a container", map[string]string{"404": "not found", "409": "update in flight"}),
	})
	spec.Paths.Set("/api/watchtower/containers/{id}/restart", &openapi3.PathItem{
		Post: post("Restart a container", map[string]string{"404": "not found", "409": "update in flight"}),
	})
	spec.Paths.Set("/api/watchtower/containers/{id}", &openapi3.PathItem{
		Get:    get("Get a container by id", "ContainerRecord", map[string]string{"404": "not found"}),
		Delete: post("Remove a container", map[string]string{"404": "not found", "409": "update in flight", "503": "runtime unavailable"}),
	})
	spec.Paths.Set("/api/watchtower/containers/{id}/update", &openapi3.PathItem{
		Post: post("Start an update for a container", map[string]string{"404": "not found", "409": "update in flight"}),
	})
	spec.Paths.Set("/api/watchtower/check-updates", &openapi3.PathItem{
		Post: post("Force an immediate check sweep", nil),
	})
	spec.Paths.Set("/api/watchtower/updates", &openapi3.PathItem{
		Get: get("Update history", "Error", nil),
	})
	spec.Paths.Set("/api/watchtower/stats", &openapi3.PathItem{
		Get: get("Aggregate counters", "Error", nil),
	})
	spec.Paths.Set("/api/watchtower/images", &openapi3.PathItem{
		Get: get("List known images", "Error", map[string]string{"503": "runtime unavailable"}),
	})
	spec.Paths.Set("/api/watchtower/images/{name}/pull", &openapi3.PathItem{
		Post: post("Pull an image", map[string]string{"503": "runtime unavailable"}),
	})
	spec.Paths.Set("/api/watchtower/config", &openapi3.PathItem{
		Get: get("Get agent configuration", "Configuration", nil),
		Put: get("Update agent configuration", "Configuration", map[string]string{"400": "invalid config"}),
	})
}
