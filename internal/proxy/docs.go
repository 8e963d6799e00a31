package proxy

import (
	"fmt"
	"net/http"
)

// handleOpenAPISpec serves the bundled OpenAPI document backing both the
// validation middleware and this interactive documentation page.
// Grounded on teacher's swagger.go handleOpenAPISpec, trimmed to the YAML
// form only — the spec carries no JSON-conversion requirement and
// gopkg.in/yaml.v2 was never otherwise imported by this module.
func (s *Server) handleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/yaml")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	http.ServeFile(w, r, "docs/openapi.yaml")
}

// handleSwaggerUI serves a Swagger UI page pointed at the bundled OpenAPI
// document, grounded on teacher's serveSwaggerIndex.
func (s *Server) handleSwaggerUI(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	specURL := baseURL(r) + "/docs/openapi.yaml"

	html := fmt.Sprintf(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <title>IntelliRouter API Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui.css" />
    <style>
        body { margin: 0; background: #fafafa; }
        .swagger-ui .topbar { display: none; }
    </style>
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({
                url: %q,
                dom_id: '#swagger-ui',
                deepLinking: true,
                presets: [SwaggerUIBundle.presets.apis],
                docExpansion: 'list',
                supportedSubmitMethods: ['get', 'post', 'put', 'delete']
            });
        };
    </script>
</body>
</html>`, specURL)

	_, _ = w.Write([]byte(html))
}

func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := r.Host
	if h := r.Header.Get("X-Forwarded-Host"); h != "" {
		host = h
	}
	return scheme + "://" + host
}
