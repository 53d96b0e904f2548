package server

import "net/http"

const landingHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Respondo Knowledge Base</title>
<style>
  *, *::before, *::after { box-sizing: border-box; margin: 0; padding: 0; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, Helvetica, Arial, sans-serif; background: #0f172a; color: #e2e8f0; min-height: 100vh; display: flex; align-items: center; justify-content: center; }
  .card { max-width: 640px; width: 90%; background: #1e293b; border-radius: 12px; padding: 2.5rem; }
  h1 { font-size: 1.75rem; margin-bottom: 0.5rem; color: #f8fafc; }
  .subtitle { color: #94a3b8; margin-bottom: 1.75rem; }
  .section-title { font-size: 0.75rem; text-transform: uppercase; letter-spacing: 0.1em; color: #64748b; margin: 1.25rem 0 0.5rem; }
  pre { background: #0f172a; border: 1px solid #334155; border-radius: 8px; padding: 1rem; overflow-x: auto; font-size: 0.85rem; }
  code, .endpoint { font-family: "SF Mono", Menlo, monospace; font-size: 0.85rem; color: #a5b4fc; }
  p { margin: 0.25rem 0; }
</style>
</head>
<body>
<div class="card">
  <h1>Respondo Knowledge Base</h1>
  <p class="subtitle">Upload business documents, then chat with answers grounded in them.</p>

  <div class="section-title">Upload</div>
  <pre><code>curl -H "X-User-ID: me" -F file=@faq.md http://localhost:8080/api/documents</code></pre>

  <div class="section-title">Endpoints</div>
  <p><span class="endpoint">POST /api/documents</span> upload a document</p>
  <p><span class="endpoint">GET /api/documents/{id}</span> ingestion status</p>
  <p><span class="endpoint">GET /api/documents/events</span> websocket change feed</p>
  <p><span class="endpoint">POST /api/chat/{conversation}</span> streamed answer (SSE)</p>
  <p><span class="endpoint">/mcp</span> MCP Streamable HTTP</p>
  <p><span class="endpoint">/health</span> health check</p>
</div>
</body>
</html>`

func handleLanding(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(landingHTML))
}
