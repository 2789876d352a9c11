package httpx

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/lamosty/aharadar-sub003/internal/service"
)

func NewServer(addr string, orchestrator *service.Orchestrator) *http.Server {
	return &http.Server{
		Addr:    addr,
		Handler: NewHandler(orchestrator),
	}
}

// NewHandler serves the read-only dashboard and its JSON endpoints.
func NewHandler(orchestrator *service.Orchestrator) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(quotaPageHTML))
	})
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		health := orchestrator.Health(r.Context())
		code := http.StatusOK
		if health["status"] != "ok" {
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, health)
	})
	mux.HandleFunc("/api/quota", func(w http.ResponseWriter, r *http.Request) {
		provider := strings.TrimSpace(r.URL.Query().Get("provider"))
		writeJSON(w, http.StatusOK, orchestrator.QuotaStatus(r.Context(), service.QuotaStatusRequest{Provider: provider}))
	})
	mux.HandleFunc("/api/summary", func(w http.ResponseWriter, r *http.Request) {
		summary, err := orchestrator.Summary(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, summary)
	})
	mux.HandleFunc("/api/calls", func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a non-negative integer"})
				return
			}
			limit = parsed
		}
		records, err := orchestrator.RecentCalls(r.Context(), service.RecentCallsRequest{Limit: limit})
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, records)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("http json encode error: %v", err)
	}
}

const quotaPageHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>LLM quota</title>
  <style>
    body { font-family: ui-sans-serif, system-ui, sans-serif; margin: 2rem; color: #1f2933; }
    table { border-collapse: collapse; width: 100%; margin-bottom: 2rem; }
    th, td { text-align: left; padding: 0.4rem 0.6rem; border-bottom: 1px solid #d9e2ec; }
    th { background: #f0f4f8; }
    .low { color: #c53030; font-weight: 600; }
  </style>
</head>
<body>
  <h1>Subscription quota</h1>
  <table id="quota">
    <thead><tr><th>Provider</th><th>Resource</th><th>Used</th><th>Limit</th><th>Remaining</th><th>Resets</th></tr></thead>
    <tbody></tbody>
  </table>
  <h1>Recent calls</h1>
  <table id="calls">
    <thead><tr><th>When</th><th>Task</th><th>Tier</th><th>Provider</th><th>Model</th><th>Outcome</th><th>Tokens</th></tr></thead>
    <tbody></tbody>
  </table>
  <script>
    function cell(row, text, cls) {
      const td = document.createElement("td");
      td.textContent = text;
      if (cls) td.className = cls;
      row.appendChild(td);
    }
    async function refresh() {
      const quota = await (await fetch("/api/quota")).json();
      const qbody = document.querySelector("#quota tbody");
      qbody.innerHTML = "";
      for (const s of quota.statuses) {
        const tr = document.createElement("tr");
        cell(tr, s.provider); cell(tr, s.resource); cell(tr, s.used); cell(tr, s.limit);
        cell(tr, s.remaining, s.remaining * 5 < s.limit ? "low" : "");
        cell(tr, new Date(s.reset_at).toLocaleTimeString());
        qbody.appendChild(tr);
      }
      const calls = await (await fetch("/api/calls?limit=25")).json();
      const cbody = document.querySelector("#calls tbody");
      cbody.innerHTML = "";
      for (const c of calls) {
        const tr = document.createElement("tr");
        cell(tr, new Date(c.created_at).toLocaleString()); cell(tr, c.task); cell(tr, c.tier);
        cell(tr, c.provider); cell(tr, c.model); cell(tr, c.outcome);
        cell(tr, (c.input_tokens || 0) + "/" + (c.output_tokens || 0));
        cbody.appendChild(tr);
      }
    }
    refresh();
    setInterval(refresh, 15000);
  </script>
</body>
</html>
`
