// Package api provides HTTP handlers for the Deckhand management API.
// This file serves the status page: one server-rendered HTML page instead of
// a frontend build. Operators mostly look at it from a terminal browser or a
// monitor dashboard, and the API covers everything else.
package api

import (
	"html/template"
	"net/http"
	"time"

	"github.com/opsline/deckhand/internal/shell/store"
)

type statusPageData struct {
	Now     time.Time
	Targets []TargetResponse
	Runs    []RunSummary
}

func (h *Handler) handleStatusPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	data := statusPageData{Now: time.Now().UTC()}

	lanes := laneIndex(h.dispatcher.Status())
	for _, t := range h.dispatcher.Targets() {
		data.Targets = append(data.Targets, h.targetView(ctx, t, lanes))
	}

	runs, err := h.store.ListRuns(ctx, store.ListOptions{Limit: 20})
	if err != nil {
		h.logger.Warn("status page: could not list runs", "error", err)
	}
	for i := range runs {
		data.Runs = append(data.Runs, runToSummary(&runs[i]))
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := statusPage.Execute(w, data); err != nil {
		h.logger.Error("could not render status page", "error", err)
	}
}

var statusPage = template.Must(template.New("status").Funcs(template.FuncMap{
	"short": shortID,
	"when":  formatWhen,
}).Parse(statusPageHTML))

// shortID truncates a run ID for display.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func formatWhen(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05")
}

const statusPageHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Deckhand</title>
<style>
body { font-family: system-ui, sans-serif; margin: 0 auto; max-width: 960px; padding: 2rem; color: #1a1a1a; }
h1 { font-size: 1.4rem; }
h2 { font-size: 1.1rem; margin-top: 2rem; }
table { border-collapse: collapse; width: 100%; font-size: 0.9rem; }
th, td { text-align: left; padding: 0.4rem 0.8rem; border-bottom: 1px solid #ddd; }
th { color: #555; font-weight: 600; }
code { background: #f4f4f4; padding: 0.1rem 0.3rem; border-radius: 3px; }
.status { padding: 0.1rem 0.5rem; border-radius: 3px; font-size: 0.8rem; }
.status.succeeded { background: #d9f2d9; color: #1e6b1e; }
.status.failed { background: #fbdcdc; color: #9c1c1c; }
.status.running { background: #fdf0d3; color: #8a6100; }
.status.pending { background: #e8e8e8; color: #555; }
footer { margin-top: 2.5rem; color: #888; font-size: 0.8rem; }
</style>
</head>
<body>
<h1>Deckhand</h1>

<h2>Targets</h2>
<table>
<tr><th>Name</th><th>Executor</th><th>Branch</th><th>Directory</th><th>Active</th><th>Queued</th><th>Last run</th></tr>
{{range .Targets}}
<tr>
<td>{{.Name}}</td>
<td>{{.Executor}}</td>
<td><code>{{.Branch}}</code></td>
<td><code>{{.Dir}}</code></td>
<td>{{if .ActiveRunID}}<code>{{short .ActiveRunID}}</code>{{else}}-{{end}}</td>
<td>{{len .QueuedRunIDs}}</td>
<td>{{if .LastRun}}<span class="status {{.LastRun.Status}}">{{.LastRun.Status}}</span> {{when .LastRun.FinishedAt}}{{else}}never{{end}}</td>
</tr>
{{else}}
<tr><td colspan="7">No targets configured.</td></tr>
{{end}}
</table>

<h2>Recent runs</h2>
<table>
<tr><th>Run</th><th>Target</th><th>Trigger</th><th>Ref</th><th>Status</th><th>Finished</th></tr>
{{range .Runs}}
<tr>
<td><code>{{short .ID}}</code></td>
<td>{{.Target}}</td>
<td>{{.Trigger}}</td>
<td><code>{{.Ref}}</code></td>
<td><span class="status {{.Status}}">{{.Status}}</span></td>
<td>{{when .FinishedAt}}</td>
</tr>
{{else}}
<tr><td colspan="6">No runs yet.</td></tr>
{{end}}
</table>

<footer>Rendered {{.Now.Format "2006-01-02 15:04:05"}} UTC &middot; <a href="/openapi.json">openapi.json</a></footer>
</body>
</html>
`
