package cli

import (
	"text/template"
	"time"
)

var templateFuncs = template.FuncMap{
	"ts": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return t.Local().Format(time.RFC3339)
	},
}

const templates = `
{{- define "task" -}}
Task:       {{.ID}}
Kind:       {{.Kind}}
Repository: {{.RepositoryID}}
State:      {{.State}}
{{- with .Result}}
{{- if .Error}}
Error:      {{.Error}}
{{- else}}
Version:    {{.VersionNumber}}{{if not .NewVersion}} (unchanged){{end}}
Added:      {{.Added}}
Removed:    {{.Removed}}
{{- if .Serial}}
Serial:     {{.Serial}}
{{- end}}
{{- end}}
{{- range .Warnings}}
Warning:    {{.}}
{{- end}}
{{- end}}
{{end}}

{{- define "upload" -}}
Uploaded:   {{.Filename}}
Sha256:     {{.Sha256}}
Session:    {{.Session}}{{if .Created}} (new){{end}}
Commit at:  {{ts .Start}}
Task:       {{.TaskID}}
{{end}}

{{- define "status" -}}
Server:     {{.ServerURL}}
{{- with .Health}}
Health:     {{.Status}}{{if .Version}} (version {{.Version}}){{end}}
{{- else}}
Health:     unreachable
{{- end}}
{{- if .ClientID}}
Client:     {{.ClientID}}
{{- end}}
Auth:       {{if .Authenticated}}logged in{{if not .ExpiresAt.IsZero}}, expires {{ts .ExpiresAt}}{{end}}{{else}}not logged in{{end}}
{{- if .Tasks}}

Recent tasks:
{{- range .Tasks}}
  {{.ID}}  {{printf "%-12s" .Kind}} {{printf "%-10s" .State}} {{.RepositoryID}}  {{ts .SubmittedAt}}
{{- end}}
{{- end}}
{{end}}
`
