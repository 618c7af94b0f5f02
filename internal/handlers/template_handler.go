package handlers

import (
	"html/template"
	"io/fs"
	"net/http"

	"github.com/rs/zerolog"

	"natsvisor/internal/config"
	"natsvisor/internal/models"
	"natsvisor/internal/service"
)

type PageData struct {
	Title   string
	Status  models.ServerStatus
	Running bool
	Presets []config.Preset
	Logs    []models.LogEntry
}

type TemplateHandler struct {
	templates *template.Template
	launcher  *service.Launcher
	logger    zerolog.Logger
}

func NewTemplateHandler(templatesFS fs.FS, l *service.Launcher, logger zerolog.Logger) (*TemplateHandler, error) {
	tmpl, err := template.ParseFS(templatesFS, "*.html")
	if err != nil {
		return nil, err
	}

	return &TemplateHandler{
		templates: tmpl,
		launcher:  l,
		logger:    logger,
	}, nil
}

func (th *TemplateHandler) buildPageData(title string) PageData {
	status := th.launcher.Supervisor().Status()
	status.Staged = th.launcher.IsStaged()

	return PageData{
		Title:   "natsvisor - " + title,
		Status:  status,
		Running: status.State == service.StateRunning.String(),
		Presets: th.launcher.Presets(),
		Logs:    th.launcher.Supervisor().Logs(10),
	}
}

func (th *TemplateHandler) ServeTemplate(templateName, title string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data := th.buildPageData(title)

		w.Header().Set("Content-Type", "text/html; charset=utf-8")

		if err := th.templates.ExecuteTemplate(w, templateName+".html", data); err != nil {
			th.logger.Error().Err(err).Str("template", templateName).Msg("Error executing template")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
	}
}
