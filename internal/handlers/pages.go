package handlers

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.uber.org/zap"

	"roofscale-backend/internal/middleware"
	"roofscale-backend/internal/models"
	"roofscale-backend/internal/session"
	"roofscale-backend/internal/web"
)

// Renderer turns conversation state into HTML.
type Renderer struct {
	templates *template.Template
	markdown  goldmark.Markdown
	logger    *zap.Logger
}

func NewRenderer(logger *zap.Logger) (*Renderer, error) {
	rd := &Renderer{
		// Raw HTML in model output is escaped; goldmark only passes it through
		// with html.WithUnsafe.
		markdown: goldmark.New(goldmark.WithExtensions(extension.GFM)),
		logger:   logger.Named("render"),
	}

	tmpl, err := template.New("").Funcs(rd.funcs()).ParseFS(web.Templates(), "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("failed to parse templates: %w", err)
	}
	rd.templates = tmpl
	return rd, nil
}

func (rd *Renderer) funcs() template.FuncMap {
	return template.FuncMap{
		"markdown": rd.renderMarkdown,
		"isUser":   func(m models.Message) bool { return m.Role == models.RoleUser },
		"links":    models.RenderableLinks,
		"area":     formatArea,
		"fixed2":   func(v float64) string { return strconv.FormatFloat(v, 'f', 2, 64) },
		"num":      formatNumber,
		"refID":    referenceID,
		"clock":    func(t time.Time) string { return t.Format("15:04:05") },
		"dict":     dict,
	}
}

// Message renders one message as the page shows it.
func (rd *Renderer) Message(msg models.Message) (string, error) {
	var buf bytes.Buffer
	if err := rd.templates.ExecuteTemplate(&buf, "message", msg); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (rd *Renderer) page(state models.SessionState) ([]byte, error) {
	var buf bytes.Buffer
	if err := rd.templates.ExecuteTemplate(&buf, "index", homeData{State: state}); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (rd *Renderer) renderMarkdown(src string) template.HTML {
	var buf bytes.Buffer
	if err := rd.markdown.Convert([]byte(src), &buf); err != nil {
		rd.logger.Warn("Markdown render failed, showing plain text", zap.Error(err))
		return template.HTML("<p>" + template.HTMLEscapeString(src) + "</p>")
	}
	return template.HTML(buf.String())
}

type homeData struct {
	State models.SessionState
}

// Pages serves the chat page.
type Pages struct {
	renderer *Renderer
	sessions *session.Manager
	auth     *middleware.SessionAuth
	logger   *zap.Logger
}

func NewPages(renderer *Renderer, sessions *session.Manager, auth *middleware.SessionAuth, logger *zap.Logger) *Pages {
	return &Pages{renderer: renderer, sessions: sessions, auth: auth, logger: logger.Named("pages")}
}

// Home renders the conversation for the caller, starting a new session when
// the browser has none or its session has been reaped.
func (p *Pages) Home(w http.ResponseWriter, r *http.Request) {
	d, err := p.sessionFor(w, r)
	if err != nil {
		p.logger.Error("Failed to start session", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	body, err := p.renderer.page(d.Snapshot())
	if err != nil {
		p.logger.Error("Failed to render home page", zap.Error(err))
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(body)
}

func (p *Pages) sessionFor(w http.ResponseWriter, r *http.Request) (*session.Driver, error) {
	if tokenStr := middleware.TokenFromRequest(r); tokenStr != "" {
		if id, err := p.auth.ParseToken(tokenStr); err == nil {
			if d, ok := p.sessions.Get(id); ok {
				return d, nil
			}
		}
	}

	d := p.sessions.Create()
	token, err := p.auth.IssueToken(d.ID())
	if err != nil {
		return nil, err
	}
	p.auth.SetCookie(w, token)
	return d, nil
}

// formatArea prints v with thousands separators and at most three decimals.
func formatArea(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return strconv.FormatFloat(v, 'f', -1, 64)
	}

	s := strconv.FormatFloat(math.Round(v*1000)/1000, 'f', -1, 64)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}

	intPart, frac := s, ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, frac = s[:i], s[i:]
	}

	var b strings.Builder
	for i, c := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(c)
	}
	return sign + b.String() + frac
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// referenceID derives the report reference shown under a metrics card.
func referenceID(messageID string) string {
	id := strings.ToUpper(strings.ReplaceAll(messageID, "-", ""))
	if len(id) > 9 {
		id = id[:9]
	}
	return "RS-" + id
}

func dict(kv ...interface{}) (map[string]interface{}, error) {
	if len(kv)%2 != 0 {
		return nil, errors.New("dict needs key/value pairs")
	}
	m := make(map[string]interface{}, len(kv)/2)
	for i := 0; i < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			return nil, errors.New("dict keys must be strings")
		}
		m[key] = kv[i+1]
	}
	return m, nil
}
