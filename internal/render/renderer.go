// Package render performs email template rendering using Go's html/template
// with embedded template files. Rendering happens once at enqueue time; the
// rendered subject and bodies are stored on the queue item and never
// regenerated on retry.
package render

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	texttemplate "text/template"

	"chesshelper/internal/types"
)

//go:embed templates/*.html templates/*.txt
var templateFS embed.FS

// templateData is the struct passed into Go templates for rendering.
type templateData struct {
	Subject       string
	PlayerName    string
	Opponent      string
	TimeControl   string
	Result        string
	GameURL       string
	RecipientName string
	GamesPlayed   string
	Wins          string
	Losses        string
	Draws         string
	FormattedDate string
}

// subjectBuilders produce the subject line for each template kind from the
// enqueue-time template data.
var subjectBuilders = map[types.TemplateKind]func(d templateData) string{
	types.TemplateGameStarted: func(d templateData) string {
		return fmt.Sprintf("%s is playing now on Chess.com", d.PlayerName)
	},
	types.TemplateGameEnded: func(d templateData) string {
		if d.Result != "" {
			return fmt.Sprintf("%s finished a game (%s)", d.PlayerName, d.Result)
		}
		return fmt.Sprintf("%s finished a game", d.PlayerName)
	},
	types.TemplateDailyDigest: func(d templateData) string {
		return fmt.Sprintf("Daily digest for %s", d.PlayerName)
	},
	types.TemplateWelcome: func(d templateData) string {
		return "Welcome to Chess Helper"
	},
}

// Renderer renders the four notification templates from embedded files.
// Each kind has an HTML template (parsed together with base.html) and a
// plaintext counterpart.
type Renderer struct {
	htmlTemplates map[types.TemplateKind]*template.Template
	textTemplates map[types.TemplateKind]*texttemplate.Template
	clock         types.Clock
}

// NewRenderer parses the embedded templates and returns a Renderer.
// Returns an error if any template fails to parse, which fails startup:
// a missing template is a build defect, not a runtime condition.
func NewRenderer(clock types.Clock) (*Renderer, error) {
	if clock == nil {
		clock = types.RealClock{}
	}
	r := &Renderer{
		htmlTemplates: make(map[types.TemplateKind]*template.Template),
		textTemplates: make(map[types.TemplateKind]*texttemplate.Template),
		clock:         clock,
	}

	baseHTML, err := templateFS.ReadFile("templates/base.html")
	if err != nil {
		return nil, fmt.Errorf("render: failed to read base.html: %w", err)
	}

	kinds := []types.TemplateKind{
		types.TemplateGameStarted,
		types.TemplateGameEnded,
		types.TemplateDailyDigest,
		types.TemplateWelcome,
	}

	for _, kind := range kinds {
		name := string(kind)

		htmlContent, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.html", name))
		if err != nil {
			return nil, fmt.Errorf("render: failed to read %s.html: %w", name, err)
		}
		htmlTmpl, err := template.New("base").Parse(string(baseHTML))
		if err != nil {
			return nil, fmt.Errorf("render: failed to parse base.html: %w", err)
		}
		if _, err := htmlTmpl.Parse(string(htmlContent)); err != nil {
			return nil, fmt.Errorf("render: failed to parse %s.html: %w", name, err)
		}
		r.htmlTemplates[kind] = htmlTmpl

		txtContent, err := templateFS.ReadFile(fmt.Sprintf("templates/%s.txt", name))
		if err != nil {
			return nil, fmt.Errorf("render: failed to read %s.txt: %w", name, err)
		}
		txtTmpl, err := texttemplate.New(name).Parse(string(txtContent))
		if err != nil {
			return nil, fmt.Errorf("render: failed to parse %s.txt: %w", name, err)
		}
		r.textTemplates[kind] = txtTmpl
	}

	return r, nil
}

// Render produces the subject and both bodies for a template kind. An
// unknown kind or an execution failure returns a validation AppError so the
// enqueue call is rejected rather than admitting a half-formed item.
func (r *Renderer) Render(kind types.TemplateKind, data map[string]any) (*types.RenderedEmail, error) {
	htmlTmpl, ok := r.htmlTemplates[kind]
	if !ok {
		return nil, types.NewAppError(types.ErrCodeValidationInvalidTemplate,
			fmt.Sprintf("no template for kind %q", kind), nil)
	}
	txtTmpl := r.textTemplates[kind]

	td := r.buildTemplateData(kind, data)

	var htmlBuf bytes.Buffer
	if err := htmlTmpl.Execute(&htmlBuf, td); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationRenderFailed,
			fmt.Sprintf("failed to render HTML for %q", kind), err)
	}

	var txtBuf bytes.Buffer
	if err := txtTmpl.Execute(&txtBuf, td); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationRenderFailed,
			fmt.Sprintf("failed to render text for %q", kind), err)
	}

	return &types.RenderedEmail{
		Subject:  td.Subject,
		BodyHTML: htmlBuf.String(),
		BodyText: txtBuf.String(),
	}, nil
}

// buildTemplateData extracts fields from the enqueue payload into a typed
// struct for template rendering. Missing keys render as empty strings; the
// templates are written to tolerate that.
func (r *Renderer) buildTemplateData(kind types.TemplateKind, data map[string]any) templateData {
	td := templateData{
		PlayerName:    stringFromData(data, "player_name"),
		Opponent:      stringFromData(data, "opponent"),
		TimeControl:   stringFromData(data, "time_control"),
		Result:        stringFromData(data, "result"),
		GameURL:       stringFromData(data, "game_url"),
		RecipientName: stringFromData(data, "recipient_name"),
		GamesPlayed:   countFromData(data, "games_played"),
		Wins:          countFromData(data, "wins"),
		Losses:        countFromData(data, "losses"),
		Draws:         countFromData(data, "draws"),
		FormattedDate: r.clock.Now().Format("Mon, Jan 2 at 3:04 PM"),
	}

	if build, ok := subjectBuilders[kind]; ok {
		td.Subject = build(td)
	} else {
		td.Subject = string(kind)
	}
	return td
}

// stringFromData safely extracts a string value from the payload map.
func stringFromData(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	v, ok := data[key].(string)
	if !ok {
		return ""
	}
	return v
}

// countFromData extracts a numeric value as a display string. JSON decoding
// yields float64 for numbers, but ints appear when the map is built in Go.
func countFromData(data map[string]any, key string) string {
	if data == nil {
		return ""
	}
	switch v := data[key].(type) {
	case int:
		return fmt.Sprintf("%d", v)
	case int64:
		return fmt.Sprintf("%d", v)
	case float64:
		return fmt.Sprintf("%d", int64(v))
	case string:
		return v
	default:
		return ""
	}
}

var _ types.Renderer = (*Renderer)(nil)
