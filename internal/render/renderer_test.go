package render

import (
	"errors"
	"strings"
	"testing"
	"time"

	"chesshelper/internal/types"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var renderClock = fixedClock{t: time.Date(2026, 3, 14, 15, 4, 0, 0, time.UTC)}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer(renderClock)
	if err != nil {
		t.Fatalf("NewRenderer returned error: %v", err)
	}
	return r
}

func TestRenderer_GameStarted(t *testing.T) {
	r := newTestRenderer(t)

	rendered, err := r.Render(types.TemplateGameStarted, map[string]any{
		"player_name":  "hikaru",
		"opponent":     "magnus",
		"time_control": "3+0 blitz",
		"game_url":     "https://www.chess.com/game/live/12345",
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}

	if rendered.Subject != "hikaru is playing now on Chess.com" {
		t.Errorf("unexpected subject: %q", rendered.Subject)
	}
	for _, want := range []string{"hikaru", "magnus", "https://www.chess.com/game/live/12345"} {
		if !strings.Contains(rendered.BodyHTML, want) {
			t.Errorf("HTML body missing %q", want)
		}
		if !strings.Contains(rendered.BodyText, want) {
			t.Errorf("text body missing %q", want)
		}
	}
	// html/template entity-escapes the plus sign; the text body carries it raw.
	if !strings.Contains(rendered.BodyHTML, "3&#43;0 blitz") {
		t.Errorf("HTML body missing escaped time control: %s", rendered.BodyHTML)
	}
	if !strings.Contains(rendered.BodyText, "3+0 blitz") {
		t.Errorf("text body missing time control")
	}
	if !strings.Contains(rendered.BodyHTML, "Sat, Mar 14 at 3:04 PM") {
		t.Errorf("HTML body missing formatted date: %s", rendered.BodyHTML)
	}
}

func TestRenderer_GameEnded_SubjectIncludesResult(t *testing.T) {
	r := newTestRenderer(t)

	rendered, err := r.Render(types.TemplateGameEnded, map[string]any{
		"player_name": "hikaru",
		"result":      "won",
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if rendered.Subject != "hikaru finished a game (won)" {
		t.Errorf("unexpected subject: %q", rendered.Subject)
	}
}

func TestRenderer_DailyDigest_NumericCounts(t *testing.T) {
	r := newTestRenderer(t)

	// Counts arrive as float64 when the payload round-trips through JSON.
	rendered, err := r.Render(types.TemplateDailyDigest, map[string]any{
		"player_name":  "gothamchess",
		"games_played": float64(12),
		"wins":         7,
		"losses":       int64(4),
		"draws":        "1",
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	for _, want := range []string{"12", "7", "4", "1"} {
		if !strings.Contains(rendered.BodyText, want) {
			t.Errorf("text body missing count %q:\n%s", want, rendered.BodyText)
		}
	}
}

func TestRenderer_Welcome_ToleratesMissingData(t *testing.T) {
	r := newTestRenderer(t)

	rendered, err := r.Render(types.TemplateWelcome, nil)
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if rendered.Subject != "Welcome to Chess Helper" {
		t.Errorf("unexpected subject: %q", rendered.Subject)
	}
	if !strings.Contains(rendered.BodyHTML, "Welcome") {
		t.Errorf("HTML body missing greeting")
	}
}

func TestRenderer_EscapesHTMLInPayload(t *testing.T) {
	r := newTestRenderer(t)

	rendered, err := r.Render(types.TemplateGameStarted, map[string]any{
		"player_name": "<script>alert(1)</script>",
	})
	if err != nil {
		t.Fatalf("Render returned error: %v", err)
	}
	if strings.Contains(rendered.BodyHTML, "<script>") {
		t.Error("HTML body contains unescaped script tag")
	}
}

func TestRenderer_UnknownKind(t *testing.T) {
	r := newTestRenderer(t)

	_, err := r.Render(types.TemplateKind("ics_invite"), nil)
	if err == nil {
		t.Fatal("expected error for unknown template kind")
	}

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeValidationInvalidTemplate {
		t.Errorf("error code = %q, want %q", appErr.Code, types.ErrCodeValidationInvalidTemplate)
	}
}
