// Package view renders the HTML pages and HTMX fragments.
package view

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/go-planning-poker/internal/application/room"
	"github.com/go-planning-poker/internal/application/roomstate"
	"github.com/go-planning-poker/internal/domain"
	"github.com/go-planning-poker/internal/pkg/validate"
)

//go:embed templates/*.html templates/partials/*.html
var files embed.FS

// Fragment names rendered on their own.
const (
	FragmentStories = "stories"
	FragmentStory   = "story"
	FragmentSidebar = "sidebar"
)

// Page is the data every full page receives.
type Page struct {
	Title    string
	Flashes  []domain.Flash
	OrgEmail string
	Body     any
}

// Form carries submitted values and their errors back to a form.
type Form struct {
	Values map[string]string
	Errors validate.FieldErrors
	// Error is a message not tied to one field.
	Error string
}

func NewForm() *Form {
	return &Form{Values: map[string]string{}, Errors: validate.FieldErrors{}}
}

func (f *Form) Get(name string) string { return f.Values[name] }

func (f *Form) ErrorFor(name string) string { return f.Errors[name] }

// RoomData is the shared context of the room page and its fragments.
type RoomData struct {
	Room         *domain.Room
	Actor        room.Actor
	Rows         []roomstate.StoryRow
	Participants []domain.Participant
	Cards        []string
	Version      int64
	StoryForm    *Form
}

func NewRoomData(v *room.View) RoomData {
	return RoomData{
		Room:         v.Room,
		Actor:        v.Actor,
		Rows:         v.Rows,
		Participants: v.Snapshot.Participants,
		Cards:        v.Snapshot.Cards,
		Version:      v.Version,
		StoryForm:    NewForm(),
	}
}

// StoryData is the context of one story row.
type StoryData struct {
	Room  *domain.Room
	Actor room.Actor
	Row   roomstate.StoryRow
	Cards []string
}

// Story builds the context for one row of d.
func (d RoomData) Story(row roomstate.StoryRow) StoryData {
	return StoryData{Room: d.Room, Actor: d.Actor, Row: row, Cards: d.Cards}
}

type Renderer struct {
	pages map[string]*template.Template
	base  *template.Template
}

var funcs = template.FuncMap{
	"notesURL": notesURL,
	"notesKey": notesKey,
	"voted": func(row roomstate.StoryRow) int {
		return len(row.Votes)
	},
}

// New parses the embedded templates. Each page is parsed together with the
// layout and the partials.
func New() (*Renderer, error) {
	base, err := template.New("").Funcs(funcs).ParseFS(files, "templates/layout.html", "templates/partials/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse layout: %w", err)
	}
	pageFiles, err := fs.Glob(files, "templates/*.html")
	if err != nil {
		return nil, err
	}
	r := &Renderer{pages: make(map[string]*template.Template), base: base}
	for _, f := range pageFiles {
		name := strings.TrimSuffix(path.Base(f), ".html")
		if name == "layout" {
			continue
		}
		t, err := template.Must(base.Clone()).ParseFS(files, f)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", f, err)
		}
		r.pages[name] = t
	}
	return r, nil
}

func MustNew() *Renderer {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Page writes the named page with status.
func (r *Renderer) Page(w http.ResponseWriter, status int, name string, p Page) {
	t, ok := r.pages[name]
	if !ok {
		http.Error(w, "unknown page "+name, http.StatusInternalServerError)
		return
	}
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", p); err != nil {
		slog.Error("render page", "page", name, "err", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

// Fragment renders a partial to bytes so callers can cache it.
func (r *Renderer) Fragment(name string, data any) ([]byte, error) {
	var buf bytes.Buffer
	if err := r.base.ExecuteTemplate(&buf, name, data); err != nil {
		return nil, fmt.Errorf("render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// notesURL returns the browse URL of an imported story's notes.
func notesURL(notes string) string {
	if !strings.HasPrefix(notes, domain.IssueNotesPrefix) {
		return ""
	}
	_, rest, ok := strings.Cut(notes, "\n")
	if !ok || !strings.HasPrefix(rest, "http") {
		return ""
	}
	return strings.TrimSpace(rest)
}

func notesKey(notes string) string {
	if !strings.HasPrefix(notes, domain.IssueNotesPrefix) {
		return ""
	}
	first, _, _ := strings.Cut(strings.TrimPrefix(notes, domain.IssueNotesPrefix), "\n")
	return first
}
