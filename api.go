package main

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/CodedInternet/gopneumatic/rig/record"
	"github.com/asdine/storm/v3"
	"github.com/go-chi/chi"
	"github.com/go-chi/render"
)

//---
// Payloads
//---

type DescribePayload struct {
	Description string `json:"description"`
}

func (d *DescribePayload) Bind(r *http.Request) error {
	return nil
}

type RenamePayload struct {
	Name string `json:"name"`
}

func (p *RenamePayload) Bind(r *http.Request) error {
	if p.Name == "" {
		return errors.New("name is required")
	}
	return nil
}

//---
// Views
//---

// Status reports the running session, or idle when there is none.
func Status(w http.ResponseWriter, r *http.Request) {
	if ENV.Session == nil {
		render.Render(w, r, ErrUnavailable(errors.New("no session configured")))
		return
	}
	render.JSON(w, r, ENV.Session.Status())
}

// Stop ends the current trial early. The rampdown still runs.
func Stop(w http.ResponseWriter, r *http.Request) {
	if ENV.Session == nil {
		render.Render(w, r, ErrUnavailable(errors.New("no session configured")))
		return
	}
	ENV.Session.StopBy(operatorLabel(r))
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, ENV.Session.Status())
}

// Describe sets the description of the run in progress.
func Describe(w http.ResponseWriter, r *http.Request) {
	data := &DescribePayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}
	if ENV.Session == nil {
		render.Render(w, r, ErrUnavailable(errors.New("no session configured")))
		return
	}
	ENV.Session.SetDescriptionBy(data.Description, operatorLabel(r))
	render.NoContent(w, r)
}

func ListExperiments(w http.ResponseWriter, r *http.Request) {
	ms, err := ENV.Index.All()
	if err != nil {
		render.Render(w, r, ErrRender(err))
		return
	}
	render.JSON(w, r, ms)
}

func GetExperiment(w http.ResponseWriter, r *http.Request) {
	m, err := ENV.Index.Get(experimentName(r))
	if err != nil {
		renderIndexError(w, r, err)
		return
	}
	render.JSON(w, r, m)
}

func DescribeExperiment(w http.ResponseWriter, r *http.Request) {
	data := &DescribePayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	m, err := ENV.Index.Describe(experimentName(r), data.Description, operatorLabel(r))
	if err != nil {
		renderIndexError(w, r, err)
		return
	}
	render.JSON(w, r, m)
}

func RenameExperiment(w http.ResponseWriter, r *http.Request) {
	data := &RenamePayload{}
	if err := render.Bind(r, data); err != nil {
		render.Render(w, r, ErrInvalidRequest(err))
		return
	}

	m, err := ENV.Index.Rename(experimentName(r), data.Name)
	if err != nil {
		renderIndexError(w, r, err)
		return
	}
	render.JSON(w, r, m)
}

// DeleteExperiment drops the index record, and the files too with ?files=true.
func DeleteExperiment(w http.ResponseWriter, r *http.Request) {
	files, _ := strconv.ParseBool(r.URL.Query().Get("files"))
	if err := ENV.Index.Delete(experimentName(r), files); err != nil {
		renderIndexError(w, r, err)
		return
	}
	render.NoContent(w, r)
}

// experimentName is the {name} URL parameter. Runs in dated folders are keyed
// "<folder>/<name>", which clients send with the slash escaped as %2F.
func experimentName(r *http.Request) string {
	name := chi.URLParam(r, "name")
	if unescaped, err := url.PathUnescape(name); err == nil {
		return unescaped
	}
	return name
}

func renderIndexError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, record.ErrInvalidName):
		render.Render(w, r, ErrInvalidRequest(err))
	case errors.Is(err, storm.ErrNotFound):
		render.Render(w, r, ErrNotFound)
	case errors.Is(err, record.ErrExperimentExists):
		render.Render(w, r, ErrConflict(err))
	default:
		render.Render(w, r, ErrRender(err))
	}
}

//---
// Routes
//---

func Router(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares...)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", Login)
		r.Get("/status", Status)
		r.Get("/experiments", ListExperiments)
		r.Get("/experiments/{name}", GetExperiment)

		r.Group(func(r chi.Router) {
			// Seek, verify and validate JWT tokens
			r.Use(ValidateJWT)

			r.Get("/refresh_token", JWTRefresh)
			r.Post("/stop", Stop)
			r.Post("/describe", Describe)
			r.Post("/experiments/{name}/describe", DescribeExperiment)

			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)

				r.Post("/experiments/{name}/rename", RenameExperiment)
				r.Delete("/experiments/{name}", DeleteExperiment)
			})
		})
	})

	// Add websocket routes
	r.Route("/ws", func(r chi.Router) {
		if !ENV.DEBUG {
			r.Use(ValidateJWT)
		}
		if ENV.Conductor != nil {
			r.Get("/samples", ENV.Conductor.ServeHTTP)
		}
	})

	// raw logs and sidecars for download
	if ENV.DATADIR != "" {
		FileServer(r, "/data", http.Dir(ENV.DATADIR))
	}
	return r
}
