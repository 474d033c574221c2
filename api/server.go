// Package api is the HTTP and websocket surface the UI drives the decks
// through.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"beatdeck/beatgrid"
	"beatdeck/library"
	"beatdeck/mixer"
	"beatdeck/playback"
	"beatdeck/transport"
)

// Server routes UI requests to the registry and the library.
type Server struct {
	reg    *mixer.Registry
	lib    library.Library
	hub    *Hub
	pps    float64
	mux    *http.ServeMux
	logger *slog.Logger
}

// NewServer builds the routes. pixelsPerSecond is reported with waveforms so
// the UI can lay them out.
func NewServer(reg *mixer.Registry, lib library.Library, hub *Hub, pixelsPerSecond float64, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		reg:    reg,
		lib:    lib,
		hub:    hub,
		pps:    pixelsPerSecond,
		mux:    http.NewServeMux(),
		logger: logger,
	}
	s.routes()
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	s.mux.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/decks", s.listDecks)
	s.mux.HandleFunc("GET /api/decks/{id}", s.deckHandler(s.info))
	s.mux.HandleFunc("POST /api/decks/{id}/load", s.deckHandler(s.load))
	s.mux.HandleFunc("POST /api/decks/{id}/play", s.deckHandler(s.play))
	s.mux.HandleFunc("POST /api/decks/{id}/pause", s.deckHandler(s.pause))
	s.mux.HandleFunc("POST /api/decks/{id}/seek", s.deckHandler(s.seek))
	s.mux.HandleFunc("POST /api/decks/{id}/tempo", s.deckHandler(s.tempo))
	s.mux.HandleFunc("GET /api/decks/{id}/tempo/initial", s.deckHandler(s.initialTempo))
	s.mux.HandleFunc("POST /api/decks/{id}/nudge", s.deckHandler(s.nudge))
	s.mux.HandleFunc("POST /api/decks/{id}/effects", s.deckHandler(s.effect))
	s.mux.HandleFunc("POST /api/decks/{id}/camera", s.deckHandler(s.camera))
	s.mux.HandleFunc("POST /api/decks/{id}/sync", s.sync)
	s.mux.HandleFunc("GET /api/decks/{id}/waveform", s.deckHandler(s.waveform))

	s.mux.HandleFunc("GET /api/files", s.listFiles)
	s.mux.HandleFunc("POST /api/files", s.download)
	s.mux.HandleFunc("DELETE /api/files/{name}", s.deleteFile)

	if s.hub != nil {
		s.mux.Handle("GET /ws", s.hub)
	}
}

type deckFunc func(w http.ResponseWriter, r *http.Request, d *mixer.Deck)

func (s *Server) deckHandler(fn deckFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d, err := s.reg.Deck(r.PathValue("id"))
		if err != nil {
			s.writeError(w, err)
			return
		}
		fn(w, r, d)
	}
}

func (s *Server) listDecks(w http.ResponseWriter, r *http.Request) {
	decks := s.reg.Decks()
	infos := make([]mixer.Info, len(decks))
	for i, d := range decks {
		infos[i] = d.Info()
	}
	writeJSON(w, http.StatusOK, infos)
}

func (s *Server) info(w http.ResponseWriter, r *http.Request, d *mixer.Deck) {
	writeJSON(w, http.StatusOK, d.Info())
}

func (s *Server) load(w http.ResponseWriter, r *http.Request, d *mixer.Deck) {
	var req struct {
		File string `json:"file"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.File == "" {
		s.writeError(w, badRequest("file is required"))
		return
	}
	res, err := d.Load(r.Context(), req.File)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) play(w http.ResponseWriter, r *http.Request, d *mixer.Deck) {
	if err := d.Play(); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Info())
}

func (s *Server) pause(w http.ResponseWriter, r *http.Request, d *mixer.Deck) {
	d.Pause()
	writeJSON(w, http.StatusOK, d.Info())
}

func (s *Server) seek(w http.ResponseWriter, r *http.Request, d *mixer.Deck) {
	var req struct {
		Fraction *float64 `json:"fraction"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Fraction == nil {
		s.writeError(w, badRequest("fraction is required"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"seconds": d.Seek(*req.Fraction)})
}

func (s *Server) tempo(w http.ResponseWriter, r *http.Request, d *mixer.Deck) {
	var req struct {
		BPM float64 `json:"bpm"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.BPM <= 0 {
		s.writeError(w, badRequest("bpm must be positive"))
		return
	}
	d.ChangeTempo(req.BPM)
	writeJSON(w, http.StatusOK, d.Info())
}

func (s *Server) initialTempo(w http.ResponseWriter, r *http.Request, d *mixer.Deck) {
	writeJSON(w, http.StatusOK, map[string]float64{"bpm": d.InitialTempo()})
}

func (s *Server) nudge(w http.ResponseWriter, r *http.Request, d *mixer.Deck) {
	var req struct {
		Direction int `json:"direction"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	d.AdjustBeat(req.Direction)
	writeJSON(w, http.StatusOK, d.Info())
}

// effectRequest carries any one effect; Type selects which fields apply.
type effectRequest struct {
	Type      string  `json:"type"`
	DB        float64 `json:"db"`
	Frequency float64 `json:"frequency"`
	Resonance float64 `json:"resonance"`
	Mix       float64 `json:"mix"`
}

func (e effectRequest) effect() (playback.Effect, error) {
	switch e.Type {
	case "bass":
		return playback.BassGain{DB: e.DB}, nil
	case "mid":
		return playback.MidGain{DB: e.DB}, nil
	case "treble":
		return playback.TrebleGain{DB: e.DB}, nil
	case "gain":
		return playback.DeckGain{DB: e.DB}, nil
	case "color":
		return playback.ColorFX{Frequency: e.Frequency, Resonance: e.Resonance, Mix: e.Mix}, nil
	}
	return nil, badRequest(fmt.Sprintf("unknown effect %q", e.Type))
}

func (s *Server) effect(w http.ResponseWriter, r *http.Request, d *mixer.Deck) {
	var req effectRequest
	if !s.decode(w, r, &req) {
		return
	}
	e, err := req.effect()
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d.Apply(e))
}

func (s *Server) camera(w http.ResponseWriter, r *http.Request, d *mixer.Deck) {
	var req struct {
		Zoom       float64 `json:"zoom"`
		DurationMS int     `json:"durationMs"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Zoom <= 0 {
		s.writeError(w, badRequest("zoom must be positive"))
		return
	}
	d.SetCamera(req.Zoom, time.Duration(req.DurationMS)*time.Millisecond)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) sync(w http.ResponseWriter, r *http.Request) {
	var req struct {
		From string `json:"from"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	bpm, err := s.reg.SyncTempo(req.From, r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]float64{"bpm": bpm})
}

func (s *Server) waveform(w http.ResponseWriter, r *http.Request, d *mixer.Deck) {
	resp := struct {
		PixelsPerSecond float64            `json:"pixelsPerSecond"`
		Data            []float64          `json:"data"`
		Beats           []float64          `json:"beats"`
		Harmony         []beatgrid.Section `json:"harmony"`
	}{PixelsPerSecond: s.pps, Data: d.Waveform()}
	if g := d.Grid(); g != nil {
		resp.Beats = g.Beats
		resp.Harmony = g.Harmony
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listFiles(w http.ResponseWriter, r *http.Request) {
	files, err := s.lib.List(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if files == nil {
		files = []library.File{}
	}
	writeJSON(w, http.StatusOK, files)
}

func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Link string `json:"link"`
	}
	if !s.decode(w, r, &req) {
		return
	}
	if req.Link == "" {
		s.writeError(w, badRequest("link is required"))
		return
	}
	if err := s.lib.Download(r.Context(), req.Link); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusCreated)
}

func (s *Server) deleteFile(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if err := s.lib.Delete(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	s.reg.Forget(name)
	w.WriteHeader(http.StatusNoContent)
}

type requestError string

func (e requestError) Error() string { return string(e) }

func badRequest(msg string) error { return requestError(msg) }

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<16)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, badRequest("invalid JSON body: "+err.Error()))
		return false
	}
	return true
}

func statusOf(err error) int {
	var reqErr requestError
	var loadErr *mixer.LoadError
	var graphErr *playback.GraphError
	switch {
	case errors.As(err, &reqErr):
		return http.StatusBadRequest
	case errors.Is(err, mixer.ErrDeckNotFound), errors.Is(err, library.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, transport.ErrLoadInProgress), errors.Is(err, library.ErrDuplicate),
		errors.Is(err, mixer.ErrNoTempo):
		return http.StatusConflict
	case errors.Is(err, library.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.As(err, &loadErr):
		return http.StatusUnprocessableEntity
	case errors.As(err, &graphErr):
		return http.StatusInternalServerError
	}
	return http.StatusBadGateway
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	code := statusOf(err)
	if code >= 500 {
		s.logger.Error("Request failed", slog.Any("error", err))
	} else {
		s.logger.Debug("Request rejected", slog.Int("status", code), slog.Any("error", err))
	}
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}
