package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"beatdeck/beatgrid"
	"beatdeck/library"
	"beatdeck/mixer"
	"beatdeck/playback"
	"beatdeck/render"
	"beatdeck/track"
)

const testRate = 11025

type noOpener struct{}

func (noOpener) Open(context.Context, string) (io.ReadCloser, error) {
	return nil, errors.New("not cached")
}

func kicks(seconds, bpm float64) [][2]float64 {
	frames := make([][2]float64, int(seconds*testRate))
	burst := int(0.08 * testRate)
	for t := 0.3; t < seconds; t += 60 / bpm {
		start := int(math.Round(t * testRate))
		for i := 0; i < burst && start+i < len(frames); i++ {
			tt := float64(i) / testRate
			v := 0.9 * math.Sin(2*math.Pi*60*tt) * math.Exp(-tt/0.015)
			frames[start+i] = [2]float64{v, v}
		}
	}
	return frames
}

type env struct {
	srv  *httptest.Server
	reg  *mixer.Registry
	hub  *Hub
	root string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	out, err := playback.NewOutput(playback.OutputConfig{SampleRate: testRate, Device: playback.DeviceNull})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { out.Close() })

	cache := track.NewCache(noOpener{}, track.Decoder{}, 4)
	cache.Put(track.FromSamples("beat.wav", testRate, kicks(12, 128)))

	hub := NewHub(nil)
	reg := mixer.NewRegistry(out, cache, render.NewScheduler(60, hub, nil), mixer.Options{
		Detector: beatgrid.DefaultOptions(),
		Render:   render.Options{PixelsPerSecond: 50},
	})
	reg.Subscribe(hub.Publish)
	for _, id := range []string{"deck1", "deck2"} {
		if _, err := reg.Create(id); err != nil {
			t.Fatal(err)
		}
	}
	t.Cleanup(reg.Close)

	root := t.TempDir()
	srv := httptest.NewServer(NewServer(reg, library.NewDir(root), hub, 50, nil))
	t.Cleanup(srv.Close)
	t.Cleanup(hub.Close)
	return &env{srv: srv, reg: reg, hub: hub, root: root}
}

func (e *env) do(t *testing.T, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req, _ := http.NewRequest(method, e.srv.URL+path, r)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var out map[string]any
	if len(bytes.TrimSpace(raw)) > 0 && raw[0] == '{' {
		if err := json.Unmarshal(raw, &out); err != nil {
			t.Fatalf("%s %s: decode %q: %v", method, path, raw, err)
		}
	}
	return resp.StatusCode, out
}

func TestDeckLifecycle(t *testing.T) {
	e := newEnv(t)

	code, body := e.do(t, "POST", "/api/decks/deck1/load", `{"file":"beat.wav"}`)
	if code != http.StatusOK {
		t.Fatalf("load: %d %v", code, body)
	}
	if tempo := body["tempo"].(float64); math.Abs(tempo-128) > 0.5 {
		t.Errorf("tempo = %v", tempo)
	}
	if body["initialFileName"] != "beat.wav" {
		t.Errorf("initialFileName = %v", body["initialFileName"])
	}

	steps := []struct {
		method, path, body string
		want               int
		check              func(map[string]any) bool
	}{
		{"POST", "/api/decks/deck1/play", "", 200, func(b map[string]any) bool { return b["status"] == "playing" }},
		{"POST", "/api/decks/deck1/seek", `{"fraction":0.5}`, 200, func(b map[string]any) bool { return b["seconds"] == 6.0 }},
		{"POST", "/api/decks/deck1/tempo", `{"bpm":140}`, 200, func(b map[string]any) bool { return b["currentTempo"] == 140.0 }},
		{"GET", "/api/decks/deck1/tempo/initial", "", 200, func(b map[string]any) bool { return math.Abs(b["bpm"].(float64)-128) < 0.5 }},
		{"POST", "/api/decks/deck1/nudge", `{"direction":1}`, 200, nil},
		{"POST", "/api/decks/deck1/pause", "", 200, func(b map[string]any) bool { return b["status"] == "paused" }},
		{"POST", "/api/decks/deck1/pause", "", 200, func(b map[string]any) bool { return b["status"] == "paused" }},
		{"POST", "/api/decks/deck1/seek", `{}`, 400, nil},
		{"POST", "/api/decks/deck1/tempo", `nope`, 400, nil},
		{"GET", "/api/decks/deck9", "", 404, nil},
	}
	for _, s := range steps {
		code, body := e.do(t, s.method, s.path, s.body)
		if code != s.want {
			t.Errorf("%s %s = %d %v, want %d", s.method, s.path, code, body, s.want)
			continue
		}
		if s.check != nil && !s.check(body) {
			t.Errorf("%s %s body = %v", s.method, s.path, body)
		}
	}
}

func TestLoadFailure(t *testing.T) {
	e := newEnv(t)
	code, body := e.do(t, "POST", "/api/decks/deck2/load", `{"file":"missing.mp3"}`)
	if code != http.StatusUnprocessableEntity || body["error"] == nil {
		t.Errorf("load missing = %d %v", code, body)
	}
	_, info := e.do(t, "GET", "/api/decks/deck2", "")
	if info["status"] != "error" {
		t.Errorf("status = %v, want error", info["status"])
	}
	if code, _ := e.do(t, "POST", "/api/decks/deck2/load", `{}`); code != http.StatusBadRequest {
		t.Errorf("load without file = %d", code)
	}
}

func TestEffects(t *testing.T) {
	e := newEnv(t)
	tests := []struct {
		body  string
		want  int
		field string
		value float64
	}{
		{`{"type":"bass","db":30}`, 200, "bass", 12},
		{`{"type":"mid","db":-2}`, 200, "mid", -2},
		{`{"type":"treble","db":-90}`, 200, "treble", -40},
		{`{"type":"gain","db":-100}`, 200, "gain", -60},
		{`{"type":"flanger"}`, 400, "", 0},
	}
	for _, tt := range tests {
		code, body := e.do(t, "POST", "/api/decks/deck1/effects", tt.body)
		if code != tt.want {
			t.Errorf("%s = %d, want %d", tt.body, code, tt.want)
			continue
		}
		if tt.field != "" && body[tt.field] != tt.value {
			t.Errorf("%s: %s = %v, want %v", tt.body, tt.field, body[tt.field], tt.value)
		}
	}

	_, body := e.do(t, "POST", "/api/decks/deck1/effects", `{"type":"color","frequency":10,"resonance":50,"mix":0.5}`)
	color := body["color"].(map[string]any)
	if color["frequency"] != 20.0 || color["resonance"] != 25.0 || color["mix"] != 0.5 {
		t.Errorf("color = %v", color)
	}
}

func TestSyncAndWaveform(t *testing.T) {
	e := newEnv(t)
	e.do(t, "POST", "/api/decks/deck1/load", `{"file":"beat.wav"}`)
	e.do(t, "POST", "/api/decks/deck2/load", `{"file":"beat.wav"}`)
	e.do(t, "POST", "/api/decks/deck1/tempo", `{"bpm":135}`)

	code, body := e.do(t, "POST", "/api/decks/deck2/sync", `{"from":"deck1"}`)
	if code != 200 || body["bpm"] != 135.0 {
		t.Errorf("sync = %d %v", code, body)
	}

	code, body = e.do(t, "GET", "/api/decks/deck1/waveform", "")
	if code != 200 {
		t.Fatalf("waveform = %d", code)
	}
	data := body["data"].([]any)
	if len(data) != 2*12*50 {
		t.Errorf("waveform pairs = %d, want %d", len(data)/2, 12*50)
	}
	if len(body["beats"].([]any)) == 0 {
		t.Error("no beats in waveform response")
	}

	if code, _ := e.do(t, "POST", "/api/decks/deck1/camera", `{"zoom":2,"durationMs":300}`); code != http.StatusNoContent {
		t.Errorf("camera = %d", code)
	}
}

func TestFiles(t *testing.T) {
	e := newEnv(t)
	os.WriteFile(filepath.Join(e.root, "a.mp3"), []byte("x"), 0o644)

	resp, err := http.Get(e.srv.URL + "/api/files")
	if err != nil {
		t.Fatal(err)
	}
	var files []library.File
	json.NewDecoder(resp.Body).Decode(&files)
	resp.Body.Close()
	if len(files) != 1 || files[0].MP3 != "a.mp3" {
		t.Errorf("files = %+v", files)
	}

	if code, _ := e.do(t, "POST", "/api/files", `{"link":"https://example.com/v"}`); code != http.StatusNotImplemented {
		t.Errorf("download on local dir = %d, want 501", code)
	}
	if code, _ := e.do(t, "DELETE", "/api/files/a.mp3", ""); code != http.StatusNoContent {
		t.Errorf("delete = %d", code)
	}
	if code, _ := e.do(t, "DELETE", "/api/files/a.mp3", ""); code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", code)
	}
}

func TestWebsocketPush(t *testing.T) {
	e := newEnv(t)
	url := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(time.Second)
	for e.hub.Clients() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	e.hub.Paint(render.Frame{Decks: []render.VisualState{{Deck: "deck1", Zoom: 1}}})
	e.do(t, "POST", "/api/decks/deck2/effects", `{"type":"bass","db":3}`)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var kinds []string
	for len(kinds) < 2 {
		var m Message
		if err := conn.ReadJSON(&m); err != nil {
			t.Fatalf("read: %v", err)
		}
		kinds = append(kinds, m.Kind)
		if m.Kind == "event" && (m.Event == nil || m.Event.Type != mixer.EventEffect || m.Event.Deck != "deck2") {
			t.Errorf("event = %+v", m.Event)
		}
		if m.Kind == "frame" && (m.Frame == nil || m.Frame.Decks[0].Deck != "deck1") {
			t.Errorf("frame = %+v", m.Frame)
		}
	}
	if kinds[0] != "frame" || kinds[1] != "event" {
		t.Errorf("kinds = %v", kinds)
	}
}

func TestDeletedFileCannotBeLoaded(t *testing.T) {
	e := newEnv(t)
	os.WriteFile(filepath.Join(e.root, "beat.wav"), []byte("x"), 0o644)

	if code, body := e.do(t, "POST", "/api/decks/deck1/load", `{"file":"beat.wav"}`); code != http.StatusOK {
		t.Fatalf("load before delete = %d %v", code, body)
	}
	if code, _ := e.do(t, "DELETE", "/api/files/beat.wav", ""); code != http.StatusNoContent {
		t.Fatalf("delete = %d", code)
	}
	if code, _ := e.do(t, "POST", "/api/decks/deck2/load", `{"file":"beat.wav"}`); code != http.StatusUnprocessableEntity {
		t.Errorf("load after delete = %d, want 422", code)
	}
}
