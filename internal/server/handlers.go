package server

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/google/uuid"

	"github.com/saylens/saylens/internal/pipeline"
	"github.com/saylens/saylens/internal/pipeline/score"
	"github.com/saylens/saylens/internal/script"
)

// assessResponse wraps a pipeline result with the request's assigned ID.
type assessResponse struct {
	OK bool   `json:"ok"`
	ID string `json:"id"`
	*pipeline.Result
}

// handleAssess grades an uploaded recording.
//
// Multipart form fields:
//
//	audio         — the recording file (required)
//	mode          — "read-aloud" or "free"; defaults by referenceText presence
//	referenceText — the script that was read; required for read-aloud
//	language      — BCP-47 recognition hint
//	level         — expected CEFR band, optional
func (s *Server) handleAssess(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		writeError(w, fmt.Errorf("%w: parse multipart form: %w", pipeline.ErrInput, err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, fmt.Errorf("%w: missing audio file (field: audio)", pipeline.ErrInput))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeError(w, fmt.Errorf("%w: read audio: %w", pipeline.ErrInput, err))
		return
	}

	referenceText := r.FormValue("referenceText")
	mode := score.Mode(r.FormValue("mode"))
	if mode == "" {
		if referenceText != "" {
			mode = score.ModeReadAloud
		} else {
			mode = score.ModeFree
		}
	}
	language := r.FormValue("language")
	if language == "" {
		language = s.cfg.DefaultLanguage
	}

	result, err := s.pipeline.Assess(r.Context(), pipeline.Request{
		Audio:         audio,
		Filename:      header.Filename,
		Mode:          mode,
		Language:      language,
		ReferenceText: referenceText,
		Level:         r.FormValue("level"),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, assessResponse{OK: true, ID: uuid.NewString(), Result: result})
}

// generateScriptRequest is the JSON body for /generate-script.
type generateScriptRequest struct {
	Category  string `json:"category"`
	TopicHint string `json:"topicHint"`
	Sentences int    `json:"sentences"`
	Length    string `json:"length"`
	Level     string `json:"level"`
}

func (s *Server) handleGenerateScript(w http.ResponseWriter, r *http.Request) {
	if s.scripts == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "script generation is not configured"})
		return
	}

	var req generateScriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: decode body: %w", pipeline.ErrInput, err))
		return
	}

	text, err := s.scripts.Generate(r.Context(), script.Request{
		Category:  req.Category,
		TopicHint: req.TopicHint,
		Sentences: req.Sentences,
		Length:    req.Length,
		Level:     req.Level,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "text": text})
}

// ttsRequest is the JSON body for /tts.
type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice"`
}

func (s *Server) handleTTS(w http.ResponseWriter, r *http.Request) {
	if s.tts == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "speech synthesis is not configured"})
		return
	}

	var req ttsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, fmt.Errorf("%w: decode body: %w", pipeline.ErrInput, err))
		return
	}
	if req.Text == "" {
		writeError(w, fmt.Errorf("%w: missing text", pipeline.ErrInput))
		return
	}

	voice := s.resolveVoice(req.Voice)
	entry, err := s.tts.Synthesize(r.Context(), req.Text, voice)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"ok":     true,
		"url":    "/uploads/" + entry.FileName,
		"voice":  voice,
		"cached": entry.Cached,
	})
}

// resolveVoice maps a client voice name through the alias table, falling back
// to the configured default.
func (s *Server) resolveVoice(voice string) string {
	s.voiceMu.RLock()
	defer s.voiceMu.RUnlock()
	if voice == "" {
		voice = s.cfg.DefaultVoice
	}
	if mapped, ok := s.cfg.VoiceAliases[voice]; ok {
		return mapped
	}
	return voice
}

// uploadNamePattern restricts served files to cache-generated names.
var uploadNamePattern = regexp.MustCompile(`^tts_[a-f0-9]{16}\.mp3$`)

// handleUpload serves synthesized audio. Files are content-addressed so they
// never change; aggressive caching is safe.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if s.tts == nil {
		http.NotFound(w, r)
		return
	}
	name := r.PathValue("file")
	if !uploadNamePattern.MatchString(name) {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	http.ServeFile(w, r, s.tts.FilePath(name))
}
