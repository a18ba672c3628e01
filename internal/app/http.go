package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"pawconnect/channels/internal/auth"
	"pawconnect/channels/internal/store"
)

const multipartMemory = 8 << 20

type principalVerifier interface {
	Principal(token string) (string, error)
}

type HTTPServer struct {
	service    *Service
	verifier   principalVerifier
	corsOrigin string
	maxUpload  int64
	logger     zerolog.Logger
}

func NewHTTPServer(service *Service, verifier principalVerifier, corsOrigin string, maxUpload int64, logger zerolog.Logger) *HTTPServer {
	return &HTTPServer{
		service:    service,
		verifier:   verifier,
		corsOrigin: corsOrigin,
		maxUpload:  maxUpload,
		logger:     logger.With().Str("component", "http").Logger(),
	}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	parts := splitPath(r.URL.Path)
	if len(parts) < 2 || parts[0] != "api" {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	principal, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}

	switch parts[1] {
	case "channels":
		s.handleChannels(w, r, principal, parts[2:])
	case "posts":
		s.handlePosts(w, r, principal, parts[2:])
	case "events":
		s.handleEvents(w, r, principal, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{}
	for name, ping := range map[string]func(context.Context) error{
		"database":     s.service.Ping,
		"object_store": s.service.PingStorage,
	} {
		if err := ping(ctx); err != nil {
			status = "not_ready"
			statusCode = http.StatusServiceUnavailable
			checks[name] = map[string]any{"status": "error", "error": err.Error()}
			continue
		}
		checks[name] = map[string]any{"status": "ok"}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

// /api/channels[/{id}[/posts|/events]]
func (s *HTTPServer) handleChannels(w http.ResponseWriter, r *http.Request, principal string, parts []string) {
	ctx := r.Context()

	if len(parts) == 0 {
		switch r.Method {
		case http.MethodGet:
			channels, err := s.service.ListChannels(ctx, principal)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, mapViews(channels, toChannelView))
		case http.MethodPost:
			var body CreateChannelInput
			if !decodeOrFail(w, r, &body) {
				return
			}
			channel, err := s.service.CreateChannel(ctx, body, principal)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, toChannelView(channel))
		default:
			methodNotAllowed(w)
		}
		return
	}

	channelID := parts[0]
	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			channel, err := s.service.GetChannel(ctx, channelID, principal)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toChannelView(channel))
		case http.MethodPut, http.MethodPatch:
			var patch ChannelPatch
			if !decodeOrFail(w, r, &patch) {
				return
			}
			channel, err := s.service.UpdateChannel(ctx, channelID, patch, principal)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toChannelView(channel))
		case http.MethodDelete:
			if err := s.service.DeleteChannel(ctx, channelID, principal); err != nil {
				s.fail(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "posts" {
		switch r.Method {
		case http.MethodGet:
			posts, err := s.service.ListPosts(ctx, channelID, principal)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, mapViews(posts, toPostView))
		case http.MethodPost:
			var body CreatePostInput
			if !decodeOrFail(w, r, &body) {
				return
			}
			post, err := s.service.CreatePost(ctx, channelID, body, principal)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, toPostView(post))
		default:
			methodNotAllowed(w)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "events" {
		switch r.Method {
		case http.MethodGet:
			events, err := s.service.ListEvents(ctx, channelID, principal)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, mapViews(events, toEventView))
		case http.MethodPost:
			var body CreateEventInput
			if !decodeOrFail(w, r, &body) {
				return
			}
			event, err := s.service.CreateEvent(ctx, channelID, body, principal)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusCreated, toEventView(event))
		default:
			methodNotAllowed(w)
		}
		return
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
}

// /api/posts/{id}[/comments[/{cid}]|/media[/{mid}]]
func (s *HTTPServer) handlePosts(w http.ResponseWriter, r *http.Request, principal string, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	ctx := r.Context()
	postID := parts[0]

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			post, err := s.service.GetPost(ctx, postID, principal)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toPostView(post))
		case http.MethodPut, http.MethodPatch:
			var patch PostPatch
			if !decodeOrFail(w, r, &patch) {
				return
			}
			post, err := s.service.UpdatePost(ctx, postID, patch, principal)
			if err != nil {
				s.fail(w, r, err)
				return
			}
			writeJSON(w, http.StatusOK, toPostView(post))
		case http.MethodDelete:
			if err := s.service.DeletePost(ctx, postID, principal); err != nil {
				s.fail(w, r, err)
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			methodNotAllowed(w)
		}
		return
	}

	switch parts[1] {
	case "comments":
		s.handleComments(w, r, principal, postID, parts[2:])
	case "media":
		s.handleMedia(w, r, principal, postID, parts[2:])
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request, principal, postID string, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		comments, err := s.service.ListComments(ctx, postID, principal)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, mapViews(comments, toCommentView))
	case len(parts) == 0 && r.Method == http.MethodPost:
		var body CreateCommentInput
		if !decodeOrFail(w, r, &body) {
			return
		}
		comment, err := s.service.CreateComment(ctx, postID, body, principal)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, toCommentView(comment))
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DeleteComment(ctx, postID, parts[0], principal); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(parts) <= 1:
		methodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleMedia(w http.ResponseWriter, r *http.Request, principal, postID string, parts []string) {
	ctx := r.Context()
	switch {
	case len(parts) == 0 && r.Method == http.MethodGet:
		items, err := s.service.ListMedia(ctx, postID, principal)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, mapViews(items, toMediaView))
	case len(parts) == 0 && r.Method == http.MethodPost:
		s.handleUpload(w, r, principal, postID)
	case len(parts) == 1 && r.Method == http.MethodGet:
		body, media, err := s.service.OpenMedia(ctx, postID, parts[0], principal)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		defer body.Close()
		header := w.Header()
		header.Set("Content-Type", media.ContentType)
		header.Set("Content-Length", strconv.FormatInt(media.SizeBytes, 10))
		header.Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadName(media.FilePath)))
		w.WriteHeader(http.StatusOK)
		if _, err := io.Copy(w, body); err != nil {
			s.logger.Warn().Err(err).Str("media_id", media.ID).Msg("media download interrupted")
		}
	case len(parts) == 1 && r.Method == http.MethodDelete:
		if err := s.service.DetachMedia(ctx, postID, parts[0], principal); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	case len(parts) <= 1:
		methodNotAllowed(w)
	default:
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	}
}

func (s *HTTPServer) handleUpload(w http.ResponseWriter, r *http.Request, principal, postID string) {
	if s.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "FILE_TOO_LARGE", "File exceeds upload limit", map[string]any{"limit": tooLarge.Limit})
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_BODY", "multipart form with a file field is required", nil)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "file is required", nil)
		return
	}
	defer file.Close()

	media, err := s.service.AttachMedia(r.Context(), postID, Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	}, principal)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toMediaView(media))
}

// /api/events/{id}[/download_ics]
func (s *HTTPServer) handleEvents(w http.ResponseWriter, r *http.Request, principal string, parts []string) {
	if len(parts) == 0 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}
	ctx := r.Context()
	eventID := parts[0]

	if len(parts) == 2 && parts[1] == "download_ics" {
		if r.Method != http.MethodGet {
			methodNotAllowed(w)
			return
		}
		body, err := s.service.EventCalendar(ctx, eventID, principal)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		header := w.Header()
		header.Set("Content-Type", "text/calendar; charset=utf-8")
		header.Set("Content-Disposition", "attachment; filename=event.ics")
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, body)
		return
	}

	if len(parts) != 1 {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
		return
	}

	switch r.Method {
	case http.MethodGet:
		event, err := s.service.GetEvent(ctx, eventID, principal)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toEventView(event))
	case http.MethodPut, http.MethodPatch:
		var patch EventPatch
		if !decodeOrFail(w, r, &patch) {
			return
		}
		event, err := s.service.UpdateEvent(ctx, eventID, patch, principal)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, toEventView(event))
	case http.MethodDelete:
		if err := s.service.DeleteEvent(ctx, eventID, principal); err != nil {
			s.fail(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		methodNotAllowed(w)
	}
}

func (s *HTTPServer) requirePrincipal(w http.ResponseWriter, r *http.Request) (string, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return "", false
	}
	principal, err := s.verifier.Principal(token)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return "", false
	}
	return principal, true
}

// fail writes the mapped error and logs anything that is not a client error.
func (s *HTTPServer) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error().Err(err).
			Str("request_id", requestID(r.Context())).
			Str("path", r.URL.Path).
			Msg("request failed")
	}
	writeError(w, status, code, message, details)
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = randomRequestID()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", reqID)

		next.ServeHTTP(writer, r)

		s.logger.Info().
			Str("request_id", reqID).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", writer.status).
			Int64("duration_ms", time.Since(started).Milliseconds()).
			Msg("request")
	})
}

type requestIDKey struct{}

func requestID(ctx context.Context) string {
	value, _ := ctx.Value(requestIDKey{}).(string)
	return value
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,PUT,PATCH,DELETE,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed", nil)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func decodeOrFail(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := decodeBody(r, target); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return false
	}
	return true
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// downloadName strips the random key prefix added at upload.
func downloadName(key string) string {
	if _, name, ok := strings.Cut(key, "_"); ok && name != "" {
		return name
	}
	return key
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, store.ErrNotFound) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	if errors.Is(err, context.Canceled) {
		return 499, "CLIENT_CLOSED", "Request cancelled", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}
