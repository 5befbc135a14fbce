package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"

	"pjdir/internal/bhttp"
	"pjdir/internal/constants"
	"pjdir/internal/instrument"
	"pjdir/internal/mailbox"
	"pjdir/internal/ohttp"
	"pjdir/internal/security"
)

// HandleHealth answers readiness probes; clients poll it before their
// first encapsulated request.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandleOhttpKeys serves the binary key configuration list.
func (s *Server) HandleOhttpKeys(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}

	b, err := s.Keys.AdvertiseBytes()
	if err != nil {
		// Startup race: no configuration installed yet.
		http.Error(w, constants.MsgNoKeyConfig, http.StatusServiceUnavailable)
		return
	}

	// Clients may cache the advertisement no longer than a rotated-out
	// key stays decryptable, or a cached key would outlive its window.
	maxAge := int(s.Keys.Overlap().Seconds())
	if maxAge > constants.KeysCacheMaxAge {
		maxAge = constants.KeysCacheMaxAge
	}
	w.Header().Set("Content-Type", constants.ContentTypeOhttpKeys)
	w.Header().Set("Cache-Control", fmt.Sprintf("max-age=%d", maxAge))
	w.Write(b)
}

// HandleGateway runs the full per-request pipeline: decapsulate, decode
// the inner message, route it to a mailbox operation, encode and
// re-encapsulate the inner response.
func (s *Server) HandleGateway(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != constants.EndpointGateway {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}

	clientIP := security.GetClientIP(r)
	if !s.ConnLimiter.TryConnect(clientIP) {
		if s.AuditLogger != nil {
			s.AuditLogger.LogConnectionLimit(clientIP)
		}
		http.Error(w, "Connection limit exceeded", http.StatusTooManyRequests)
		return
	}
	defer s.ConnLimiter.Disconnect(clientIP)

	body, err := io.ReadAll(r.Body)
	if err != nil {
		// MaxBytesReader tripping means the outer body blew the limit
		// before any cryptographic work. Anything else is a broken read,
		// usually the client going away mid-upload.
		var mbErr *http.MaxBytesError
		if errors.As(err, &mbErr) {
			http.Error(w, constants.MsgPayloadTooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, constants.MsgInvalidRequest, http.StatusBadRequest)
		return
	}

	plaintext, rc, err := s.Gateway.Decapsulate(body)
	if err != nil {
		s.rejectCrypto(w, clientIP, err)
		return
	}

	innerResp := s.routeInner(r.Context(), plaintext)

	sealed, err := s.Gateway.Encapsulate(rc, bhttp.EncodeResponse(innerResp))
	if err != nil {
		log.Printf("⚠️  Response encapsulation failed: %v", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", constants.ContentTypeOhttpRes)
	w.Write(sealed)
}

// rejectCrypto maps every decapsulation failure to one indistinguishable
// client error. The kind feeds logs and metrics only; echoing it would
// hand probes an oracle.
func (s *Server) rejectCrypto(w http.ResponseWriter, clientIP string, err error) {
	kind := "unknown"
	var dErr *ohttp.DecapsulationError
	if errors.As(err, &dErr) {
		kind = dErr.Kind.String()
	}
	instrument.DecapsulationFailure(kind)
	if s.AuditLogger != nil {
		s.AuditLogger.LogCryptoReject(clientIP, kind)
	}
	log.Printf("🚫 Rejected encapsulated request from %s (%s)", clientIP, kind)
	http.Error(w, constants.MsgInvalidRequest, http.StatusBadRequest)
}

// routeInner interprets the decapsulated message. The routing grammar is
// tiny: POST /{id}/{direction} stores a payload, GET /{id}/{direction}
// long-polls for one. Everything below runs with a valid response
// context, so failures travel back encapsulated.
func (s *Server) routeInner(ctx context.Context, plaintext []byte) *bhttp.Response {
	req, err := bhttp.DecodeRequest(plaintext, constants.MaxInnerMessageSize)
	if err != nil {
		if errors.Is(err, bhttp.ErrOversize) {
			return innerError(http.StatusRequestEntityTooLarge, constants.MsgPayloadTooLarge)
		}
		return innerError(http.StatusBadRequest, constants.MsgInvalidRequest)
	}

	id, dir, ok := parseMailboxPath(req.Path)
	if !ok {
		return innerError(http.StatusBadRequest, constants.MsgInvalidRequest)
	}

	switch req.Method {
	case http.MethodPost:
		instrument.InnerRequest("put_" + string(dir))
		return s.handlePut(ctx, id, dir, req.Body)
	case http.MethodGet:
		instrument.InnerRequest("poll_" + string(dir))
		return s.handlePoll(ctx, id, dir)
	default:
		return innerError(http.StatusMethodNotAllowed, constants.MsgMethodNotAllowed)
	}
}

func (s *Server) handlePut(ctx context.Context, id string, dir mailbox.Direction, payload []byte) *bhttp.Response {
	if len(payload) > constants.MaxPayloadSize {
		return innerError(http.StatusRequestEntityTooLarge, constants.MsgPayloadTooLarge)
	}

	if err := s.Store.Put(ctx, id, dir, payload, s.SlotTTL); err != nil {
		instrument.BackendError()
		log.Printf("⚠️  Mailbox put failed: %v", err)
		return innerError(http.StatusInternalServerError, "Backend unavailable")
	}
	instrument.MailboxPut()

	return &bhttp.Response{Status: http.StatusOK}
}

func (s *Server) handlePoll(ctx context.Context, id string, dir mailbox.Direction) *bhttp.Response {
	// The poll bound is server-enforced regardless of client wishes, so
	// one request can pin a handler for at most MaxPoll. The request
	// context parent releases the wait when the client goes away.
	waitCtx, cancel := context.WithTimeout(ctx, s.MaxPoll)
	defer cancel()

	payload, err := s.Store.WaitFor(waitCtx, id, dir)
	if err != nil {
		instrument.BackendError()
		log.Printf("⚠️  Mailbox wait failed: %v", err)
		return innerError(http.StatusInternalServerError, "Backend unavailable")
	}
	if payload == nil {
		// Nothing arrived before the deadline. An expected, frequent
		// outcome: tell the client to ask again later.
		instrument.PollTimedOut()
		return &bhttp.Response{Status: http.StatusAccepted}
	}

	instrument.PollDelivered()
	return &bhttp.Response{
		Status:  http.StatusOK,
		Headers: []bhttp.Field{{Name: "content-type", Value: constants.ContentTypeOctet}},
		Body:    payload,
	}
}

// parseMailboxPath splits "/{id}/{direction}" and validates both parts.
func parseMailboxPath(path string) (string, mailbox.Direction, bool) {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) != 2 {
		return "", "", false
	}
	id := parts[0]
	dir := mailbox.Direction(parts[1])
	if !security.ValidateMailboxID(id) || !dir.Valid() {
		return "", "", false
	}
	return id, dir, true
}

func innerError(status int, msg string) *bhttp.Response {
	return &bhttp.Response{
		Status:  status,
		Headers: []bhttp.Field{{Name: "content-type", Value: "text/plain"}},
		Body:    []byte(msg),
	}
}
