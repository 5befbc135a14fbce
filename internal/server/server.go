// Package server is the front line of the directory: it terminates
// OHTTP-carrying requests, drives the gateway and the binary HTTP codec,
// and mediates the mailbox store.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"pjdir/internal/constants"
	"pjdir/internal/instrument"
	"pjdir/internal/mailbox"
	"pjdir/internal/ohttp"
	"pjdir/internal/security"
	"pjdir/internal/utils"
)

type Server struct {
	Store       mailbox.Store
	Gateway     *ohttp.Gateway
	Keys        *ohttp.Manager
	ConnLimiter *security.ConnectionLimiter
	AuditLogger *security.AuditLogger

	Port    string
	SlotTTL time.Duration
	MaxPoll time.Duration

	rotateStop chan struct{}
}

func NewServer() (*Server, error) {
	store, err := mailbox.NewStore()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mailbox store: %w", err)
	}

	overlap := envDuration("PJDIR_KEY_OVERLAP_SECS", constants.DefaultKeyOverlap)
	kc, err := ohttp.NewKeyConfig(constants.DefaultKeyID)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key configuration: %w", err)
	}
	keys := ohttp.NewManager(kc, overlap)

	auditLogger, err := security.GetAuditLogger()
	if err != nil {
		log.Printf("Warning: Failed to initialize audit logger: %v", err)
	}

	s := &Server{
		Store:       store,
		Gateway:     ohttp.NewGateway(keys, constants.MaxEncapsulatedSize),
		Keys:        keys,
		ConnLimiter: security.NewConnectionLimiter(constants.MaxConnectionsPerIP),
		AuditLogger: auditLogger,
		SlotTTL:     envDuration("PJDIR_SLOT_TTL_SECS", constants.DefaultSlotTTL),
		MaxPoll:     envDuration("PJDIR_POLL_SECS", constants.MaxPollDuration),
		rotateStop:  make(chan struct{}),
	}

	return s, nil
}

// Handler assembles the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(constants.EndpointKeys, s.HandleOhttpKeys)
	mux.HandleFunc(constants.EndpointHealth, s.HandleHealth)
	mux.HandleFunc(constants.EndpointGateway, s.HandleGateway)

	var handler http.Handler = mux
	handler = security.MaxBodySize(constants.MaxEncapsulatedSize)(handler)
	handler = security.SecurityHeaders(handler)
	handler = CorsMiddleware(handler)
	handler = RecoveryMiddleware(handler)
	return handler
}

func (s *Server) Run() {
	s.Port = utils.GetEnv("PJDIR_PORT", constants.DefaultPort)
	certFile := utils.GetEnv("PJDIR_CERT_FILE", "certs/server.crt")
	keyFile := utils.GetEnv("PJDIR_KEY_FILE", "certs/server.key")

	handler := s.Handler()

	useTLS := false
	if _, err := os.Stat(certFile); err == nil {
		if _, err := os.Stat(keyFile); err == nil {
			useTLS = true
		}
	}

	var h2Handler http.Handler
	if useTLS {
		h2Handler = handler
	} else {
		h2Handler = h2c.NewHandler(handler, &http2.Server{})
	}

	server := &http.Server{
		Addr:              ":" + s.Port,
		Handler:           h2Handler,
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	if rotate := envDuration("PJDIR_KEY_ROTATE_SECS", 0); rotate > 0 {
		s.startRotation(rotate)
		log.Printf("🔑 Key rotation every %v", rotate)
	}

	if metricsAddr := utils.GetEnv("PJDIR_METRICS_ADDR", ""); metricsAddr != "" {
		instrument.StartPrometheusListener(metricsAddr)
		log.Printf("📈 Metrics listening on %s", metricsAddr)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	if useTLS {
		log.Printf("🔒 HTTPS enabled (HTTP/2)")
		go func() {
			if err := server.ListenAndServeTLS(certFile, keyFile); err != nil && err != http.ErrServerClosed {
				log.Fatalf("HTTPS server error: %v", err)
			}
		}()
	} else {
		log.Printf("🌐 HTTP mode (HTTP/2 via h2c)")
		go func() {
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("HTTP server error: %v", err)
			}
		}()
	}

	log.Printf("🚀 payjoin directory starting on :%s (key config %d)", s.Port, s.Keys.Current().ID)

	<-sigChan
	log.Println("🛑 Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	s.Cleanup()
	log.Println("✅ Server stopped")
}

// startRotation installs a fresh key configuration on every tick. The
// manager keeps the outgoing config decryptable for the overlap window.
func (s *Server) startRotation(period time.Duration) {
	ticker := time.NewTicker(period)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-s.rotateStop:
				return
			case <-ticker.C:
				oldID := s.Keys.Current().ID
				next, err := ohttp.NewKeyConfig(s.Keys.NextKeyID())
				if err != nil {
					log.Printf("⚠️  Key rotation failed: %v", err)
					continue
				}
				s.Keys.Rotate(next)
				instrument.KeyRotation()
				if s.AuditLogger != nil {
					s.AuditLogger.LogKeyRotation(oldID, next.ID)
				}
				log.Printf("🔑 Rotated key config %d -> %d", oldID, next.ID)
			}
		}
	}()
}

func (s *Server) Cleanup() {
	close(s.rotateStop)
	s.Store.Close()
}

func envDuration(key string, def time.Duration) time.Duration {
	val := utils.GetEnv(key, "")
	if val == "" {
		return def
	}
	secs, err := strconv.Atoi(val)
	if err != nil || secs < 0 {
		log.Printf("Warning: ignoring invalid %s=%q", key, val)
		return def
	}
	return time.Duration(secs) * time.Second
}
