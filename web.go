package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"

	"github.com/impostor-party/impostor/internal/directory"
	"github.com/impostor-party/impostor/internal/events"
	"github.com/impostor-party/impostor/internal/game"
	"github.com/impostor-party/impostor/internal/logger"
	"github.com/impostor-party/impostor/internal/protocol"
)

const timeout time.Duration = 10 * time.Second

func securityHeaders(cfg *Config, w http.ResponseWriter) {
	w.Header().Set("Cross-Origin-Embedder-Policy", "require-corp")
	w.Header().Set("Cross-Origin-Opener-Policy", "same-origin")
	w.Header().Set("Cross-Origin-Resource-Policy", "same-site")
	w.Header().Set("Permissions-Policy", "geolocation=(), midi=(), sync-xhr=(), microphone=(), camera=(), magnetometer=(), gyroscope=(), fullscreen=(), payment=()")
	w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "default-src 'self'")

	if cfg.scheme() == "https" {
		w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains; preload")
	}
}

func realIP(r *http.Request) string {
	host, port, _ := net.SplitHostPort(r.RemoteAddr)
	if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	} else if ip := r.Header.Get("X-Real-IP"); ip != "" {
		if net.ParseIP(ip) != nil {
			host = ip
		}
	}
	if net.ParseIP(host) != nil && strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		return host + ":" + port
	}
	return host
}

func serveVersion(cfg *Config, log *logger.Logger) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		startTime := time.Now()

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)
		w.WriteHeader(http.StatusOK)

		written, err := w.Write([]byte("impostor v" + releaseVersion + "\n"))
		if err != nil {
			log.Errorf("writing version page: %v", err)

			return
		}

		log.Debugf("served version page (%s) to %s in %s",
			humanReadableSize(int64(written)),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)
	}
}

func serveHealthCheck(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write([]byte("Ok\n"))
	}
}

func serveRobots(cfg *Config) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		securityHeaders(cfg, w)

		_, _ = w.Write([]byte("User-agent: *\nDisallow: /\n"))
	}
}

// serveRoomList is the REST mirror of the rooms:list action, for clients
// that want to browse before opening a websocket.
func serveRoomList(cfg *Config, mgr *game.Manager) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		filter := protocol.RoomFilter{
			Region:   r.URL.Query().Get("region"),
			OpenOnly: r.URL.Query().Get("open") == "true",
		}
		if filter.Region == "" {
			filter.Region = directory.AnyRegion
		}

		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		securityHeaders(cfg, w)

		if err := json.NewEncoder(w).Encode(mgr.ListRooms(filter)); err != nil {
			http.Error(w, "encoding failed", http.StatusInternalServerError)
		}
	}
}

func ServePage(ctx context.Context, cfg *Config) error {
	logConfig := logger.DefaultConfig()
	if cfg.verbose {
		logConfig.Level = "debug"
	}
	if cfg.logFile != "" {
		logConfig.FilePath = cfg.logFile
	}
	logger.Init(logConfig)
	log := logger.New("server")

	timeZone := os.Getenv("TZ")
	if timeZone != "" {
		local, err := time.LoadLocation(timeZone)
		if err != nil {
			return err
		}
		time.Local = local
	}

	log.Infof("impostor v%s starting", releaseVersion)

	pub, err := events.Connect(cfg.natsURL, logger.New("events"))
	if err != nil {
		return err
	}
	defer pub.Close()

	dir := directory.New(logger.New("directory"))
	mgr := game.NewManager(game.Config{
		DefaultHintSeconds: cfg.hintSeconds,
		DefaultVoteSeconds: cfg.voteSeconds,
		DefaultMaxPlayers:  cfg.maxPlayers,
		GhostGrace:         cfg.ghostGrace,
		LobbyIdleTimeout:   cfg.lobbyIdleTimeout,
		GameMaxDuration:    cfg.gameMaxDuration,
		JanitorInterval:    cfg.janitorInterval,
	}, dir, pub, logger.New("game"))

	janitorCtx, cancelJanitor := context.WithCancel(ctx)
	defer cancelJanitor()
	go mgr.RunJanitor(janitorCtx)

	mux := httprouter.New()

	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.bind, strconv.Itoa(cfg.port)),
		Handler:           mux,
		IdleTimeout:       10 * time.Minute,
		ReadTimeout:       timeout,
		ReadHeaderTimeout: timeout,
		WriteTimeout:      timeout,
	}

	mux.PanicHandler = func(w http.ResponseWriter, r *http.Request, i any) {
		log.Errorf("panic serving %s: %v", r.URL.Path, i)
		securityHeaders(cfg, w)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}

	cfg.prefix = strings.TrimSuffix(cfg.prefix, "/")

	mux.GET(cfg.prefix+"/healthz", serveHealthCheck(cfg))
	mux.GET(cfg.prefix+"/robots.txt", serveRobots(cfg))
	mux.GET(cfg.prefix+"/version", serveVersion(cfg, log))
	mux.GET(cfg.prefix+"/rooms", serveRoomList(cfg, mgr))
	mux.GET(cfg.prefix+"/rooms/:code/qr", serveRoomQR(cfg))
	mux.GET(cfg.prefix+"/ws", serveWebsocket(cfg, mgr, logger.New("ws")))

	if cfg.profile {
		registerProfileHandlers(cfg, mux)
	}

	go func() {
		var err error
		log.Infof("listening on %s://%s%s/", cfg.scheme(), srv.Addr, cfg.prefix)
		if cfg.tlsKey != "" && cfg.tlsCert != "" {
			err = srv.ListenAndServeTLS(cfg.tlsCert, cfg.tlsKey)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Errorf("server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)

	return nil
}
