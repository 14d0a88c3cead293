// fabricsim is a standalone HTTP stand-in for a real switch fabric,
// serving the endpoint shape internal/fabric/restfabric.Driver calls
// against (GET /interfaces/{description}, POST /bridges, DELETE
// /bridges/{id}, POST /bridges/retain), backed by memfabric rather than
// real hardware. It plays the role the teacher's vppstand plays for a
// simulated VPP device: something a driver can be pointed at during
// development without a real switch on the other end.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/vrischmann/envconfig"

	"github.com/ng-cdi/dpb/internal/fabric"
	"github.com/ng-cdi/dpb/internal/fabric/memfabric"
	"github.com/ng-cdi/dpb/internal/model"
)

type Config struct {
	LoggerLevel string        `envconfig:"LOGGER_LEVEL"`
	ListenAddr  string        `envconfig:"LISTEN_ADDR"`
	Latency     time.Duration `envconfig:"BRIDGE_LATENCY,optional"`
}

func loggerLevelFromString(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "error":
		return zerolog.ErrorLevel
	case "warn":
		return zerolog.WarnLevel
	case "info":
		return zerolog.InfoLevel
	case "debug":
		return zerolog.DebugLevel
	}
	return zerolog.WarnLevel
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	cfg := Config{ListenAddr: "0.0.0.0:8081"}
	if err := envconfig.Init(&cfg); err != nil {
		log.Fatal().Err(err).Msg("failed to read fabricsim config")
	}
	log.Logger = log.Level(loggerLevelFromString(cfg.LoggerLevel))

	fab := memfabric.New(memfabric.Settings{Name: "fabricsim", Latency: cfg.Latency, Log: log.Logger})
	srv := &http.Server{Addr: cfg.ListenAddr, Handler: newHandler(fab)}

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("fabricsim listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("fabricsim server stopped")
		}
	}()

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = srv.Shutdown(shutdownCtx)
}

func newHandler(fab *memfabric.MemFabric) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /interfaces/{description}", handleInterface(fab))
	mux.HandleFunc("POST /bridges", handleRequestBridge(fab))
	mux.HandleFunc("DELETE /bridges/{id}", handleDestroyBridge(fab))
	mux.HandleFunc("POST /bridges/retain", handleRetain(fab))
	return mux
}

type interfaceResponse struct {
	Port  string  `json:"port"`
	Outer *uint32 `json:"outerTag,omitempty"`
}

func handleInterface(fab *memfabric.MemFabric) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		iface, err := fab.InterfacesOf(r.Context(), r.PathValue("description"))
		if err != nil {
			writeError(w, http.StatusNotFound, err)
			return
		}
		resp := interfaceResponse{Port: iface.Port}
		if iface.Outer != nil {
			outer := uint32(*iface.Outer)
			resp.Outer = &outer
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type circuitPayload struct {
	Port       string `json:"port"`
	OuterTag   uint32 `json:"outerTag,omitempty"`
	Label      uint32 `json:"label"`
	Upstream   uint64 `json:"upstreamBps"`
	Downstream uint64 `json:"downstreamBps"`
}

type bridgeRequest struct {
	Circuits []circuitPayload `json:"circuits"`
}

type bridgeResponse struct {
	ID string `json:"id"`
}

func handleRequestBridge(fab *memfabric.MemFabric) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req bridgeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}

		circuits := make(map[fabric.Circuit]fabric.TrafficFlow, len(req.Circuits))
		for _, p := range req.Circuits {
			iface := fabric.Interface{Port: p.Port}
			if p.OuterTag != 0 {
				outer := model.Label(p.OuterTag)
				iface.Outer = &outer
			}
			circuit := fabric.Circuit{Interface: iface, Label: model.Label(p.Label)}
			circuits[circuit] = fabric.TrafficFlow{
				Upstream:   model.Bandwidth(p.Upstream),
				Downstream: model.Bandwidth(p.Downstream),
			}
		}

		bridge, err := fab.RequestBridge(r.Context(), nil, circuits)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		writeJSON(w, http.StatusOK, bridgeResponse{ID: string(bridge.ID())})
	}
}

func handleDestroyBridge(fab *memfabric.MemFabric) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fab.DestroyBridge(r.Context(), fabric.BridgeID(r.PathValue("id"))); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

type retainRequest struct {
	Live []string `json:"live"`
}

func handleRetain(fab *memfabric.MemFabric) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req retainRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		live := make([]fabric.BridgeID, len(req.Live))
		for i, id := range req.Live {
			live[i] = fabric.BridgeID(id)
		}
		if err := fab.Retain(r.Context(), live); err != nil {
			writeError(w, http.StatusInternalServerError, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
