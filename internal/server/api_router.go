package server

import (
	"encoding/json"
	"net/http"

	gmux "github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type APIRouter struct {
	*gmux.Router
	sta *State
}

type statsResponse struct {
	Mode      string
	Transport string
	BindAddr  string
	Stats
}

func APIRouterOf(sta *State) *APIRouter {
	ret := &APIRouter{
		sta: sta,
	}
	ret.registerMux()
	return ret
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

func (ar *APIRouter) registerMux() {
	ar.Router = gmux.NewRouter()
	ar.HandleFunc("/admin/stats", ar.statsHlr).Methods("GET")
	ar.Handle("/metrics", promhttp.HandlerFor(ar.sta.Registry, promhttp.HandlerOpts{})).Methods("GET")
	ar.Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Methods", "GET,OPTIONS")
	})
	ar.Use(corsMiddleware)
}

func (ar *APIRouter) statsHlr(w http.ResponseWriter, r *http.Request) {
	resp, err := json.Marshal(statsResponse{
		Mode:      ar.sta.Mode.String(),
		Transport: ar.sta.Transport,
		BindAddr:  ar.sta.BindAddr,
		Stats:     ar.sta.Observer.Snapshot(ar.sta.Valve),
	})
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(resp)
}
