package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

// Stands in for the upstream vehicle price catalog during local runs. The
// dataset is small and deterministic; latency and throttling are injected
// through environment knobs.
type fakeFipeServer struct {
	start    time.Time
	latency  time.Duration
	rateLim  float64
	failRate float64

	mu         sync.Mutex
	byEndpoint map[string]int64
	totalCalls int64
}

type labelValue struct {
	Label string `json:"Label"`
	Value string `json:"Value"`
}

var brands = map[int][]labelValue{
	1: {
		{Label: "Fiat", Value: "21"},
		{Label: "Volkswagen", Value: "59"},
	},
	2: {
		{Label: "Honda", Value: "80"},
	},
	3: {
		{Label: "Scania", Value: "109"},
	},
}

var models = map[string][]labelValue{
	"21":  {{Label: "Uno Mille 1.0", Value: "4351"}, {Label: "Palio 1.0", Value: "4382"}},
	"59":  {{Label: "Gol 1.0", Value: "5229"}},
	"80":  {{Label: "CG 160 Titan", Value: "8939"}},
	"109": {{Label: "R450 6x2", Value: "9745"}},
}

var years = []labelValue{
	{Label: "2020 Gasolina", Value: "2020-1"},
	{Label: "2021 Gasolina", Value: "2021-1"},
	{Label: "2021 Diesel", Value: "2021-3"},
}

func main() {
	addr := getenvDefault("FAKE_FIPE_ADDR", ":18090")
	latencyMs := getenvIntDefault("FAKE_FIPE_LATENCY_MS", 0)
	rateLim := getenvFloatDefault("FAKE_FIPE_RATE_LIMIT", 0)
	failRate := getenvFloatDefault("FAKE_FIPE_FAIL_RATE", 0)

	srv := &fakeFipeServer{
		start:      time.Now().UTC(),
		latency:    time.Duration(latencyMs) * time.Millisecond,
		rateLim:    rateLim,
		failRate:   failRate,
		byEndpoint: make(map[string]int64),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/metrics", srv.handleMetrics)
	mux.HandleFunc("/ConsultarTabelaDeReferencia", srv.wrap(srv.handleReferenceTables))
	mux.HandleFunc("/ConsultarMarcas", srv.wrap(srv.handleBrands))
	mux.HandleFunc("/ConsultarModelos", srv.wrap(srv.handleModels))
	mux.HandleFunc("/ConsultarAnoModelo", srv.wrap(srv.handleYears))
	mux.HandleFunc("/ConsultarValorComTodosParametros", srv.wrap(srv.handlePrice))

	log.Printf("fake FIPE server listening on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatal(err)
	}
}

func (s *fakeFipeServer) wrap(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if s.latency > 0 {
			time.Sleep(s.latency)
		}
		s.recordCall(r.URL.Path)
		if s.rateLim > 0 && rand.Float64() < s.rateLim {
			http.Error(w, "too many requests", http.StatusTooManyRequests)
			return
		}
		if s.failRate > 0 && rand.Float64() < s.failRate {
			http.Error(w, "upstream error", http.StatusInternalServerError)
			return
		}
		next(w, r)
	}
}

func (s *fakeFipeServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *fakeFipeServer) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	payload := map[string]any{
		"started_at":  s.start.Format(time.RFC3339),
		"total":       atomic.LoadInt64(&s.totalCalls),
		"by_endpoint": s.byEndpoint,
	}
	writeJSON(w, payload)
}

func (s *fakeFipeServer) handleReferenceTables(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	writeJSON(w, []map[string]any{
		{"Codigo": 320, "Mes": monthLabel(now)},
		{"Codigo": 319, "Mes": monthLabel(now.AddDate(0, -1, 0))},
	})
}

func (s *fakeFipeServer) handleBrands(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		VehicleType int `json:"codigoTipoVeiculo"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	writeJSON(w, brands[payload.VehicleType])
}

func (s *fakeFipeServer) handleModels(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		BrandCode json.Number `json:"codigoMarca"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	writeJSON(w, map[string]any{"Modelos": models[payload.BrandCode.String()]})
}

func (s *fakeFipeServer) handleYears(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, years)
}

func (s *fakeFipeServer) handlePrice(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		BrandCode json.Number `json:"codigoMarca"`
		ModelCode json.Number `json:"codigoModelo"`
		YearModel string      `json:"anoModelo"`
		FuelType  json.Number `json:"codigoTipoCombustivel"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	// Diesel prices only exist for the diesel year entry; everything else
	// answers with an empty result, like the real catalog does.
	if payload.FuelType.String() == "3" && payload.YearModel != "2021" {
		writeJSON(w, map[string]any{"Valor": "", "CodigoFipe": ""})
		return
	}

	yearModel, _ := strconv.Atoi(payload.YearModel)
	writeJSON(w, map[string]any{
		"Valor":         "R$ 25.757,00",
		"Marca":         "Fiat",
		"Modelo":        "Uno Mille 1.0",
		"AnoModelo":     yearModel,
		"Combustivel":   "Gasolina",
		"CodigoFipe":    fmt.Sprintf("001%s-0", payload.ModelCode.String()),
		"MesReferencia": monthLabel(time.Now()),
		"TipoVeiculo":   1,
		"DataConsulta":  time.Now().Format("Monday, 2 January 2006 15:04"),
	})
}

func (s *fakeFipeServer) recordCall(endpoint string) {
	atomic.AddInt64(&s.totalCalls, 1)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byEndpoint[endpoint]++
}

var monthNames = []string{
	"janeiro", "fevereiro", "março", "abril", "maio", "junho",
	"julho", "agosto", "setembro", "outubro", "novembro", "dezembro",
}

func monthLabel(t time.Time) string {
	return fmt.Sprintf("%s/%d", monthNames[int(t.Month())-1], t.Year())
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}
