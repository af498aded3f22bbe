package catalog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"fipe-pipeline/internal/observability/metrics"
)

// VehicleType is the catalog's closed vehicle-type enumeration.
type VehicleType int

const (
	VehicleTypeCar        VehicleType = 1
	VehicleTypeMotorcycle VehicleType = 2
	VehicleTypeTruck      VehicleType = 3
)

// ProcessingOrder is the fixed order in which the lister walks vehicle types.
var ProcessingOrder = []VehicleType{VehicleTypeTruck, VehicleTypeCar, VehicleTypeMotorcycle}

// Name returns a human-readable vehicle type name for logs.
func (v VehicleType) Name() string {
	switch v {
	case VehicleTypeCar:
		return "car"
	case VehicleTypeMotorcycle:
		return "motorcycle"
	case VehicleTypeTruck:
		return "truck"
	}
	return "unknown"
}

// ReferenceTable identifies the catalog's monthly pricing snapshot.
type ReferenceTable struct {
	Code       int
	MonthLabel string
}

// Brand is one manufacturer entry as listed by the catalog.
type Brand struct {
	Code  string
	Label string
}

// Model is one vehicle model under a brand.
type Model struct {
	Code  string
	Label string
}

// ModelYear is one parsed year entry for a model.
type ModelYear struct {
	YearModel string
	Label     string
}

// Price is the catalog's answer for one exact (model, year, fuel) combination.
type Price struct {
	Value          string
	FipeCode       string
	Brand          string
	Model          string
	ModelYear      int
	Fuel           string
	ReferenceMonth string
}

// StatusError is returned for non-2xx upstream responses with the
// status code intact so callers can decide on retry.
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("catalog: http %d", e.Code)
}

// IsTooManyRequests reports whether err is an upstream HTTP 429.
func IsTooManyRequests(err error) bool {
	var statusErr *StatusError
	return errors.As(err, &statusErr) && statusErr.Code == http.StatusTooManyRequests
}

// Client is a minimal FIPE catalog REST client. It holds no reference-table
// state: the current table is fetched once per pipeline run by the caller
// and passed into every listing call.
type Client struct {
	baseURL string
	client  *http.Client
	pause   time.Duration
	sleep   func(ctx context.Context, d time.Duration)
	logger  *log.Logger
}

// Option configures the client.
type Option func(*Client)

// WithPause overrides the inter-request pacing delay.
func WithPause(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.pause = d
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.client = hc
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(logger *log.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithSleep overrides the sleep function (tests).
func WithSleep(sleep func(ctx context.Context, d time.Duration)) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewClient constructs a catalog client.
func NewClient(baseURL string, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, errors.New("catalog: empty base url")
	}
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 30 * time.Second},
		pause:   time.Second,
		sleep:   sleepContext,
		logger:  log.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

// Period selects a specific reference month; the zero value means latest.
type Period struct {
	Month int
	Year  int
}

var monthNames = map[int]string{
	1:  "janeiro",
	2:  "fevereiro",
	3:  "março",
	4:  "abril",
	5:  "maio",
	6:  "junho",
	7:  "julho",
	8:  "agosto",
	9:  "setembro",
	10: "outubro",
	11: "novembro",
	12: "dezembro",
}

// MonthLabel formats a period the way the catalog labels reference months,
// e.g. "março/2026".
func (p Period) MonthLabel() (string, error) {
	if p.Month < 1 || p.Month > 12 {
		return "", fmt.Errorf("catalog: month out of range: %d", p.Month)
	}
	return fmt.Sprintf("%s/%d", monthNames[p.Month], p.Year), nil
}

type referenceTableEntry struct {
	Codigo int    `json:"Codigo"`
	Mes    string `json:"Mes"`
}

// CurrentReferenceTable fetches the reference-table list and selects the
// entry for the given period, or the newest one for the zero period.
func (c *Client) CurrentReferenceTable(ctx context.Context, period Period) (ReferenceTable, error) {
	var entries []referenceTableEntry
	if err := c.doJSON(ctx, "/ConsultarTabelaDeReferencia", nil, &entries); err != nil {
		return ReferenceTable{}, err
	}
	if len(entries) == 0 {
		return ReferenceTable{}, errors.New("catalog: no reference tables returned")
	}
	if period.Month == 0 && period.Year == 0 {
		first := entries[0]
		return ReferenceTable{Code: first.Codigo, MonthLabel: strings.TrimSpace(first.Mes)}, nil
	}
	wanted, err := period.MonthLabel()
	if err != nil {
		return ReferenceTable{}, err
	}
	for _, entry := range entries {
		if strings.EqualFold(strings.TrimSpace(entry.Mes), wanted) {
			return ReferenceTable{Code: entry.Codigo, MonthLabel: strings.TrimSpace(entry.Mes)}, nil
		}
	}
	return ReferenceTable{}, fmt.Errorf("catalog: no reference table for %s", wanted)
}

type labelValue struct {
	Label string          `json:"Label"`
	Value json.RawMessage `json:"Value"`
}

func (lv labelValue) value() string {
	var asString string
	if err := json.Unmarshal(lv.Value, &asString); err == nil {
		return asString
	}
	return strings.Trim(string(lv.Value), `"`)
}

// ListBrands returns the ordered brand list for one vehicle type.
func (c *Client) ListBrands(ctx context.Context, table ReferenceTable, vehicleType VehicleType) ([]Brand, error) {
	c.sleep(ctx, c.pause)
	body := map[string]any{
		"codigoTabelaReferencia": table.Code,
		"codigoTipoVeiculo":      int(vehicleType),
	}
	var entries []labelValue
	if err := c.doJSON(ctx, "/ConsultarMarcas", body, &entries); err != nil {
		return nil, err
	}
	brands := make([]Brand, 0, len(entries))
	for _, entry := range entries {
		brands = append(brands, Brand{Code: entry.value(), Label: entry.Label})
	}
	return brands, nil
}

type modelsResponse struct {
	Modelos []labelValue `json:"Modelos"`
}

// ListModels returns the models under one brand.
func (c *Client) ListModels(ctx context.Context, table ReferenceTable, brandCode string, vehicleType VehicleType) ([]Model, error) {
	c.sleep(ctx, c.pause)
	body := map[string]any{
		"codigoTabelaReferencia": table.Code,
		"codigoTipoVeiculo":      int(vehicleType),
		"codigoMarca":            brandCode,
	}
	var resp modelsResponse
	if err := c.doJSON(ctx, "/ConsultarModelos", body, &resp); err != nil {
		return nil, err
	}
	models := make([]Model, 0, len(resp.Modelos))
	for _, entry := range resp.Modelos {
		models = append(models, Model{Code: entry.value(), Label: entry.Label})
	}
	return models, nil
}

// ListYearsAndFuels returns the parsed model years and the set of fuel-type
// codes the catalog advertises for one model. Fuel discovery is a side
// channel of the year listing; it is surfaced as an explicit return value.
func (c *Client) ListYearsAndFuels(ctx context.Context, table ReferenceTable, manufacturerCode, modelCode string, vehicleType VehicleType) ([]ModelYear, []string, error) {
	c.sleep(ctx, c.pause)
	body := map[string]any{
		"codigoTabelaReferencia": table.Code,
		"codigoTipoVeiculo":      int(vehicleType),
		"codigoMarca":            manufacturerCode,
		"codigoModelo":           modelCode,
	}
	var entries []labelValue
	if err := c.doJSON(ctx, "/ConsultarAnoModelo", body, &entries); err != nil {
		return nil, nil, err
	}
	years, fuels := parseYearEntries(entries, c.logger)
	return years, fuels, nil
}

type priceResponse struct {
	Valor         string `json:"Valor"`
	Marca         string `json:"Marca"`
	Modelo        string `json:"Modelo"`
	AnoModelo     int    `json:"AnoModelo"`
	Combustivel   string `json:"Combustivel"`
	CodigoFipe    string `json:"CodigoFipe"`
	MesReferencia string `json:"MesReferencia"`
}

// GetPrice fetches the price for one exact (model, year, fuel) combination.
// This is the finest-grained unit of upstream work; request volume is
// years × fuels per model.
func (c *Client) GetPrice(ctx context.Context, table ReferenceTable, manufacturerCode, modelCode, yearModel string, vehicleType VehicleType, fuelType string) (Price, error) {
	c.sleep(ctx, c.pause)
	body := map[string]any{
		"codigoTabelaReferencia": table.Code,
		"codigoTipoVeiculo":      int(vehicleType),
		"codigoMarca":            manufacturerCode,
		"codigoModelo":           modelCode,
		"anoModelo":              yearModel,
		"codigoTipoCombustivel":  fuelType,
		"modeloCodigoExterno":    "",
		"tipoConsulta":           "tradicional",
	}
	var resp priceResponse
	if err := c.doJSON(ctx, "/ConsultarValorComTodosParametros", body, &resp); err != nil {
		return Price{}, err
	}
	return Price{
		Value:          resp.Valor,
		FipeCode:       resp.CodigoFipe,
		Brand:          resp.Marca,
		Model:          resp.Modelo,
		ModelYear:      resp.AnoModelo,
		Fuel:           resp.Combustivel,
		ReferenceMonth: strings.TrimSpace(resp.MesReferencia),
	}, nil
}

func (c *Client) doJSON(ctx context.Context, path string, body any, out any) error {
	start := time.Now()
	err := c.do(ctx, path, body, out)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
	}
	metrics.ObserveCatalogRequest(strings.TrimPrefix(path, "/"), result, time.Since(start))
	return err
}

func (c *Client) do(ctx context.Context, path string, body any, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(payload)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
