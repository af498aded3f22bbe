package pipeline

// Task bodies keep the wire keys of the upstream catalog contract so queues
// can be shared with other consumers of the same feed.

// ManufacturerTask is emitted by the lister, one per brand.
type ManufacturerTask struct {
	ReferenceTableCode  int    `json:"codigoTabelaReferencia" validate:"required"`
	ReferenceMonthLabel string `json:"mesReferenciaAno"`
	ManufacturerCode    string `json:"codigoMarca" validate:"required"`
	ManufacturerName    string `json:"nomeMarca"`
	VehicleTypeCode     int    `json:"codigoTipoVeiculo" validate:"required"`
}

// ModelTask is emitted by the expander, one per model.
type ModelTask struct {
	Manufacturer        string `json:"manufacturer"`
	ManufacturerCode    string `json:"manufacturer_code" validate:"required"`
	Model               string `json:"model"`
	ModelCode           string `json:"model_code" validate:"required"`
	VehicleTypeCode     int    `json:"vehicle_type" validate:"required"`
	ReferenceMonthLabel string `json:"mesReferenciaAno"`
	ReferenceTableCode  int    `json:"codigoTabelaReferencia" validate:"required"`
}

// PricedRowTask is emitted by the collector, one per priced
// (model, year, fuel) combination, and consumed by the ingestor.
type PricedRowTask struct {
	Manufacturer        string `json:"manufacturer" validate:"required"`
	ManufacturerCode    string `json:"manufacturer_code" validate:"required"`
	Model               string `json:"model" validate:"required"`
	ModelCode           string `json:"model_code" validate:"required"`
	ModelYearLabel      string `json:"model_year"`
	ModelYearCode       string `json:"model_year_code"`
	FipeValue           string `json:"fipe_value"`
	FipeCode            string `json:"fipe_code" validate:"required"`
	FuelTypeCode        string `json:"fuel_type"`
	VehicleTypeCode     int    `json:"vehicle_type" validate:"required"`
	ReferenceMonthLabel string `json:"mesReferenciaAno"`
	ReferenceTableCode  int    `json:"codigoTabelaReferencia"`
}
