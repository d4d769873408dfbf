package api

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/scan"
	"github.com/sells-group/petscan/internal/store"
)

// submitBody is the JSON form of a scan submission.
type submitBody struct {
	UserID       string   `json:"userId"`
	PetID        string   `json:"petId"`
	Image        string   `json:"image"`
	ProductName  string   `json:"productName"`
	Brand        string   `json:"brand"`
	ServingSizeG *float64 `json:"servingSizeG"`
}

type submitResponse struct {
	ScanID string           `json:"scanId"`
	Status model.ScanStatus `json:"status"`
}

// scanResponse is the status record, with the owner-facing message for
// failed scans.
type scanResponse struct {
	*model.Scan
	Message string `json:"message,omitempty"`
}

func (h *handler) submitScan(w http.ResponseWriter, r *http.Request) {
	req, err := h.parseSubmit(w, r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.UserID == "" {
		req.UserID = r.Header.Get("X-User-ID")
	}

	id, err := h.svc.SubmitScan(r.Context(), req)
	if err != nil {
		var invalid *scan.InvalidRequestError
		if errors.As(err, &invalid) {
			writeError(w, http.StatusBadRequest, invalid.Error())
			return
		}
		zap.L().Error("api: submit scan", zap.String("pet_id", req.PetID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start scan")
		return
	}

	writeJSON(w, http.StatusAccepted, submitResponse{ScanID: id, Status: model.ScanStatusPending})
}

func (h *handler) parseSubmit(w http.ResponseWriter, r *http.Request) (model.ScanRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.opts.MaxImageBytes+1<<20)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return h.parseMultipart(r)
	}

	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return model.ScanRequest{}, eris.New("invalid request body")
	}
	image, err := base64.StdEncoding.DecodeString(body.Image)
	if err != nil {
		return model.ScanRequest{}, eris.New("image must be base64 encoded")
	}
	if int64(len(image)) > h.opts.MaxImageBytes {
		return model.ScanRequest{}, eris.New("image too large")
	}
	return model.ScanRequest{
		UserID:          body.UserID,
		PetID:           body.PetID,
		Image:           image,
		ProductNameHint: optional(body.ProductName),
		BrandHint:       optional(body.Brand),
		ServingSizeG:    body.ServingSizeG,
	}, nil
}

func (h *handler) parseMultipart(r *http.Request) (model.ScanRequest, error) {
	if err := r.ParseMultipartForm(h.opts.MaxImageBytes); err != nil {
		return model.ScanRequest{}, eris.New("invalid multipart form")
	}
	file, _, err := r.FormFile("image")
	if err != nil {
		return model.ScanRequest{}, eris.New("image is required")
	}
	defer file.Close() //nolint:errcheck

	image, err := io.ReadAll(io.LimitReader(file, h.opts.MaxImageBytes+1))
	if err != nil {
		return model.ScanRequest{}, eris.New("could not read image")
	}
	if int64(len(image)) > h.opts.MaxImageBytes {
		return model.ScanRequest{}, eris.New("image too large")
	}

	req := model.ScanRequest{
		UserID:          r.FormValue("user_id"),
		PetID:           r.FormValue("pet_id"),
		Image:           image,
		ProductNameHint: optional(r.FormValue("product_name")),
		BrandHint:       optional(r.FormValue("brand")),
	}
	if s := r.FormValue("serving_size_g"); s != "" {
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return model.ScanRequest{}, eris.New("serving_size_g must be a number")
		}
		req.ServingSizeG = &v
	}
	return req, nil
}

func (h *handler) getScan(w http.ResponseWriter, r *http.Request) {
	sc, err := h.svc.GetScan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.scanError(w, err)
		return
	}
	resp := scanResponse{Scan: sc}
	if sc.Status == model.ScanStatusFailed {
		resp.Message = scan.FailureMessage(sc.Error)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) getResult(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.GetScanResult(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		var notReady *scan.NotReadyError
		if errors.As(err, &notReady) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"status": string(notReady.Status),
				"error":  notReady.Error(),
			})
			return
		}
		h.scanError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *handler) cancelScan(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.svc.CancelScan(r.Context(), id); err != nil {
		var invalid *scan.InvalidStateError
		if errors.As(err, &invalid) {
			writeJSON(w, http.StatusConflict, map[string]string{
				"status": string(invalid.Status),
				"error":  invalid.Error(),
			})
			return
		}
		h.scanError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, submitResponse{ScanID: id, Status: model.ScanStatusCancelled})
}

func (h *handler) listScans(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.ScanFilter{
		PetID:  q.Get("pet_id"),
		Status: model.ScanStatus(q.Get("status")),
	}
	if filter.Status != "" && !filter.Status.Valid() {
		writeError(w, http.StatusBadRequest, "unknown status")
		return
	}
	var err error
	if filter.Limit, err = intParam(q.Get("limit")); err != nil {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return
	}
	if filter.Offset, err = intParam(q.Get("offset")); err != nil {
		writeError(w, http.StatusBadRequest, "offset must be a non-negative integer")
		return
	}

	scans, err := h.store.ListScans(r.Context(), filter)
	if err != nil {
		zap.L().Error("api: list scans", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not list scans")
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

func (h *handler) scanError(w http.ResponseWriter, err error) {
	if errors.Is(err, scan.ErrScanNotFound) {
		writeError(w, http.StatusNotFound, "scan not found")
		return
	}
	zap.L().Error("api: scan request failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return 0, eris.Errorf("invalid integer %q", s)
	}
	return v, nil
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
