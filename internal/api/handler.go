package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"ad-selection-engine/internal/engine"
	"ad-selection-engine/internal/errortypes"
	"ad-selection-engine/internal/model"
)

const (
	headerCallerPackage    = "X-Caller-Package"
	headerCallerUID        = "X-Caller-Uid"
	headerCallerForeground = "X-Caller-Foreground"

	maxBodyBytes = 1 << 20
)

// Service is the subset of engine.Runner the transport calls.
type Service interface {
	SelectAds(ctx context.Context, in engine.Input) (engine.Outcome, error)
	ReportImpression(ctx context.Context, in engine.ReportInput) error
	SelectFromOutcomes(ctx context.Context, in engine.OutcomesInput) (engine.Outcome, error)
	UpsertCustomAudience(ctx context.Context, in engine.UpsertInput) error
	PutOverride(ctx context.Context, o model.Override, callerPackage string) error
}

var _ Service = (*engine.Runner)(nil)

type AdSelectionHandler struct {
	Svc Service
}

func NewAdSelectionHandler(svc Service) *AdSelectionHandler {
	return &AdSelectionHandler{Svc: svc}
}

type errorBody struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type outcomesRequest struct {
	IDs               []int64 `json:"ad_selection_ids"`
	Seller            string  `json:"seller"`
	SelectionLogicURI string  `json:"selection_logic_uri"`
	SelectionSignals  string  `json:"selection_signals"`
}

type upsertRequest struct {
	CustomAudience model.CustomAudience `json:"custom_audience"`
	DailyUpdateURI string               `json:"daily_update_uri"`
}

type caller struct {
	pkg        string
	uid        int
	foreground bool
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := errortypes.ReadStatus(err)
	code := httpStatus(status)
	if code >= http.StatusInternalServerError && code != http.StatusGatewayTimeout {
		log.Error().Err(err).Msg("request failed")
	}
	writeJSON(w, code, errorBody{Status: status.String(), Message: err.Error()})
}

func httpStatus(s errortypes.Status) int {
	switch s {
	case errortypes.StatusSuccess, errortypes.StatusUserConsentRevoked:
		return http.StatusOK
	case errortypes.StatusInvalidArgument:
		return http.StatusBadRequest
	case errortypes.StatusUnauthorized, errortypes.StatusCallerNotAllowed, errortypes.StatusBackgroundCaller:
		return http.StatusForbidden
	case errortypes.StatusRateLimitReached:
		return http.StatusTooManyRequests
	case errortypes.StatusTimeout:
		return http.StatusGatewayTimeout
	case errortypes.StatusNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func callerFrom(r *http.Request) (caller, error) {
	c := caller{pkg: strings.TrimSpace(r.Header.Get(headerCallerPackage))}
	if c.pkg == "" {
		return c, &errortypes.InvalidArgument{Message: headerCallerPackage + " header is required"}
	}
	if v := r.Header.Get(headerCallerUID); v != "" {
		uid, err := strconv.Atoi(v)
		if err != nil {
			return c, &errortypes.InvalidArgument{Message: headerCallerUID + " must be an integer"}
		}
		c.uid = uid
	}
	if v := r.Header.Get(headerCallerForeground); v != "" {
		fg, err := strconv.ParseBool(v)
		if err != nil {
			return c, &errortypes.InvalidArgument{Message: headerCallerForeground + " must be a boolean"}
		}
		c.foreground = fg
	}
	return c, nil
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return &errortypes.InvalidArgument{Message: "request body too large"}
		}
		return &errortypes.InvalidArgument{Message: fmt.Sprintf("malformed request body: %v", err)}
	}
	return nil
}

// SelectAds runs an auction. A suppressed auction answers 200 with an empty render uri.
func (h *AdSelectionHandler) SelectAds(w http.ResponseWriter, r *http.Request) {
	c, err := callerFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var auction model.AuctionConfig
	if err := decode(w, r, &auction); err != nil {
		writeError(w, err)
		return
	}

	out, err := h.Svc.SelectAds(r.Context(), engine.Input{
		Auction:       auction,
		CallerPackage: c.pkg,
		CallerUID:     c.uid,
		Foreground:    c.foreground,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdSelectionHandler) ReportImpression(w http.ResponseWriter, r *http.Request) {
	c, err := callerFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, &errortypes.InvalidArgument{Message: errortypes.InvalidAdSelectionID})
		return
	}
	var auction model.AuctionConfig
	if err := decode(w, r, &auction); err != nil {
		writeError(w, err)
		return
	}

	err = h.Svc.ReportImpression(r.Context(), engine.ReportInput{
		ID:            id,
		Auction:       auction,
		CallerPackage: c.pkg,
		CallerUID:     c.uid,
		Foreground:    c.foreground,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdSelectionHandler) SelectFromOutcomes(w http.ResponseWriter, r *http.Request) {
	c, err := callerFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req outcomesRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	out, err := h.Svc.SelectFromOutcomes(r.Context(), engine.OutcomesInput{
		IDs:               req.IDs,
		Seller:            req.Seller,
		SelectionLogicURI: req.SelectionLogicURI,
		SelectionSignals:  req.SelectionSignals,
		CallerPackage:     c.pkg,
		CallerUID:         c.uid,
		Foreground:        c.foreground,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *AdSelectionHandler) UpsertCustomAudience(w http.ResponseWriter, r *http.Request) {
	c, err := callerFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var req upsertRequest
	if err := decode(w, r, &req); err != nil {
		writeError(w, err)
		return
	}

	err = h.Svc.UpsertCustomAudience(r.Context(), engine.UpsertInput{
		Audience:       req.CustomAudience,
		DailyUpdateURI: req.DailyUpdateURI,
		CallerPackage:  c.pkg,
		CallerUID:      c.uid,
		Foreground:     c.foreground,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdSelectionHandler) PutOverride(w http.ResponseWriter, r *http.Request) {
	c, err := callerFrom(r)
	if err != nil {
		writeError(w, err)
		return
	}
	var o model.Override
	if err := decode(w, r, &o); err != nil {
		writeError(w, err)
		return
	}
	if err := h.Svc.PutOverride(r.Context(), o, c.pkg); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
