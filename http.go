package transactionapp

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// amountPattern allows a positive decimal with at most 2 fractional
// digits; the upper bound is checked separately.
var amountPattern = regexp.MustCompile(`^\d+(\.\d{1,2})?$`)

var amountUpperBound = decimal.NewFromInt(1_000_000_000)

func newFieldValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// amount must be a positive decimal below 1e9 with optional 2 decimals
	_ = v.RegisterValidation("txnamount", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if !amountPattern.MatchString(s) {
			return false
		}
		d, err := decimal.NewFromString(s)
		if err != nil {
			return false
		}
		return d.IsPositive() && d.LessThan(amountUpperBound)
	})
	return v
}

func NewHTTPHandler(svc Service, accounts AccountStore, ledger AuthorizationLedger, log *zerolog.Logger) http.Handler {
	node, err := snowflake.NewNode(1)
	if err != nil {
		log.Err(err).Msg("request ID node init failed; proceeding without request IDs")
	}
	hndlr := &httpHandler{
		Svc:      svc,
		Accounts: accounts,
		Ledger:   ledger,
		Log:      log,
		Validate: newFieldValidator(),
		Node:     node,
	}
	mux := chi.NewMux()
	mux.NotFound(HTTPNotFound)
	mux.Use(hndlr.withRequestID)
	mux.Get("/ping", hndlr.Ping)
	mux.Put("/authorization/{messageId}", hndlr.Authorize)
	mux.Put("/load/{messageId}", hndlr.Load)
	mux.Post("/user", hndlr.CreateUser)
	mux.Get("/user", hndlr.ListUsers)
	mux.Get("/responses", hndlr.Responses)

	return mux
}

type httpHandler struct {
	Svc      Service
	Accounts AccountStore
	Ledger   AuthorizationLedger
	Log      *zerolog.Logger
	Validate *validator.Validate
	Node     *snowflake.Node
}

// withRequestID tags the response and the request-scoped logger with a
// snowflake ID so log lines from one request can be correlated.
func (h *httpHandler) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.Node != nil {
			rid := h.Node.Generate().String()
			w.Header().Set("X-Request-Id", rid)
			l := h.Log.With().Str("req_id", rid).Logger()
			r = r.WithContext(l.WithContext(r.Context()))
		}
		next.ServeHTTP(w, r)
	})
}

func (h *httpHandler) logger(r *http.Request) *zerolog.Logger {
	if h.Node != nil {
		return zerolog.Ctx(r.Context())
	}
	return h.Log
}

func (h *httpHandler) Ping(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]string{
		"serverTime": time.Now().Format(time.RFC3339),
	}
	json.NewEncoder(w).Encode(resp)
}

func (h *httpHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r)
	buf, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		log.Err(err).Str("method", "authorize").Msg("error reading HTTP request")
		WriteHTTPError(w, ErrInternalServer)
		return
	}
	var req AuthorizationRequest
	if err = json.Unmarshal(buf, &req); err != nil {
		log.Err(err).Str("method", "authorize").Msg("error unmarshalling JSON")
		WriteHTTPError(w, ErrBadRequest{Fields: map[string]string{"request body": "malformed JSON"}})
		return
	}
	if err = h.Validate.Struct(req); err != nil {
		WriteHTTPError(w, fieldErrors(err))
		return
	}

	messageID := chi.URLParam(r, "messageId")
	resp, err := h.Svc.Authorize(r.Context(), messageID, req)
	if err != nil {
		log.Err(err).Str("method", "authorize").Str("message_id", messageID).Msg("authorize failed")
		WriteHTTPError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err = json.NewEncoder(w).Encode(resp); err != nil {
		log.Err(err).Str("method", "authorize").Msg("error encoding response")
	}
}

func (h *httpHandler) Load(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r)
	buf, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		log.Err(err).Str("method", "load").Msg("error reading HTTP request")
		WriteHTTPError(w, ErrInternalServer)
		return
	}
	var req LoadRequest
	if err = json.Unmarshal(buf, &req); err != nil {
		log.Err(err).Str("method", "load").Msg("error unmarshalling JSON")
		WriteHTTPError(w, ErrBadRequest{Fields: map[string]string{"request body": "malformed JSON"}})
		return
	}
	if err = h.Validate.Struct(req); err != nil {
		WriteHTTPError(w, fieldErrors(err))
		return
	}

	messageID := chi.URLParam(r, "messageId")
	resp, err := h.Svc.Load(r.Context(), messageID, req)
	if err != nil {
		log.Err(err).Str("method", "load").Str("message_id", messageID).Msg("load failed")
		WriteHTTPError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err = json.NewEncoder(w).Encode(resp); err != nil {
		log.Err(err).Str("method", "load").Msg("error encoding response")
	}
}

type createUserJSONReq struct {
	Currency string          `json:"currency" validate:"required,oneof=USD INR"`
	Balance  decimal.Decimal `json:"balance"`
}

func (h *httpHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r)
	buf, err := io.ReadAll(r.Body)
	defer r.Body.Close()
	if err != nil {
		log.Err(err).Str("method", "create_user").Msg("error reading HTTP request")
		WriteHTTPError(w, ErrInternalServer)
		return
	}
	var req createUserJSONReq
	if err = json.Unmarshal(buf, &req); err != nil {
		log.Err(err).Str("method", "create_user").Msg("error unmarshalling JSON")
		WriteHTTPError(w, ErrBadRequest{Fields: map[string]string{"request body": "malformed JSON"}})
		return
	}
	if err = h.Validate.Struct(req); err != nil {
		WriteHTTPError(w, fieldErrors(err))
		return
	}

	u, err := h.Accounts.CreateUser(r.Context(), User{
		Currency: req.Currency,
		Balance:  req.Balance,
	})
	if err != nil {
		log.Err(err).Str("method", "create_user").Msg("error creating user")
		WriteHTTPError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	if err = json.NewEncoder(w).Encode(u); err != nil {
		log.Err(err).Str("method", "create_user").Msg("error encoding response")
	}
}

func (h *httpHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r)
	users, err := h.Accounts.ListUsers(r.Context())
	if err != nil {
		log.Err(err).Str("method", "list_users").Msg("error listing users")
		WriteHTTPError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(users); err != nil {
		log.Err(err).Str("method", "list_users").Msg("error encoding response")
	}
}

// Responses lists every declined authorization. With ?format=pdf the same
// records are rendered as a report.
func (h *httpHandler) Responses(w http.ResponseWriter, r *http.Request) {
	log := h.logger(r)
	recs, err := h.Ledger.List(r.Context())
	if err != nil {
		log.Err(err).Str("method", "responses").Msg("error listing records")
		WriteHTTPError(w, err)
		return
	}

	if r.URL.Query().Get("format") == "pdf" {
		w.Header().Set("Content-Type", "application/pdf")
		if err = WriteDeclinedReport(w, recs); err != nil {
			log.Err(err).Str("method", "responses").Msg("error writing PDF report")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err = json.NewEncoder(w).Encode(recs); err != nil {
		log.Err(err).Str("method", "responses").Msg("error encoding response")
	}
}

func fieldErrors(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return ErrBadRequest{Fields: map[string]string{"request body": err.Error()}}
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = "failed on " + fe.Tag()
	}
	return ErrBadRequest{Fields: fields}
}

func WriteHTTPError(w http.ResponseWriter, err error) {
	var ne error
	defer func() {
		if ne != nil {
			log.Error().
				Err(ne).
				Msg("error response encoding failed")
		}
	}()

	w.Header().Set("Content-Type", "application/json")
	verr := ValidationError{}
	errbr := ErrBadRequest{}
	errst := ErrStorage{}
	switch {
	case errors.As(err, &verr):
		w.WriteHeader(http.StatusBadRequest)
		ne = json.NewEncoder(w).Encode(verr)
	case errors.As(err, &errbr):
		w.WriteHeader(http.StatusBadRequest)
		ne = json.NewEncoder(w).Encode(errbr)
	case errors.Is(err, ErrTooManyRequests):
		w.WriteHeader(http.StatusServiceUnavailable)
		ne = json.NewEncoder(w).Encode(map[string]string{"message": "too many requests"})
	case errors.As(err, &errst):
		w.WriteHeader(http.StatusInternalServerError)
		ne = json.NewEncoder(w).Encode(map[string]string{"message": "storage failure"})
	default:
		w.WriteHeader(http.StatusInternalServerError)
		ne = json.NewEncoder(w).Encode(map[string]string{"message": "server error"})
	}
}

func HTTPNotFound(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusNotFound)
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]string{
		"path": r.URL.Path,
	}
	json.NewEncoder(w).Encode(resp)
}
