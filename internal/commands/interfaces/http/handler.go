package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"irrigation-cloud/internal/audit"
	"irrigation-cloud/internal/auth"
	commands "irrigation-cloud/internal/commands/domain"
	"irrigation-cloud/internal/observability/metrics"
	plants "irrigation-cloud/internal/plants/domain"
	"irrigation-cloud/internal/plants/interfaces/export"
	"irrigation-cloud/internal/wire"
)

const (
	plantsPrefix      = "/api/v1/plants/"
	notificationsPath = "/api/v1/notifications"

	defaultReadingsWindow = 24 * time.Hour
)

// Dispatcher issues pump commands.
type Dispatcher interface {
	Dispatch(ctx context.Context, req commands.DispatchRequest) (*commands.Ack, error)
}

// PlantService applies ownership-checked plant changes.
type PlantService interface {
	Get(ctx context.Context, actor, plantID int64) (*plants.Plant, error)
	UpdateThreshold(ctx context.Context, actor, plantID int64, threshold float64) (*plants.Plant, error)
	BindDevice(ctx context.Context, actor, plantID int64, hardwareID string) (*plants.Plant, error)
}

// Handler serves the operator plant API.
type Handler struct {
	dispatcher    Dispatcher
	plants        PlantService
	readings      plants.ReadingRepository
	notifications plants.NotificationRepository
	auditLogger   audit.Logger
	logger        *log.Logger
}

// NewHandler constructs a handler. auditLogger may be nil.
func NewHandler(dispatcher Dispatcher, plantService PlantService, readings plants.ReadingRepository, notifications plants.NotificationRepository, auditLogger audit.Logger, logger *log.Logger) (*Handler, error) {
	if dispatcher == nil {
		return nil, errors.New("plants handler: nil dispatcher")
	}
	if plantService == nil {
		return nil, errors.New("plants handler: nil plant service")
	}
	if readings == nil {
		return nil, errors.New("plants handler: nil reading repo")
	}
	if notifications == nil {
		return nil, errors.New("plants handler: nil notification repo")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{
		dispatcher:    dispatcher,
		plants:        plantService,
		readings:      readings,
		notifications: notifications,
		auditLogger:   auditLogger,
		logger:        logger,
	}, nil
}

// ServeHTTP routes /api/v1/plants/{id}/... and /api/v1/notifications.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	actor, ok := auth.UserIDFromContext(r.Context())
	if !ok {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	if r.URL.Path == notificationsPath {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleNotifications(w, r, actor)
		return
	}

	if !strings.HasPrefix(r.URL.Path, plantsPrefix) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	parts := strings.Split(strings.TrimPrefix(r.URL.Path, plantsPrefix), "/")
	if len(parts) != 2 || parts[0] == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	plantID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || plantID <= 0 {
		http.Error(w, "invalid plant id", http.StatusBadRequest)
		return
	}

	switch {
	case parts[1] == "pump" && r.Method == http.MethodPost:
		h.handlePump(w, r, actor, plantID)
	case parts[1] == "threshold" && r.Method == http.MethodPut:
		h.handleThreshold(w, r, actor, plantID)
	case parts[1] == "device" && r.Method == http.MethodPut:
		h.handleDevice(w, r, actor, plantID)
	case parts[1] == "readings" && r.Method == http.MethodGet:
		h.handleReadings(w, r, actor, plantID)
	case parts[1] == "pump" || parts[1] == "threshold" || parts[1] == "device" || parts[1] == "readings":
		w.WriteHeader(http.StatusMethodNotAllowed)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type pumpRequest struct {
	Action string `json:"action"`
	Reason string `json:"reason"`
}

func (h *Handler) handlePump(w http.ResponseWriter, r *http.Request, actor, plantID int64) {
	var req pumpRequest
	body, ok := decodeBody(w, r, &req)
	if !ok {
		return
	}
	action, valid := parseAction(req.Action)
	if !valid {
		http.Error(w, "action must be on or off", http.StatusBadRequest)
		return
	}
	reason := wire.Reason(strings.TrimSpace(req.Reason))
	switch reason {
	case "":
		reason = wire.ReasonManual
	case wire.ReasonManual, wire.ReasonManualComplete:
	default:
		// automatic reasons belong to the threshold loop only
		http.Error(w, "reason must be manual or manual_complete", http.StatusBadRequest)
		return
	}

	ack, err := h.dispatcher.Dispatch(r.Context(), commands.DispatchRequest{
		Actor:   actor,
		PlantID: plantID,
		Action:  action,
		Reason:  reason,
	})
	if err != nil {
		h.respondError(w, "dispatch", err)
		return
	}
	writeJSON(w, http.StatusAccepted, ack)
	h.logAudit(r, "plant.pump", plantID, body, map[string]any{
		"command_id": ack.CommandID,
		"command":    ack.Action,
		"reason":     ack.Reason,
		"published":  ack.Published,
	})
}

func (h *Handler) handleThreshold(w http.ResponseWriter, r *http.Request, actor, plantID int64) {
	var req struct {
		Threshold *float64 `json:"threshold"`
	}
	body, ok := decodeBody(w, r, &req)
	if !ok {
		return
	}
	if req.Threshold == nil {
		http.Error(w, "threshold required", http.StatusBadRequest)
		return
	}
	plant, err := h.plants.UpdateThreshold(r.Context(), actor, plantID, *req.Threshold)
	if err != nil {
		h.respondError(w, "update threshold", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlantView(plant))
	h.logAudit(r, "plant.threshold", plantID, body, map[string]any{"threshold": plant.MoistureThreshold})
}

func (h *Handler) handleDevice(w http.ResponseWriter, r *http.Request, actor, plantID int64) {
	var req struct {
		HardwareID string `json:"hardware_id"`
	}
	body, ok := decodeBody(w, r, &req)
	if !ok {
		return
	}
	plant, err := h.plants.BindDevice(r.Context(), actor, plantID, req.HardwareID)
	if err != nil {
		h.respondError(w, "bind device", err)
		return
	}
	writeJSON(w, http.StatusOK, toPlantView(plant))
	h.logAudit(r, "plant.device", plantID, body, map[string]any{"hardware_id": plant.HardwareID})
}

func (h *Handler) handleReadings(w http.ResponseWriter, r *http.Request, actor, plantID int64) {
	start := time.Now()
	query := r.URL.Query()
	format := strings.ToLower(strings.TrimSpace(query.Get("format")))
	if format == "" {
		format = export.FormatJSON
	}
	if format != export.FormatJSON && format != export.FormatXLSX && format != export.FormatPDF {
		http.Error(w, "format must be json, xlsx or pdf", http.StatusBadRequest)
		return
	}

	to := time.Now().UTC()
	if value := query.Get("to"); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			http.Error(w, "to must be RFC3339", http.StatusBadRequest)
			return
		}
		to = parsed.UTC()
	}
	from := to.Add(-defaultReadingsWindow)
	if value := query.Get("from"); value != "" {
		parsed, err := time.Parse(time.RFC3339, value)
		if err != nil {
			http.Error(w, "from must be RFC3339", http.StatusBadRequest)
			return
		}
		from = parsed.UTC()
	}
	if !to.After(from) {
		http.Error(w, "to must be after from", http.StatusBadRequest)
		return
	}

	plant, err := h.plants.Get(r.Context(), actor, plantID)
	if err != nil {
		h.respondError(w, "readings", err)
		return
	}
	readings, err := h.readings.ListByPlant(r.Context(), plant.ID, from, to)
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		h.respondError(w, "list readings", err)
		return
	}

	var data []byte
	var contentType string
	switch format {
	case export.FormatXLSX:
		data, err = export.BuildReadingsXLSX(plant, from, to, readings)
		contentType = export.ContentTypeXLSX
	case export.FormatPDF:
		data, err = export.BuildReadingsPDF(plant, from, to, readings)
		contentType = export.ContentTypePDF
	default:
		metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(start))
		writeJSON(w, http.StatusOK, export.Rows(readings))
		return
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(start))
		h.logger.Printf("plants handler: export %s for plant %d: %v", format, plant.ID, err)
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(start))
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename=\"plant-"+strconv.FormatInt(plant.ID, 10)+"-readings."+format+"\"")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

type notificationView struct {
	ID        int64     `json:"id"`
	PlantID   *int64    `json:"plant_id,omitempty"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Kind      string    `json:"event_type"`
	IsRead    bool      `json:"is_read"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) handleNotifications(w http.ResponseWriter, r *http.Request, actor int64) {
	limit := 0
	if value := r.URL.Query().Get("limit"); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil || parsed <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	list, err := h.notifications.ListByUser(r.Context(), actor, limit)
	if err != nil {
		h.respondError(w, "list notifications", err)
		return
	}
	out := make([]notificationView, 0, len(list))
	for _, n := range list {
		out = append(out, notificationView{
			ID:        n.ID,
			PlantID:   n.PlantID,
			Title:     n.Title,
			Message:   n.Message,
			Kind:      string(n.Kind),
			IsRead:    n.IsRead,
			CreatedAt: n.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

type plantView struct {
	ID                int64      `json:"id"`
	Name              string     `json:"name"`
	Location          string     `json:"location,omitempty"`
	MoistureThreshold float64    `json:"moisture_threshold"`
	HardwareID        string     `json:"hardware_id,omitempty"`
	LastMoisture      *float64   `json:"last_moisture,omitempty"`
	LastUpdate        *time.Time `json:"last_update,omitempty"`
}

func toPlantView(plant *plants.Plant) plantView {
	view := plantView{
		ID:                plant.ID,
		Name:              plant.Name,
		Location:          plant.Location,
		MoistureThreshold: plant.MoistureThreshold,
		HardwareID:        plant.HardwareID,
		LastMoisture:      plant.LastMoisture,
	}
	if !plant.LastUpdate.IsZero() {
		at := plant.LastUpdate
		view.LastUpdate = &at
	}
	return view
}

func parseAction(value string) (wire.Action, bool) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "on", "pump_on":
		return wire.ActionPumpOn, true
	case "off", "pump_off":
		return wire.ActionPumpOff, true
	default:
		return "", false
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) ([]byte, bool) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return nil, false
	}
	defer r.Body.Close()
	if err := json.Unmarshal(body, dst); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, commands.ErrUnauthorized):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, plants.ErrPlantNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, plants.ErrInvalidThreshold), errors.Is(err, commands.ErrInvalidRequest):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		h.logger.Printf("plants handler: %s: %v", op, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func (h *Handler) logAudit(r *http.Request, action string, plantID int64, body []byte, fields map[string]any) {
	if h.auditLogger == nil {
		return
	}
	meta, _ := json.Marshal(fields)
	entry := audit.FromRequest(r, audit.Entry{
		Actor:         auth.SubjectFromContext(r.Context()),
		Role:          string(auth.RoleFromContext(r.Context())),
		Action:        action,
		ResourceType:  "plant",
		ResourceID:    strconv.FormatInt(plantID, 10),
		PlantID:       plantID,
		Metadata:      meta,
		PayloadDigest: audit.DigestJSON(body),
	})
	if err := h.auditLogger.Log(r.Context(), entry); err != nil {
		h.logger.Printf("plants handler: audit %s: %v", action, err)
	}
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}
