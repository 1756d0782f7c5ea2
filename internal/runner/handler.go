package runner

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/dialogforge/dialogforge/pkg/events"
	"github.com/dialogforge/dialogforge/pkg/interpret"
	"github.com/dialogforge/dialogforge/pkg/model"
	"github.com/dialogforge/dialogforge/pkg/session"
)

const maxRequestBodySize = 4 << 20 // 4 MiB, train dialogs can be large

// maxModelHops bounds dispatch/change-model forwarding within one turn, so
// two models that hand off to each other cannot loop forever.
const maxModelHops = 5

// Handler exposes the runner's admin HTTP surface: model listing, train
// dialog replay and validation, and a conversational endpoint.
type Handler struct {
	registry *Registry
	loader   *model.Loader
	pub      *events.Publisher
}

// NewHandler creates the admin handler.
func NewHandler(registry *Registry, loader *model.Loader, pub *events.Publisher) *Handler {
	return &Handler{registry: registry, loader: loader, pub: pub}
}

// RegisterRoutes registers the admin routes on the given mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/models", h.ListModels)
	mux.HandleFunc("GET /api/v1/models/{id}", h.GetModel)
	mux.HandleFunc("POST /api/v1/models/{id}/replay", h.ReplayDialog)
	mux.HandleFunc("POST /api/v1/models/{id}/activities", h.GetActivities)
	mux.HandleFunc("POST /api/v1/models/{id}/converse", h.Converse)
	mux.HandleFunc("POST /api/v1/converse", h.Converse)
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

type modelSummary struct {
	ModelID   string `json:"model_id"`
	Running   bool   `json:"running"`
	IsDefault bool   `json:"is_default"`
}

// ListModels handles GET /api/v1/models
func (h *Handler) ListModels(w http.ResponseWriter, r *http.Request) {
	def := h.registry.Default()

	resp := make([]modelSummary, 0)
	for id := range h.loader.All() {
		_, running := h.registry.Get(id)
		resp = append(resp, modelSummary{
			ModelID:   id,
			Running:   running,
			IsDefault: def != nil && def.ModelID == id,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetModel handles GET /api/v1/models/{id}
func (h *Handler) GetModel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	defs, ok := h.loader.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}
	writeJSON(w, http.StatusOK, defs)
}

// ReplayDialog handles POST /api/v1/models/{id}/replay
func (h *Handler) ReplayDialog(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	id := r.PathValue("id")

	runner, ok := h.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "model not running")
		return
	}
	defs, ok := h.loader.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}

	var dialog model.TrainDialog
	if err := json.NewDecoder(r.Body).Decode(&dialog); err != nil {
		writeError(w, http.StatusBadRequest, "invalid train dialog body")
		return
	}

	cleanse := r.URL.Query().Get("cleanse") == "true"

	replayed, err := runner.Replayer.Replay(r.Context(), &dialog, defs, cleanse)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "replay failed: "+err.Error())
		return
	}

	if h.pub != nil {
		_ = h.pub.Emit(r.Context(), events.ReplayCompleted, "", &events.ReplayCompletedData{
			DialogID:   dialog.DialogID,
			Cleansed:   cleanse,
			RoundCount: len(replayed.Rounds),
		})
	}

	writeJSON(w, http.StatusOK, replayed)
}

// GetActivities handles POST /api/v1/models/{id}/activities
func (h *Handler) GetActivities(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	id := r.PathValue("id")

	runner, ok := h.registry.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "model not running")
		return
	}
	defs, ok := h.loader.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, "model not found")
		return
	}

	var dialog model.TrainDialog
	if err := json.NewDecoder(r.Body).Decode(&dialog); err != nil {
		writeError(w, http.StatusBadRequest, "invalid train dialog body")
		return
	}

	result, err := runner.Replayer.GetActivities(r.Context(), &dialog, defs)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "activity rendering failed: "+err.Error())
		return
	}

	if h.pub != nil {
		types := make([]string, 0, len(result.ReplayErrors))
		for _, re := range result.ReplayErrors {
			types = append(types, string(re.Type))
		}
		_ = h.pub.Emit(r.Context(), events.DialogValidated, "", &events.DialogValidatedData{
			DialogID:   dialog.DialogID,
			ErrorCount: len(result.ReplayErrors),
			ErrorTypes: types,
		})
	}

	writeJSON(w, http.StatusOK, result)
}

type converseRequest struct {
	ConversationKey string `json:"conversation_key"`
	Text            string `json:"text"`
}

type converseResponse struct {
	Responses []string         `json:"responses"`
	Mode      model.DialogMode `json:"mode"`
	// Model is the model that produced the final responses, which differs
	// from the addressed one after a dispatch or change-model handoff.
	Model string `json:"model"`
}

// Converse handles POST /api/v1/converse and POST /api/v1/models/{id}/converse.
// Without an explicit model id the conversation is routed to its active
// model. A dispatch or change-model signal forwards the turn to the target
// runner, accumulating responses across hops.
func (h *Handler) Converse(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

	var req converseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ConversationKey == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "conversation_key and text are required")
		return
	}

	var runner *Runner
	if id := r.PathValue("id"); id != "" {
		var ok bool
		runner, ok = h.registry.Get(id)
		if !ok {
			writeError(w, http.StatusNotFound, "model not running")
			return
		}
	} else {
		var err error
		runner, err = h.registry.Route(r.Context(), req.ConversationKey)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}

	result, err := runner.Orchestrator.ProcessInput(r.Context(), req.ConversationKey, req.Text)
	if err != nil {
		writeConverseError(w, err)
		return
	}
	responses := append([]string(nil), result.Responses...)

	for hops := 0; result.Signal.Type == interpret.SignalDispatch || result.Signal.Type == interpret.SignalChangeModel; hops++ {
		if hops >= maxModelHops {
			writeError(w, http.StatusInternalServerError, "model handoff loop detected")
			return
		}
		target, ok := h.registry.Get(result.Signal.ModelID)
		if !ok {
			writeError(w, http.StatusInternalServerError,
				fmt.Sprintf("handoff to unknown model %q", result.Signal.ModelID))
			return
		}
		runner = target
		result, err = runner.Orchestrator.ProcessInput(r.Context(), req.ConversationKey, req.Text)
		if err != nil {
			writeConverseError(w, err)
			return
		}
		responses = append(responses, result.Responses...)
	}

	writeJSON(w, http.StatusOK, converseResponse{
		Responses: responses,
		Mode:      result.Mode,
		Model:     runner.ModelID,
	})
}

func writeConverseError(w http.ResponseWriter, err error) {
	if errors.Is(err, session.ErrInputExpired) {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeError(w, http.StatusInternalServerError, err.Error())
}
