package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/petscan/internal/model"
	"github.com/sells-group/petscan/internal/store"
)

func (h *handler) getPet(w http.ResponseWriter, r *http.Request) {
	pet, err := h.store.GetPet(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "pet not found")
			return
		}
		zap.L().Error("api: get pet", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, pet)
}

func (h *handler) putPet(w http.ResponseWriter, r *http.Request) {
	var pet model.Pet
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&pet); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	pet.ID = chi.URLParam(r, "id")
	if pet.Sensitivities == nil {
		pet.Sensitivities = []string{}
	}
	if err := h.validate.Struct(pet); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.UpsertPet(r.Context(), pet); err != nil {
		zap.L().Error("api: upsert pet", zap.String("pet_id", pet.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not save pet")
		return
	}
	writeJSON(w, http.StatusOK, pet)
}
