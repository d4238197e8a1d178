/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"deposit-reconciler-go/internal/solana"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const maxBodyBytes = 1 << 16

// NewRouter exposes the deposit service over HTTP.
func NewRouter(svc *DepositService) http.Handler {
	h := &handlers{svc: svc}

	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(v1 chi.Router) {
		v1.Post("/deposit-codes", h.issueDepositCode)
		v1.Post("/claims", h.claim)
		v1.Route("/accounts/{ownerID}", func(acct chi.Router) {
			acct.Get("/balance", h.balance)
			acct.Get("/transactions", h.transactions)
			acct.Put("/wallet", h.registerWallet)
		})
		v1.Post("/admin/poll", h.poll)
	})

	return r
}

type handlers struct {
	svc *DepositService
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.HealthCheck(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) issueDepositCode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerId string `json:"owner_id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	instructions, err := h.svc.IssueDepositCode(r.Context(), req.OwnerId)
	if errors.Is(err, ErrOwnerRequired) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to issue deposit code")
		return
	}
	writeJSON(w, http.StatusCreated, instructions)
}

func (h *handlers) claim(w http.ResponseWriter, r *http.Request) {
	var req struct {
		OwnerId   string `json:"owner_id"`
		Reference string `json:"reference"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.svc.Claim(r.Context(), req.OwnerId, req.Reference)
	if errors.Is(err, ErrOwnerRequired) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "claim could not be processed")
		return
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, result)
}

func (h *handlers) balance(w http.ResponseWriter, r *http.Request) {
	balance, err := h.svc.GetBalance(r.Context(), chi.URLParam(r, "ownerID"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, balance)
}

func (h *handlers) transactions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	records, err := h.svc.GetTransactionHistory(r.Context(), chi.URLParam(r, "ownerID"), limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": records})
}

func (h *handlers) registerWallet(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Address string `json:"address"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	ownerId := chi.URLParam(r, "ownerID")
	err := h.svc.RegisterWallet(r.Context(), ownerId, req.Address)
	if errors.Is(err, solana.ErrInvalidAddress) {
		writeError(w, http.StatusBadRequest, "address must be a base58 Solana address")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"owner_id": ownerId, "address": req.Address})
}

func (h *handlers) poll(w http.ResponseWriter, r *http.Request) {
	summary, err := h.svc.TriggerPoll(r.Context())
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]any{"error": err.Error(), "summary": summary})
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		zap.L().Warn("Failed to write response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// requestLogger logs each request through the global zap logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		zap.L().Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.String("remote_addr", r.RemoteAddr))
	})
}
