package gatewaytest

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ruteri/identity-sdk/interfaces"
)

// Handler exposes a Backend over the gateway wire protocol. The routes and
// status codes mirror what the production client expects: 409 for hash
// conflicts, 404 for unresolved members and aliases, 403 for rejected codes
// and unauthorized updates.
func Handler(b *Backend) http.Handler {
	r := chi.NewRouter()
	r.Route("/api", Routes(b))
	return r
}

// Routes registers the wire protocol's endpoints on a router. Split out so a
// server shell can mount them under its own prefix and middleware.
func Routes(b *Backend) func(chi.Router) {
	return func(r chi.Router) {
		registerRoutes(b, r)
	}
}

func registerRoutes(b *Backend, r chi.Router) {
	r.Post("/v1/members", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Nonce string `json:"nonce"`
		}
		if !decodeBody(w, req, &body) {
			return
		}
		id, err := b.CreateMemberID(req.Context(), body.Nonce)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"memberId": id})
	})

	r.Get("/v1/members/{memberID}", func(w http.ResponseWriter, req *http.Request) {
		snap, err := b.GetMember(req.Context(), chi.URLParam(req, "memberID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, snap)
	})

	r.Post("/v1/members/{memberID}/updates", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Update    interfaces.MemberUpdate        `json:"update"`
			Signature interfaces.Signature           `json:"signature"`
			Metadata  []interfaces.OperationMetadata `json:"metadata"`
		}
		if !decodeBody(w, req, &body) {
			return
		}
		if body.Update.MemberID != chi.URLParam(req, "memberID") {
			writeStatus(w, http.StatusBadRequest, "update member ID does not match URL")
			return
		}
		snap, err := b.UpdateMember(req.Context(), body.Update, body.Signature, body.Metadata)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, snap)
	})

	r.Post("/v1/aliases/resolve", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Alias interfaces.Alias `json:"alias"`
		}
		if !decodeBody(w, req, &body) {
			return
		}
		id, err := b.ResolveAlias(req.Context(), body.Alias)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"memberId": id})
	})

	r.Post("/v1/recovery/begin", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			Alias interfaces.Alias `json:"alias"`
		}
		if !decodeBody(w, req, &body) {
			return
		}
		verificationID, err := b.BeginRecovery(req.Context(), body.Alias)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"verificationId": verificationID})
	})

	r.Post("/v1/recovery/complete", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			VerificationID string         `json:"verificationId"`
			Code           string         `json:"code"`
			Key            interfaces.Key `json:"key"`
		}
		if !decodeBody(w, req, &body) {
			return
		}
		op, err := b.CompleteRecovery(req.Context(), body.VerificationID, body.Code, body.Key)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]interfaces.RecoveryOperation{"recoveryOperation": op})
	})

	r.Get("/v1/recovery/default-agent", func(w http.ResponseWriter, req *http.Request) {
		id, err := b.DefaultRecoveryAgent(req.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, map[string]string{"memberId": id})
	})

	r.Get("/v1/members/{memberID}/keys/{keyID}", func(w http.ResponseWriter, req *http.Request) {
		key, err := b.LookupPublicKey(req.Context(), chi.URLParam(req, "memberID"), chi.URLParam(req, "keyID"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, key)
	})
}

func decodeBody(w http.ResponseWriter, req *http.Request, out any) bool {
	if err := json.NewDecoder(req.Body).Decode(out); err != nil {
		writeStatus(w, http.StatusBadRequest, "could not parse request body: "+err.Error())
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, err error) {
	var verificationErr *interfaces.VerificationError
	switch {
	case errors.Is(err, interfaces.ErrConcurrentModification):
		writeStatus(w, http.StatusConflict, err.Error())
	case errors.Is(err, interfaces.ErrMemberNotFound):
		writeStatus(w, http.StatusNotFound, err.Error())
	case errors.As(err, &verificationErr):
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"message":            err.Error(),
			"verificationStatus": verificationErr.Status,
		})
	case errors.Is(err, ErrUnauthorizedUpdate):
		writeStatus(w, http.StatusForbidden, err.Error())
	default:
		writeStatus(w, http.StatusBadRequest, err.Error())
	}
}

func writeStatus(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
