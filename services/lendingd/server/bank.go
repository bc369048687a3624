package server

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
)

type mintRequest struct {
	Asset   string `json:"asset"`
	To      string `json:"to"`
	Amount  string `json:"amount"`
	TokenID string `json:"tokenId"`
}

// mint credits underlying funds or a token id to an account.
func (s *Server) mint(w http.ResponseWriter, r *http.Request) {
	if s.custody == nil {
		writeError(w, http.StatusServiceUnavailable, "custody not configured")
		return
	}
	var req mintRequest
	if err := decode(w, r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	asset, err := parseAddress("asset", req.Asset)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	to, err := parseAddress("to", req.To)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if req.TokenID != "" {
		tokenID, err := parseAmount("tokenId", req.TokenID, false)
		if err != nil {
			s.fail(w, r, err)
			return
		}
		if err := s.custody.MintNFT(asset, to, tokenID); err != nil {
			s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
			return
		}
		s.logMint(r, asset.Hex(), to.Hex(), "token_id", tokenID.String())
		writeJSON(w, http.StatusOK, okResponse(nil))
		return
	}
	amount, err := parseAmount("amount", req.Amount, false)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.custody.Mint(asset, to, amount); err != nil {
		s.fail(w, r, fmt.Errorf("%w: %v", errBadRequest, err))
		return
	}
	s.logMint(r, asset.Hex(), to.Hex(), "amount", amount.String())
	writeJSON(w, http.StatusOK, okResponse(map[string]any{"balance": str(s.custody.BalanceOf(asset, to))}))
}

func (s *Server) logMint(r *http.Request, asset, to string, attrs ...any) {
	principal, _ := principalFrom(r.Context())
	args := append([]any{"request_id", requestIDFrom(r.Context()), "principal", principal, "asset", asset, "to", to}, attrs...)
	s.logger.Info("operator mint", args...)
}

func (s *Server) getBalance(w http.ResponseWriter, r *http.Request) {
	if s.custody == nil {
		writeError(w, http.StatusServiceUnavailable, "custody not configured")
		return
	}
	asset, err := parseAddress("asset", chi.URLParam(r, "asset"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	holder, err := parseAddress("holder", chi.URLParam(r, "holder"))
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"asset":   asset.Hex(),
		"holder":  holder.Hex(),
		"balance": str(s.custody.BalanceOf(asset, holder)),
	})
}
