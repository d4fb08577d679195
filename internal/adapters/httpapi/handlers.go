package httpapi

import (
	"errors"
	"io"
	"net/http"
	"time"

	gin "github.com/gin-gonic/gin"

	"github.com/alejandrodnm/goaltrader/internal/application/dispatch"
	"github.com/alejandrodnm/goaltrader/internal/application/trader"
	"github.com/alejandrodnm/goaltrader/internal/domain"
)

type updateResult struct {
	EventID string   `json:"event_id"`
	Changed []string `json:"changed"`
	Error   string   `json:"error,omitempty"`
}

type outcomeView struct {
	AssetID     string                `json:"asset_id"`
	ConditionID string                `json:"condition_id,omitempty"`
	Title       string                `json:"title"`
	Path        domain.SettlementPath `json:"path"`
	Success     bool                  `json:"success"`
	TxHash      string                `json:"tx_hash,omitempty"`
	Error       string                `json:"error,omitempty"`
	ExecutedAt  time.Time             `json:"executed_at"`
}

type settlementView struct {
	LastRun  time.Time     `json:"last_run,omitzero"`
	Outcomes []outcomeView `json:"outcomes"`
}

type stateResponse struct {
	Armed      *bool            `json:"armed,omitempty"`
	Trader     *trader.Snapshot `json:"trader,omitempty"`
	Settlement *settlementView  `json:"settlement,omitempty"`
}

func outcomeViews(in []domain.RedeemOutcome) []outcomeView {
	out := make([]outcomeView, 0, len(in))
	for _, o := range in {
		out = append(out, outcomeView(o))
	}
	return out
}

func (s *Server) getState(c *gin.Context) {
	var resp stateResponse
	if s.deps.Executor != nil {
		armed := s.deps.Executor.Armed()
		resp.Armed = &armed
	}
	if s.deps.Trader != nil {
		snap := s.deps.Trader.State()
		resp.Trader = &snap
	}
	if s.deps.Settler != nil {
		at, outcomes := s.deps.Settler.LastRun()
		resp.Settlement = &settlementView{LastRun: at, Outcomes: outcomeViews(outcomes)}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) postUpdates(c *gin.Context) {
	if s.deps.Updates == nil {
		unavailable(c, "dispatcher")
		return
	}
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBody))
	if err != nil {
		badRequest(c, "unreadable body")
		return
	}
	updates, err := decodeUpdates(body)
	if err != nil {
		badRequest(c, "invalid update: "+err.Error())
		return
	}

	now := time.Now()
	results := make([]updateResult, 0, len(updates))
	for _, u := range updates {
		if u.ReceivedAt.IsZero() {
			u.ReceivedAt = now
		}
		changed, err := s.deps.Updates.Apply(c.Request.Context(), u)
		r := updateResult{EventID: u.EventID, Changed: changed}
		if r.Changed == nil {
			r.Changed = []string{}
		}
		if err != nil {
			if !errors.Is(err, dispatch.ErrInvalidUpdate) {
				internalError(c, "Apply", err)
				return
			}
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func (s *Server) enableTrader(c *gin.Context) {
	if s.deps.Trader == nil {
		unavailable(c, "trader")
		return
	}
	s.deps.Trader.Enable()
	c.JSON(http.StatusOK, gin.H{"enabled": true})
}

func (s *Server) disableTrader(c *gin.Context) {
	if s.deps.Trader == nil {
		unavailable(c, "trader")
		return
	}
	s.deps.Trader.Disable()
	c.JSON(http.StatusOK, gin.H{"enabled": false})
}

func (s *Server) setArmed(armed bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.deps.Executor == nil {
			unavailable(c, "executor")
			return
		}
		s.deps.Executor.SetArmed(armed)
		c.JSON(http.StatusOK, gin.H{"armed": armed})
	}
}

func (s *Server) redeemAll(c *gin.Context) {
	if s.deps.Settler == nil {
		unavailable(c, "settlement")
		return
	}
	outcomes, err := s.deps.Settler.ForceRedeemAll(c.Request.Context())
	if err != nil {
		internalError(c, "ForceRedeemAll", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcomes": outcomeViews(outcomes)})
}
