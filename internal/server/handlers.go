package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/contactkeval/iv-surface/internal/pricing"
	"github.com/contactkeval/iv-surface/internal/realized"
	"github.com/contactkeval/iv-surface/internal/store"
	"github.com/contactkeval/iv-surface/internal/surface"
)

// optionRequest holds the contract terms shared by every pricing endpoint.
type optionRequest struct {
	Spot     float64 `json:"spot" binding:"required,gt=0"`
	Strike   float64 `json:"strike" binding:"required,gt=0"`
	T        float64 `json:"t" binding:"required,gt=0"` // years
	Rate     float64 `json:"rate"`
	Dividend float64 `json:"dividend"`
	Side     string  `json:"side" binding:"omitempty,oneof=call put c p"`
}

func (r optionRequest) params(sigma float64) (pricing.Params, pricing.Side, error) {
	side, err := pricing.ParseSide(r.Side)
	if err != nil {
		return pricing.Params{}, side, fmt.Errorf("%w: %v", pricing.ErrInvalidInput, err)
	}
	return pricing.Params{
		Spot:     r.Spot,
		Strike:   r.Strike,
		T:        r.T,
		Rate:     r.Rate,
		Dividend: r.Dividend,
		Sigma:    sigma,
	}, side, nil
}

type priceRequest struct {
	optionRequest
	Sigma float64 `json:"sigma" binding:"required,gt=0"`
}

type profileRequest struct {
	Greek  string  `json:"greek" binding:"required,oneof=delta gamma theta vega rho"`
	Low    float64 `json:"low" binding:"omitempty,gt=0"`  // fraction of spot, default 0.92
	High   float64 `json:"high" binding:"omitempty,gt=0"` // fraction of spot, default 1.09
	Points int     `json:"points" binding:"omitempty,min=2,max=2000"`
}

type greeksRequest struct {
	priceRequest
	Profile *profileRequest `json:"profile"`
}

type ivRequest struct {
	optionRequest
	Price float64 `json:"price" binding:"required,gt=0"`
}

type gridQuery struct {
	X        int    `form:"x" binding:"omitempty,min=2,max=500"`
	Y        int    `form:"y" binding:"omitempty,min=2,max=500"`
	Axis     string `form:"axis"`
	Fallback string `form:"fallback"`
}

func (q gridQuery) options(def surface.GridOptions) (surface.GridOptions, error) {
	opts := def
	if q.X > 0 {
		opts.XResolution = q.X
	}
	if q.Y > 0 {
		opts.YResolution = q.Y
	}
	if q.Axis != "" {
		axis, err := surface.ParseAxis(q.Axis)
		if err != nil {
			return opts, err
		}
		opts.Axis = axis
	}
	if q.Fallback != "" {
		fb, err := surface.ParseFallback(q.Fallback)
		if err != nil {
			return opts, err
		}
		opts.Fallback = fb
	}
	return opts, nil
}

type rvQuery struct {
	Window int `form:"window" binding:"omitempty,min=2,max=252"`
}

// Price returns the Black-Scholes price of one contract.
func (s *Server) Price(c *gin.Context) {
	var req priceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}
	p, side, err := req.params(req.Sigma)
	if err != nil {
		fail(c, err)
		return
	}
	price, err := pricing.Price(p, side)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{
		"side":      side,
		"price":     price,
		"intrinsic": pricing.Intrinsic(p, side),
	})
}

// Greeks returns the rounded Greeks and, when requested, one Greek's profile
// across a range of spot prices.
func (s *Server) Greeks(c *gin.Context) {
	var req greeksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}
	p, side, err := req.params(req.Sigma)
	if err != nil {
		fail(c, err)
		return
	}
	g, err := pricing.ComputeGreeks(p, side)
	if err != nil {
		fail(c, err)
		return
	}

	resp := gin.H{"side": side, "greeks": g.Rounded()}
	if pr := req.Profile; pr != nil {
		low, high, n := pr.Low, pr.High, pr.Points
		if low == 0 {
			low = pricing.DefaultProfileLow
		}
		if high == 0 {
			high = pricing.DefaultProfileHigh
		}
		if n == 0 {
			n = pricing.DefaultProfilePoints
		}
		profile, err := pricing.GreekProfile(p, side, pr.Greek, low, high, n)
		if err != nil {
			fail(c, err)
			return
		}
		resp["profile"] = profile
	}
	success(c, http.StatusOK, resp)
}

// ImpliedVolatility solves for the volatility that reproduces a price.
func (s *Server) ImpliedVolatility(c *gin.Context) {
	var req ivRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		failWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}
	_, side, err := req.params(0)
	if err != nil {
		fail(c, err)
		return
	}
	sigma, err := s.solver.SolveSide(side, req.Price, req.Spot, req.Strike, req.T, req.Rate, req.Dividend)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{
		"side":                   side,
		"implied_volatility":     sigma,
		"implied_volatility_pct": sigma * 100,
	})
}

// Surface computes a live surface for a symbol without persisting it.
func (s *Server) Surface(c *gin.Context) {
	var q gridQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		failWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := q.options(s.grid)
	if err != nil {
		fail(c, err)
		return
	}
	out, err := s.engine.Surface(c.Request.Context(), c.Param("symbol"), opts)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, out)
}

// ListSymbols lists the symbols with stored snapshots.
func (s *Server) ListSymbols(c *gin.Context) {
	st, ok := s.store(c)
	if !ok {
		return
	}
	symbols, err := st.Symbols(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"symbols": symbols})
}

// ListSnapshots lists the stored snapshot timestamps of a symbol.
func (s *Server) ListSnapshots(c *gin.Context) {
	st, ok := s.store(c)
	if !ok {
		return
	}
	stamps, err := st.Timestamps(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		fail(c, err)
		return
	}
	out := make([]string, len(stamps))
	for i, ts := range stamps {
		out[i] = ts.Format(store.TimestampLayout)
	}
	success(c, http.StatusOK, gin.H{"symbol": c.Param("symbol"), "timestamps": out})
}

// TakeSnapshot computes and stores a snapshot now.
func (s *Server) TakeSnapshot(c *gin.Context) {
	out, err := s.engine.Snapshot(c.Request.Context(), c.Param("symbol"))
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusCreated, out)
}

// GetSnapshot returns a stored snapshot with its interpolated grid. The
// timestamp is "YYYY-MM-DD HH:MM:SS" (URL escaped) or RFC 3339.
func (s *Server) GetSnapshot(c *gin.Context) {
	var q gridQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		failWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}
	opts, err := q.options(s.grid)
	if err != nil {
		fail(c, err)
		return
	}
	ts, err := store.ParseTimestamp(c.Param("timestamp"))
	if err != nil {
		failWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}

	snap, grid, err := s.engine.History(c.Request.Context(), c.Param("symbol"), ts, opts)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, gin.H{"snapshot": snap, "grid": grid})
}

// RealizedVsImplied compares realized volatility with ATM implied volatility.
func (s *Server) RealizedVsImplied(c *gin.Context) {
	var q rvQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		failWithStatus(c, http.StatusBadRequest, err.Error())
		return
	}
	if q.Window == 0 {
		q.Window = realized.DefaultWindow
	}
	rep, err := s.engine.RealizedVsImplied(c.Request.Context(), c.Param("symbol"), q.Window)
	if err != nil {
		fail(c, err)
		return
	}
	success(c, http.StatusOK, rep)
}

func (s *Server) store(c *gin.Context) (store.Store, bool) {
	st := s.engine.Store()
	if st == nil {
		failWithStatus(c, http.StatusNotImplemented, "no snapshot store configured")
		return nil, false
	}
	return st, true
}

