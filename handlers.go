package main

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"twin-chat/internal/catalog"
	"twin-chat/internal/chat"
	"twin-chat/internal/forecast"
	"twin-chat/internal/pane"
	"twin-chat/internal/predictions"
	"twin-chat/internal/session"
)

const (
	bothPanes      = "twin"
	searchLimit    = 15
	popularLimit   = 8
	defaultHistory = 30
	maxHistory     = 365
)

type loadRequest struct {
	Referrer string `json:"referrer"`
}

type loginRequest struct {
	Email string `json:"email" binding:"required"`
	Token string `json:"token" binding:"required"`
}

type submitRequest struct {
	Input    string `json:"input"`
	Method   string `json:"method"`
	Duration string `json:"duration"`
}

type turnActionRequest struct {
	Method string `json:"method"`
	Symbol string `json:"symbol"`
}

type draftRequest struct {
	Text string `json:"text"`
}

// writeError maps domain errors to status codes.
func (ws *WebServer) writeError(c *gin.Context, err error) {
	var (
		rejected *predictions.RejectedError
		status   *forecast.StatusError
	)
	switch {
	case errors.Is(err, pane.ErrDataUnavailable):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error(), "needsReload": true})
	case errors.Is(err, session.ErrNotLoggedIn):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, pane.ErrTurnNotFound),
		errors.Is(err, predictions.ErrNotFound),
		errors.Is(err, chat.ErrUnknownPane):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, pane.ErrEmptyQuery),
		errors.Is(err, pane.ErrMethodsUnsupported),
		errors.Is(err, pane.ErrUnknownMethod),
		errors.Is(err, pane.ErrUnknownSuggestion),
		errors.Is(err, pane.ErrNotSupported),
		errors.Is(err, predictions.ErrIncomplete),
		errors.Is(err, predictions.ErrInvalidFeedback),
		errors.Is(err, session.ErrMissingEmail),
		errors.Is(err, session.ErrMissingToken),
		errors.Is(err, catalog.ErrEmptyQuery),
		errors.Is(err, catalog.ErrUnknownDuration):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.As(err, &rejected), errors.As(err, &status):
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	default:
		ws.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (ws *WebServer) getSession(c *gin.Context) {
	state, err := ws.chat.Session(deviceOf(c))
	if err != nil {
		ws.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":     state,
		"affordances": state.Affordances(),
	})
}

func (ws *WebServer) loadSession(c *gin.Context) {
	var req loadRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.Referrer == "" {
		req.Referrer = c.Request.Referer()
	}

	res, err := ws.chat.Load(c.Request.Context(), deviceOf(c), req.Referrer)
	if err != nil {
		ws.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (ws *WebServer) login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	state, err := ws.chat.Login(deviceOf(c), req.Email, req.Token)
	if err != nil {
		ws.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"session":     state,
		"affordances": state.Affordances(),
	})
}

func (ws *WebServer) logout(c *gin.Context) {
	if err := ws.chat.Logout(deviceOf(c)); err != nil {
		ws.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Logged out"})
}

func paneParam(c *gin.Context) pane.ID {
	return pane.ID(strings.ToLower(c.Param("pane")))
}

func (ws *WebServer) getPane(c *gin.Context) {
	view, err := ws.chat.View(deviceOf(c), paneParam(c))
	if err != nil {
		ws.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

func (ws *WebServer) submit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	input := req.Input
	if req.Duration != "" {
		var err error
		if input, err = catalog.WithDuration(req.Input, req.Duration); err != nil {
			ws.writeError(c, err)
			return
		}
	}

	ctx := c.Request.Context()
	device := deviceOf(c)
	if paneParam(c) == bothPanes {
		res, err := ws.chat.RunBoth(ctx, device, input)
		if err != nil {
			ws.writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, res)
		return
	}

	res, err := ws.chat.Submit(ctx, device, paneParam(c), input, req.Method)
	if err != nil {
		ws.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (ws *WebServer) clearChat(c *gin.Context) {
	if err := ws.chat.ClearChat(deviceOf(c)); err != nil {
		ws.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Chat cleared"})
}

func (ws *WebServer) turnAction(c *gin.Context) {
	var req turnActionRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	var (
		ctx    = c.Request.Context()
		device = deviceOf(c)
		id     = paneParam(c)
		turnID = c.Param("id")
		res    any
		err    error
	)
	switch c.Param("action") {
	case "method":
		res, err = ws.chat.SwitchMethod(ctx, device, id, turnID, req.Method)
	case "suggestion":
		res, err = ws.chat.SelectSuggestion(ctx, device, id, turnID, req.Symbol)
	case "retry":
		res, err = ws.chat.Retry(device, id, turnID)
	case "reload":
		res, err = ws.chat.Reload(ctx, device, id, turnID)
	case "explain":
		res, err = ws.chat.Toggle(device, id, turnID, chat.ToggleExplain)
	case "translate":
		res, err = ws.chat.Toggle(device, id, turnID, chat.ToggleTranslate)
	case "menu":
		res, err = ws.chat.Toggle(device, id, turnID, chat.ToggleMenu)
	case "flip":
		res, err = ws.chat.Flip(ctx, device, id, turnID)
	case "star":
		res, err = ws.chat.Star(ctx, device, id, turnID)
	case "handoff":
		res, err = ws.chat.Handoff(ctx, device, id, turnID)
	default:
		c.JSON(http.StatusNotFound, gin.H{"error": "Unknown action"})
		return
	}
	if err != nil {
		ws.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (ws *WebServer) dismissTurn(c *gin.Context) {
	if err := ws.chat.Dismiss(deviceOf(c), paneParam(c), c.Param("id")); err != nil {
		ws.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Message removed"})
}

func (ws *WebServer) snapshot(c *gin.Context) {
	if err := ws.chat.Snapshot(deviceOf(c)); err != nil {
		ws.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ws *WebServer) saveDraft(c *gin.Context) {
	var req draftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := ws.chat.SaveDraft(deviceOf(c), req.Text); err != nil {
		ws.writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (ws *WebServer) listPredictions(c *gin.Context) {
	list, source, err := ws.chat.Predictions(c.Request.Context(), deviceOf(c))
	if err != nil {
		ws.writeError(c, err)
		return
	}
	if list == nil {
		list = []predictions.Prediction{}
	}
	c.JSON(http.StatusOK, gin.H{
		"predictions": list,
		"source":      source,
		"count":       len(list),
	})
}

func (ws *WebServer) deletePrediction(c *gin.Context) {
	if err := ws.chat.DeletePrediction(c.Request.Context(), deviceOf(c), c.Param("id")); err != nil {
		ws.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Prediction deleted"})
}

func (ws *WebServer) clearPredictions(c *gin.Context) {
	if err := ws.chat.ClearPredictions(c.Request.Context(), deviceOf(c)); err != nil {
		ws.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Predictions cleared"})
}

func (ws *WebServer) submitFeedback(c *gin.Context) {
	var fb predictions.Feedback
	if err := c.ShouldBindJSON(&fb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	p, err := ws.chat.Feedback(c.Request.Context(), deviceOf(c), c.Param("id"), fb)
	if err != nil {
		ws.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

func (ws *WebServer) getHistory(c *gin.Context) {
	ticker := strings.ToUpper(strings.TrimSpace(c.Query("ticker")))
	if ticker == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Query parameter 'ticker' is required"})
		return
	}
	days := defaultHistory
	if q := c.Query("days"); q != "" {
		d, err := strconv.Atoi(q)
		if err != nil || d <= 0 || d > maxHistory {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid days"})
			return
		}
		days = d
	}

	res, err := ws.chat.History(c.Request.Context(), ticker, days)
	if err != nil {
		ws.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (ws *WebServer) searchStocks(c *gin.Context) {
	query := strings.TrimSpace(c.Query("q"))
	var results []catalog.Result
	if query == "" {
		results = ws.catalog.Popular(searchLimit)
	} else {
		results = ws.catalog.Search(query, searchLimit)
	}
	if results == nil {
		results = []catalog.Result{}
	}

	c.JSON(http.StatusOK, gin.H{
		"query":   query,
		"results": results,
		"count":   len(results),
	})
}

func (ws *WebServer) getPresets(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"durations": catalog.Durations,
		"popular":   ws.catalog.Popular(popularLimit),
	})
}
