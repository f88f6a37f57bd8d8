package http

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"sort"
	"sync"
	"time"

	"crosspost/domain/dto"
	"crosspost/infrastructure/cache"
	"crosspost/infrastructure/logger"
	"crosspost/usecase"

	"github.com/gin-gonic/gin"
)

type IDestinationHandler interface {
	GetDestinations(ctx *gin.Context)
	Authorize(ctx *gin.Context)
	Callback(ctx *gin.Context)
	Disconnect(ctx *gin.Context)
	SetEnabled(ctx *gin.Context)
}

type destinationHandler struct {
	tokens       *usecase.TokenLifecycleManager
	orchestrator usecase.IPostOrchestrator
	accounts     *cache.SnapshotCache

	stateMu sync.Mutex
	states  map[string]stateEntry // state -> platform + expiry
}

type stateEntry struct {
	platform string
	expires  time.Time
}

func NewDestinationHandler(tokens *usecase.TokenLifecycleManager, orchestrator usecase.IPostOrchestrator, accounts *cache.SnapshotCache) IDestinationHandler {
	return &destinationHandler{
		tokens:       tokens,
		orchestrator: orchestrator,
		accounts:     accounts,
		states:       map[string]stateEntry{},
	}
}

func randomState() string {
	b := make([]byte, 16)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}

// GetDestinations returns the reactive per-destination view the UI binds to.
func (h *destinationHandler) GetDestinations(c *gin.Context) {
	platforms := h.tokens.Platforms()
	sort.Strings(platforms)

	now := time.Now()
	out := make([]dto.DestinationStatus, 0, len(platforms))
	for _, platform := range platforms {
		d, ok := h.tokens.Destination(platform)
		if !ok {
			continue
		}
		policy, _ := h.tokens.Policy(platform)
		status := dto.DestinationStatus{
			Platform:     platform,
			IsEnabled:    d.IsEnabled,
			IsComplete:   d.IsComplete(),
			IsAuthorized: d.IsAuthorized(policy.RefreshBuffer(), now),
			IsUsable:     h.tokens.IsUsable(platform),
			Accounts:     d.Accounts,
			Error:        d.LastError,
		}
		if !d.Authorization.RefreshTokenExpiresAt.IsZero() {
			status.AuthorizationExpiresAt = d.Authorization.RefreshTokenExpiresAt.UTC().Format(time.RFC3339)
		}
		if engine, ok := h.orchestrator.Engine(platform); ok {
			snap := engine.Job()
			status.Job = &snap
		}
		out = append(out, status)
	}
	c.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "OK", Data: out})
}

// Authorize builds the provider's consent URL (user must approve in browser).
func (h *destinationHandler) Authorize(c *gin.Context) {
	platform := c.Param("platform")
	state := randomState()

	authURL, err := h.tokens.AuthorizeURL(platform, state)
	if err != nil {
		c.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: err.Error()})
		return
	}
	// store state with 10 minute expiry
	h.stateMu.Lock()
	h.states[state] = stateEntry{platform: platform, expires: time.Now().Add(10 * time.Minute)}
	h.stateMu.Unlock()

	c.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "OK", Data: gin.H{
		"auth_url": authURL,
		"state":    state,
	}})
}

func (h *destinationHandler) consumeState(state, platform string) bool {
	h.stateMu.Lock()
	defer h.stateMu.Unlock()
	entry, ok := h.states[state]
	if !ok {
		return false
	}
	delete(h.states, state)
	return entry.platform == platform && time.Now().Before(entry.expires)
}

// Callback exchanges the provider's code and persists the new authorization.
func (h *destinationHandler) Callback(c *gin.Context) {
	platform := c.Param("platform")
	code := c.Query("code")
	state := c.Query("state")
	if code == "" {
		c.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "missing code"})
		return
	}
	if !h.consumeState(state, platform) {
		c.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: "invalid_state"})
		return
	}

	if err := h.tokens.Authorize(c.Request.Context(), platform, code); err != nil {
		logger.GetLogger().WithField("platform", platform).WithField("error", err).Error("authorization failed")
		c.JSON(http.StatusBadGateway, dto.Res{ResponseCode: "502", ResponseMessage: err.Error()})
		return
	}
	if d, ok := h.tokens.Destination(platform); ok && h.accounts != nil {
		h.accounts.StoreAccounts(c.Request.Context(), c.GetString("user_id"), platform, d.Accounts)
	}
	c.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "Authorized"})
}

func (h *destinationHandler) Disconnect(c *gin.Context) {
	platform := c.Param("platform")
	if err := h.tokens.Disconnect(c.Request.Context(), platform); err != nil {
		c.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "Disconnected"})
}

func (h *destinationHandler) SetEnabled(c *gin.Context) {
	platform := c.Param("platform")
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: err.Error()})
		return
	}
	if err := h.tokens.SetEnabled(c.Request.Context(), platform, body.Enabled); err != nil {
		c.JSON(http.StatusBadRequest, dto.Res{ResponseCode: "400", ResponseMessage: err.Error()})
		return
	}
	c.JSON(http.StatusOK, dto.Res{ResponseCode: "200", ResponseMessage: "OK"})
}
