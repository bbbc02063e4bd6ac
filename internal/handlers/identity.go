package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/memohai/mediastore/internal/identity"
)

// IdentityHandler mints anonymous identities for signed-out browsers.
type IdentityHandler struct{}

// AnonymousIdentityResponse carries a freshly minted identity.
type AnonymousIdentityResponse struct {
	Identity string `json:"identity"`
	Kind     string `json:"kind"`
}

func NewIdentityHandler() *IdentityHandler { return &IdentityHandler{} }

// Register mounts POST /identity/anonymous on the Echo instance.
func (h *IdentityHandler) Register(e *echo.Echo) {
	e.POST("/identity/anonymous", h.Anonymous)
}

// Anonymous returns 201 with a new browser-scoped identity.
func (h *IdentityHandler) Anonymous(c echo.Context) error {
	id := identity.NewAnonymous()
	return c.JSON(http.StatusCreated, AnonymousIdentityResponse{Identity: id.String(), Kind: string(id.Kind())})
}
