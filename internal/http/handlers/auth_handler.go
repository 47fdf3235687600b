// README: Sign-in handler issuing HS256 tokens for a fresh identity.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"ridecore/internal/auth"
)

type AuthHandler struct {
	issuer *auth.JWTIssuer
}

func NewAuthHandler(issuer *auth.JWTIssuer) *AuthHandler {
	return &AuthHandler{issuer: issuer}
}

type signInReq struct {
	Role auth.Role `json:"role" binding:"required"`
}

type signInResp struct {
	Token    string        `json:"token"`
	Identity auth.Identity `json:"identity"`
}

func (h *AuthHandler) SignIn(c *gin.Context) {
	var req signInReq
	if err := c.ShouldBindJSON(&req); err != nil || !req.Role.Valid() {
		writeMessage(c, http.StatusBadRequest, "role must be passenger or driver")
		return
	}
	p := auth.NewJWTProvider(h.issuer)
	id, err := p.SignIn(c.Request.Context(), req.Role)
	if err != nil {
		writeError(c, err)
		return
	}
	writeJSON(c, http.StatusOK, signInResp{Token: p.Token(), Identity: id})
}
