package handlers

import (
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/blake2b"

	"ticketing/internal/domain"
	"ticketing/internal/domain/models"
)

const maxCallbackBody = 64 << 10

type paymentCallbackRequest struct {
	TicketID   string `json:"ticketId"`
	PaymentRef string `json:"paymentRef"`
	Outcome    string `json:"outcome"`
}

// SignCallback returns the hex keyed BLAKE2b-256 of body, the value the
// gateway sends in X-Signature.
func SignCallback(secret string, body []byte) string {
	mac, err := blake2b.New256([]byte(secret))
	if err != nil {
		// Only keys over 64 bytes are rejected.
		return ""
	}
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, got string) bool {
	want := SignCallback(secret, body)
	if want == "" {
		return false
	}
	got = strings.ToLower(strings.TrimSpace(got))
	return subtle.ConstantTimeCompare([]byte(want), []byte(got)) == 1
}

// PaymentCallback applies a gateway outcome. Duplicate deliveries replay
// the original result with 200.
func PaymentCallback(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxCallbackBody))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "cannot read body", err)
		return
	}

	if secret := current().CallbackSecret; secret != "" {
		if !validSignature(secret, body, c.GetHeader("X-Signature")) {
			respondError(c, http.StatusUnauthorized, "invalid_signature", "callback signature mismatch", nil)
			return
		}
	}

	var req paymentCallbackRequest
	if err := json.Unmarshal(body, &req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid payload", err)
		return
	}
	outcome := models.PaymentOutcome(strings.ToLower(strings.TrimSpace(req.Outcome)))
	if !outcome.Valid() {
		RespondDomainError(c, domain.ValidationError{Field: "outcome", Msg: "must be succeeded or failed"})
		return
	}

	res, err := ticketService(c).ConfirmPayment(c.Request.Context(), req.TicketID, req.PaymentRef, outcome)
	if err != nil {
		RespondDomainError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}
