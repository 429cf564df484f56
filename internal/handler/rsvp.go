package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"rsvp/internal/attendance"
)

func (h *Handler) CreateRSVP(c *gin.Context) {
	var in attendance.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		h.fail(c, attendance.ErrInvalidInput.With("invalid or missing request body"))
		return
	}

	reg, err := h.svc.Register(c.Request.Context(), in)
	if err != nil {
		h.fail(c, err)
		return
	}
	if !reg.Record.Attending {
		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"id":      reg.Record.ID,
			"message": "Thank you for your response",
		})
		return
	}

	resp := gin.H{
		"success":            true,
		"id":                 reg.Record.ID,
		"confirmationCode":   reg.ConfirmationCode,
		"confirmationNumber": reg.ConfirmationCode,
		"token":              reg.Token,
		"credential":         reg.Credential,
	}
	if reg.QRCodeDataURL != "" {
		resp["qrCodeDataUrl"] = reg.QRCodeDataURL
	}
	c.JSON(http.StatusCreated, resp)
}

func (h *Handler) LookupByCode(c *gin.Context) {
	h.resolve(c, attendance.MethodCode, c.Param("code"))
}

func (h *Handler) LookupByPhone(c *gin.Context) {
	phone := c.Query("phoneNumber")
	if phone == "" {
		phone = c.Query("phone")
	}
	h.resolve(c, attendance.MethodPhone, phone)
}

// Lookup dispatches {"method": "code"|"phone"|"credential", "value": "..."}.
func (h *Handler) Lookup(c *gin.Context) {
	var req struct {
		Method string `json:"method"`
		Value  string `json:"value"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.fail(c, attendance.ErrInvalidInput.With("invalid or missing request body"))
		return
	}
	m, err := attendance.ParseMethod(req.Method)
	if err != nil {
		h.fail(c, err)
		return
	}
	h.resolve(c, m, req.Value)
}

// Scan accepts what a scanner produced: {"qrData": <payload object or
// string>}, {"credential": "<blob>"}, or the payload object itself.
func (h *Handler) Scan(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		h.fail(c, attendance.ErrMissingFields.With("scanned credential is required"))
		return
	}
	h.resolve(c, attendance.MethodCredential, scannedBlob(body))
}

func scannedBlob(body []byte) string {
	var env struct {
		QRData     json.RawMessage `json:"qrData"`
		Credential string          `json:"credential"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return string(body)
	}
	if env.Credential != "" {
		return env.Credential
	}
	if raw := bytes.TrimSpace(env.QRData); len(raw) > 0 && string(raw) != "null" {
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return s
		}
		return string(raw)
	}
	return string(body)
}

func (h *Handler) resolve(c *gin.Context, m attendance.Method, input string) {
	rec, err := h.svc.Resolve(c.Request.Context(), m, input)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "rsvp": rec})
}

func (h *Handler) CheckIn(c *gin.Context) {
	res, err := h.svc.CheckIn(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"message":    "Successfully marked as attended",
		"id":         res.ID,
		"attendedAt": res.AttendedAt,
	})
}

func (h *Handler) List(c *gin.Context) {
	recs, err := h.svc.List(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": recs})
}

func (h *Handler) Stats(c *gin.Context) {
	st, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "stats": st})
}
