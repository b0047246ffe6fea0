package router

import (
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crypify/internal/domain/claim"
	"crypify/internal/domain/purchase"
	"crypify/internal/observability/logging"
	"crypify/internal/observability/metrics"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "crypify-api"

// Dependencies enumerates services required by API handlers.
type Dependencies struct {
	Claims    *claim.Service
	Purchases *purchase.Service
	Logger    *slog.Logger

	// MerchantAddress receives purchase payments; GET /merchant fails while it is empty.
	MerchantAddress string
	// AdminToken enables the /admin routes when set.
	AdminToken     string
	AllowedOrigins []string
	// TrustedProxies may set X-Forwarded-For; with none the client IP is the peer address.
	TrustedProxies []string
	// ClaimRateLimit is requests per second per client IP on /claim; zero disables it.
	ClaimRateLimit float64
	ClaimRateBurst int
	Now            func() time.Time
}

// New builds a gin.Engine with all routes registered.
func New(deps Dependencies) *gin.Engine {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	router := gin.New()
	if err := router.SetTrustedProxies(deps.TrustedProxies); err != nil {
		deps.Logger.Error("invalid trusted proxies; forwarded headers ignored", slog.Any("error", err))
		_ = router.SetTrustedProxies(nil)
	}
	router.Use(gin.Recovery(), metrics.GinMiddleware(), metrics.AccessLog(deps.Logger), cors.New(corsConfig(deps.AllowedOrigins)))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	h := &handler{claims: deps.Claims, purchases: deps.Purchases, logger: deps.Logger, now: deps.Now, merchant: deps.MerchantAddress}

	router.GET("/", h.health)
	router.GET("/merchant", h.merchantAddress)

	claimChain := []gin.HandlerFunc{}
	if deps.ClaimRateLimit > 0 {
		claimChain = append(claimChain, newIPLimiter(deps.ClaimRateLimit, deps.ClaimRateBurst).middleware())
	}
	router.GET("/claim", append(claimChain, h.claim)...)

	if deps.Purchases != nil {
		router.POST("/purchase", h.createPurchase)
		router.GET("/purchase/:id", h.getPurchase)
		router.POST("/purchase/:id/pay", h.payPurchase)
	}

	if deps.AdminToken != "" {
		admin := router.Group("/admin", requireBearer(deps.AdminToken))
		admin.GET("/claims/:hash", h.lookupClaim)
		admin.POST("/claims/:hash/resolve", h.resolveClaim)
		admin.POST("/claims/:hash/release", h.releaseClaim)
	}

	return router
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.DefaultConfig()
	cfg.AllowHeaders = append(cfg.AllowHeaders, "Authorization")
	if len(origins) == 0 || (len(origins) == 1 && origins[0] == "*") {
		cfg.AllowAllOrigins = true
		return cfg
	}
	cfg.AllowOrigins = origins
	return cfg
}

func requireBearer(token string) gin.HandlerFunc {
	want := []byte("Bearer " + token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("Authorization"))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

type handler struct {
	claims    *claim.Service
	purchases *purchase.Service
	logger    *slog.Logger
	now       func() time.Time
	merchant  string
}

func (h *handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "service": ServiceName})
}

func (h *handler) merchantAddress(c *gin.Context) {
	if h.merchant == "" {
		h.logger.Error("merchant address not configured")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get merchant address"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"merchantAddress": h.merchant})
}

type claimResponse struct {
	Success     bool   `json:"success"`
	Email       string `json:"email"`
	UserAddress string `json:"userAddress"`
	RewardUSD   string `json:"rewardUsd"`
	TxHash      string `json:"txHash"`
	Message     string `json:"message"`
}

func (h *handler) claim(c *gin.Context) {
	receipt, err := h.claims.Claim(c.Request.Context(), c.Query("token"), c.Query("userAddress"), h.now())
	if err != nil {
		status, msg := claimErrorStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("claim failed", slog.Any("error", err))
		} else {
			h.logger.Info("claim rejected", slog.String("reason", msg), slog.Any("error", err))
		}
		c.JSON(status, gin.H{"error": msg})
		return
	}
	h.logger.Info("reward claimed",
		slog.String("recipient", logging.Address(receipt.Recipient)),
		slog.String("amount", receipt.Amount),
		slog.String("tx_hash", receipt.TransactionID),
	)
	c.JSON(http.StatusOK, claimResponse{
		Success:     true,
		Email:       receipt.Email,
		UserAddress: receipt.Recipient,
		RewardUSD:   receipt.Amount,
		TxHash:      receipt.TransactionID,
		Message:     receipt.Amount + " USDC claimed successfully!",
	})
}

func claimErrorStatus(err error) (int, string) {
	switch {
	case errors.Is(err, claim.ErrExpired):
		return http.StatusGone, "Claim link expired"
	case errors.Is(err, claim.ErrInvalidToken):
		return http.StatusBadRequest, "Invalid or tampered claim link"
	case errors.Is(err, claim.ErrNoRecipient):
		return http.StatusBadRequest, "Recipient address required"
	default:
		return http.StatusInternalServerError, "Failed to claim reward"
	}
}

type createPurchaseRequest struct {
	SKU   string `json:"sku"`
	Qty   int    `json:"qty"`
	Email string `json:"email"`
}

type purchaseResponse struct {
	PurchaseID string `json:"purchaseId"`
	SKU        string `json:"sku"`
	Qty        int    `json:"qty"`
	Email      string `json:"email,omitempty"`
	TotalUSD   string `json:"totalUSD"`
	Paid       *bool  `json:"paid,omitempty"`
	PaymentTx  string `json:"paymentTx,omitempty"`
	RewardTx   string `json:"rewardTx,omitempty"`
}

func (h *handler) createPurchase(c *gin.Context) {
	var req createPurchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}
	p, err := h.purchases.Create(c.Request.Context(), purchase.CreateInput{SKU: req.SKU, Qty: req.Qty, Email: req.Email})
	if err != nil {
		h.purchaseError(c, err)
		return
	}
	c.JSON(http.StatusOK, purchaseResponse{
		PurchaseID: p.ID,
		SKU:        p.SKU,
		Qty:        p.Qty,
		TotalUSD:   p.TotalUSD.StringFixed(2),
	})
}

func (h *handler) getPurchase(c *gin.Context) {
	p, err := h.purchases.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.purchaseError(c, err)
		return
	}
	paid := p.Paid
	c.JSON(http.StatusOK, purchaseResponse{
		PurchaseID: p.ID,
		SKU:        p.SKU,
		Qty:        p.Qty,
		Email:      p.Email,
		TotalUSD:   p.TotalUSD.StringFixed(2),
		Paid:       &paid,
		PaymentTx:  p.PaymentTx,
		RewardTx:   p.RewardTx,
	})
}

type payRequest struct {
	Email       string `json:"email"`
	UserAddress string `json:"userAddress"`
	PaymentTx   string `json:"paymentTx"`
}

func (h *handler) payPurchase(c *gin.Context) {
	var req payRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
		return
	}
	conf, err := h.purchases.ConfirmPayment(c.Request.Context(), purchase.ConfirmInput{
		PurchaseID:  c.Param("id"),
		Email:       req.Email,
		UserAddress: req.UserAddress,
		PaymentTx:   req.PaymentTx,
	})
	if err != nil {
		h.purchaseError(c, err)
		return
	}
	msg := "Payment confirmed. Check your email for the reward claim link."
	if !conf.EmailSent {
		msg = "Payment confirmed. The claim email could not be sent; use the claim link below."
	}
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"purchaseId": conf.Purchase.ID,
		"rewardUsd":  conf.RewardUSD,
		"claimUrl":   conf.ClaimURL,
		"expiresAt":  conf.ExpiresAt.UnixMilli(),
		"emailSent":  conf.EmailSent,
		"message":    msg,
	})
}

func (h *handler) purchaseError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, purchase.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Purchase not found"})
	case errors.Is(err, purchase.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing required fields"})
	case errors.Is(err, purchase.ErrInvalidSKU):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid SKU"})
	case errors.Is(err, purchase.ErrInsufficientStock):
		c.JSON(http.StatusBadRequest, gin.H{"error": "Insufficient inventory"})
	case errors.Is(err, purchase.ErrEmailMismatch):
		c.JSON(http.StatusForbidden, gin.H{"error": "Email does not match purchase"})
	case errors.Is(err, purchase.ErrAlreadyPaid):
		c.JSON(http.StatusConflict, gin.H{"error": "Purchase already paid"})
	case errors.Is(err, purchase.ErrPaymentAlreadyUsed):
		c.JSON(http.StatusConflict, gin.H{"error": "Payment transaction already used"})
	case errors.Is(err, purchase.ErrPaymentUnverified):
		c.JSON(http.StatusPaymentRequired, gin.H{"error": "Payment could not be verified"})
	default:
		h.logger.Error("purchase request failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

type claimRecordResponse struct {
	TokenHash      string `json:"tokenHash"`
	PurchaseID     string `json:"purchaseId"`
	Recipient      string `json:"recipient"`
	Amount         string `json:"amount"`
	Status         string `json:"status"`
	TxHash         string `json:"txHash,omitempty"`
	ReservedAt     int64  `json:"reservedAt"`
	ClaimedAt      int64  `json:"claimedAt,omitempty"`
	TokenExpiresAt int64  `json:"tokenExpiresAt,omitempty"`
}

func recordResponse(rec claim.Record) claimRecordResponse {
	out := claimRecordResponse{
		TokenHash:  rec.TokenHash,
		PurchaseID: rec.PurchaseID,
		Recipient:  rec.Recipient,
		Amount:     rec.Amount,
		Status:     string(rec.Status),
		TxHash:     rec.TransactionID,
		ReservedAt: rec.ReservedAt.UnixMilli(),
	}
	if !rec.ClaimedAt.IsZero() {
		out.ClaimedAt = rec.ClaimedAt.UnixMilli()
	}
	if !rec.ExpiresAt.IsZero() {
		out.TokenExpiresAt = rec.ExpiresAt.UnixMilli()
	}
	return out
}

func (h *handler) lookupClaim(c *gin.Context) {
	rec, err := h.claims.Lookup(c.Request.Context(), strings.ToLower(c.Param("hash")))
	if err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, recordResponse(rec))
}

type resolveRequest struct {
	TxHash string `json:"txHash" binding:"required"`
}

func (h *handler) resolveClaim(c *gin.Context) {
	var req resolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "txHash is required"})
		return
	}
	hash := strings.ToLower(c.Param("hash"))
	receipt, err := h.claims.Resolve(c.Request.Context(), hash, req.TxHash, h.now())
	if err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": string(claim.StatusClaimed), "txHash": receipt.TransactionID})
}

func (h *handler) releaseClaim(c *gin.Context) {
	if err := h.claims.Release(c.Request.Context(), strings.ToLower(c.Param("hash"))); err != nil {
		h.adminError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "released"})
}

func (h *handler) adminError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, claim.ErrRecordNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "claim not found"})
	case errors.Is(err, claim.ErrAlreadyClaimed):
		c.JSON(http.StatusConflict, gin.H{"error": "claim already settled"})
	default:
		h.logger.Error("admin request failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}
