// Package httpapi exposes the wallet and admin catalog over HTTP.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/MarkoPoloResearchLab/walletledger/pkg/ledger"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/tyemirov/tauth/pkg/sessionvalidator"
	"go.uber.org/zap"
)

const claimsContextKey = "auth_claims"

// Services are the ledger components the handlers call.
type Services struct {
	Ledger    *ledger.Ledger
	Spends    *ledger.SpendAuthorizer
	Purchases *ledger.PurchaseProcessor
	Queries   *ledger.QueryService
	Catalog   *ledger.Catalog
}

func (services Services) validate() error {
	if services.Ledger == nil || services.Spends == nil || services.Purchases == nil || services.Queries == nil || services.Catalog == nil {
		return fmt.Errorf("%w: http services are incomplete", ledger.ErrInvalidServiceConfig)
	}
	return nil
}

// NewSessionValidator builds the tauth cookie validator for cfg.
func NewSessionValidator(cfg Config) (*sessionvalidator.Validator, error) {
	validator, err := sessionvalidator.New(sessionvalidator.Config{
		SigningKey: []byte(cfg.SessionSigningKey),
		Issuer:     cfg.SessionIssuer,
		CookieName: cfg.SessionCookieName,
	})
	if err != nil {
		return nil, fmt.Errorf("session validator: %w", err)
	}
	return validator, nil
}

// NewRouter wires the gin engine. metricsHandler may be nil.
func NewRouter(cfg Config, services Services, validator *sessionvalidator.Validator, logger *zap.Logger, metricsHandler http.Handler) (*gin.Engine, error) {
	if err := services.validate(); err != nil {
		return nil, err
	}
	if validator == nil {
		return nil, fmt.Errorf("%w: session validator is nil", ledger.ErrInvalidServiceConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	handler := &httpHandler{
		logger:   logger,
		services: services,
		cfg:      cfg,
	}
	limiter := newAccountRateLimiter(cfg.RateLimitPerMinute, cfg.RateLimitBurst, nil)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Origin", "Accept", "Idempotency-Key"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if metricsHandler != nil {
		router.GET("/metrics", gin.WrapH(metricsHandler))
	}

	wallet := router.Group("/wallet")
	wallet.Use(validator.GinMiddleware(claimsContextKey))
	wallet.GET("/summary", handler.handleSummary)
	wallet.GET("/packages", handler.handleActivePackages)
	wallet.GET("/prices", handler.handlePrices)
	wallet.GET("/transactions", handler.handleTransactions)
	wallet.POST("/purchase", limiter.middleware(), handler.handlePurchase)
	wallet.POST("/spend", limiter.middleware(), handler.handleSpend)

	admin := router.Group("/admin")
	admin.Use(validator.GinMiddleware(claimsContextKey), requireRole(cfg.AdminRole))
	admin.GET("/credit-packages", handler.handleListPackages)
	admin.POST("/credit-packages", handler.handleCreatePackage)
	admin.GET("/credit-packages/:package_id", handler.handleGetPackage)
	admin.PUT("/credit-packages/:package_id", handler.handleUpdatePackage)
	admin.DELETE("/credit-packages/:package_id", handler.handleDeletePackage)
	admin.POST("/wallets/:account_id/credits", handler.handleAdjustCredits)
	admin.GET("/wallets/:account_id/reconciliation", handler.handleReconciliation)
	admin.POST("/payments/:reference/refund", handler.handleRefund)

	return router, nil
}

// Serve runs handler on cfg.ListenAddr until ctx is done.
func Serve(ctx context.Context, cfg Config, handler http.Handler, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("wallet http api listening", zap.String("addr", cfg.ListenAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
			logger.Warn("server shutdown error", zap.Error(shutdownErr))
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type httpHandler struct {
	logger   *zap.Logger
	services Services
	cfg      Config
}

func (handler *httpHandler) requestContext(ctx *gin.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx.Request.Context(), handler.cfg.RequestTimeout)
}

// respondError writes the mapped error body. Server-side failures are logged.
func (handler *httpHandler) respondError(ctx *gin.Context, message string, err error) {
	status, code := statusForError(err)
	if status >= http.StatusInternalServerError {
		handler.logger.Error(message, zap.String("path", ctx.FullPath()), zap.Error(err))
		ctx.JSON(status, errorResponse(code, message))
		return
	}
	ctx.JSON(status, errorResponse(code, err.Error()))
}

func requireRole(role string) gin.HandlerFunc {
	return func(ctx *gin.Context) {
		claims := getClaims(ctx)
		if claims == nil {
			ctx.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing session"))
			return
		}
		for _, userRole := range claims.GetUserRoles() {
			if userRole == role {
				ctx.Next()
				return
			}
		}
		ctx.AbortWithStatusJSON(http.StatusForbidden, errorResponse(errorCodeForbidden, "admin role required"))
	}
}

func getClaims(ctx *gin.Context) *sessionvalidator.Claims {
	claimsValue, ok := ctx.Get(claimsContextKey)
	if !ok {
		return nil
	}
	claims, _ := claimsValue.(*sessionvalidator.Claims)
	return claims
}

// sessionAccount resolves the wallet of the signed-in user.
func sessionAccount(ctx *gin.Context) (ledger.AccountID, bool) {
	claims := getClaims(ctx)
	if claims == nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "missing session"))
		return ledger.AccountID{}, false
	}
	accountID, err := ledger.NewAccountID(claims.GetUserID())
	if err != nil {
		ctx.JSON(http.StatusUnauthorized, errorResponse(errorCodeUnauthorized, "session has no user id"))
		return ledger.AccountID{}, false
	}
	return accountID, true
}
