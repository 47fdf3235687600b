// README: HTTP router registration.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"ridecore/internal/auth"
	"ridecore/internal/feed"
	"ridecore/internal/http/handlers"
	"ridecore/internal/http/middleware"
	"ridecore/internal/modules/location"
	"ridecore/internal/modules/matching"
	"ridecore/internal/modules/order"
	"ridecore/internal/modules/presence"
	"ridecore/internal/session"
)

type Deps struct {
	Orders   *order.Service
	Matching *matching.Service
	Presence *presence.Service
	Trail    *location.Service
	Feed     feed.Bus
	Verifier auth.TokenVerifier
	// Issuer enables POST /api/auth/sign-in; nil when tokens come from Firebase.
	Issuer  *auth.JWTIssuer
	Session session.Config
	Log     logrus.FieldLogger
}

func NewRouter(d Deps) *gin.Engine {
	r := gin.New()
	r.Use(middleware.Recovery(d.Log), middleware.Metrics(), middleware.Logging(d.Log))

	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "OK")
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if d.Issuer != nil {
		authHandler := handlers.NewAuthHandler(d.Issuer)
		r.POST("/api/auth/sign-in", authHandler.SignIn)
	}

	api := r.Group("/api", middleware.Auth(d.Verifier))

	orderHandler := handlers.NewOrderHandler(d.Orders)
	api.POST("/orders", orderHandler.Create)
	api.GET("/orders", middleware.RequireRole(auth.RolePassenger), orderHandler.List)
	api.GET("/orders/:id", orderHandler.Get)
	api.POST("/orders/:id/accept", orderHandler.Accept)
	api.POST("/orders/:id/advance", orderHandler.Advance)
	api.POST("/orders/:id/cancel", orderHandler.Cancel)

	locationHandler := handlers.NewLocationHandler(d.Trail)
	api.GET("/orders/:id/locations", locationHandler.List)
	api.POST("/orders/:id/locations", locationHandler.Append)

	driverHandler := handlers.NewDriverHandler(d.Orders, d.Matching, d.Presence)
	drivers := api.Group("/drivers")
	drivers.GET("/:id", driverHandler.Get)
	me := drivers.Group("/me", middleware.RequireRole(auth.RoleDriver))
	me.PUT("/presence", driverHandler.UpdatePresence)
	me.GET("/orders/nearby", driverHandler.NearbyOrders)
	me.GET("/orders/active", driverHandler.Active)
	me.GET("/orders/history", driverHandler.History)

	passengerHandler := handlers.NewPassengerHandler(d.Matching)
	api.GET("/passengers/drivers/nearby", middleware.RequireRole(auth.RolePassenger), passengerHandler.NearbyDrivers)

	sessionHandler := handlers.NewSessionHandler(session.Deps{
		Orders:   d.Orders,
		Matcher:  d.Matching,
		Presence: d.Presence,
		Trail:    d.Trail,
		Feed:     d.Feed,
		Log:      d.Log,
	}, d.Session, d.Log)
	r.GET("/ws/session", middleware.Auth(d.Verifier), sessionHandler.Serve)

	return r
}
