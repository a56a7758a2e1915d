package http

import (
	"github.com/gin-gonic/gin"

	"ragpdf/internal/bootstrap"
	"ragpdf/internal/flow"
	"ragpdf/internal/transport/http/handler"
)

func NewRouter(app *bootstrap.App) *gin.Engine {
	gin.SetMode(app.Config.App.GinMode)
	router := gin.New()
	router.Use(gin.Logger(), gin.Recovery())

	healthHandler := handler.NewHealthHandler(app)
	router.GET("/healthz", healthHandler.Check)

	flowAPI := flow.NewAPI(app.Engine, app.Config.Flow.EventKey)
	flowAPI.Register(router)

	return router
}
