package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	container "gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Container"
	"gitlab.com/talktail1/tlt.hub_server/src/production/TLT.Startup/controllers"
)

func main() {
	c, err := container.NewContainer()
	if err != nil {
		log.Fatal("Error building container:", err)
	}
	logg := c.GetLogger()
	cfg := c.GetConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	disp, err := c.BuildServices(ctx)
	if err != nil {
		logg.FatalWithError(err, "Failed to build services")
	}

	db, err := c.GetDatabase()
	if err != nil {
		logg.FatalWithError(err, "Failed to connect to database")
	}

	telemetry := c.GetTelemetryWorker()
	telemetry.Start()

	if err := disp.Start(ctx); err != nil {
		logg.FatalWithError(err, "Failed to start MQTT dispatcher")
	}

	// HTTP surface: health, telemetry read API, websocket upgrade
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	healthCtrl := controllers.NewHealthController(db, disp)
	telemetryCtrl := controllers.NewTelemetryController(telemetry)
	hub := c.GetSocketHub()

	router.GET("/health/live", healthCtrl.Live)
	router.GET("/health/ready", healthCtrl.Ready)
	router.GET("/telemetry/recent", telemetryCtrl.RecentAll)
	router.GET("/telemetry/recent/:device", telemetryCtrl.Recent)
	router.GET("/telemetry/latest/:device", telemetryCtrl.Latest)
	router.GET("/ws", func(gc *gin.Context) { hub.ServeWS(gc.Writer, gc.Request) })

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logg.WithField("port", cfg.Server.Port).Info("HTTP server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logg.FatalWithError(err, "HTTP server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit
	logg.WithField("signal", sig.String()).Info("Shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logg.ErrorWithError(err, "HTTP server shutdown error")
	}

	disp.Stop()
	telemetry.Stop()
	cancel()

	if err := c.Shutdown(shutdownCtx); err != nil {
		logg.ErrorWithError(err, "Container shutdown error")
	}
}
