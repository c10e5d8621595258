package dataservice

import (
	"bytes"
	"context"
	"net/http"

	"github.com/ValentinKolb/kvds/lib/account"
	"github.com/ValentinKolb/kvds/lib/kvstore"
	"github.com/gin-gonic/gin"
)

// adminCaller is the identity of admin requests: the main device account.
var adminCaller = kvstore.Caller{UID: 0}

// NewAdminRouter returns the diagnostics endpoints of s:
//
//	GET  /health            liveness
//	GET  /metrics           counters in prometheus text format
//	GET  /dump              open stores per device account
//	GET  /devices           local and remote devices
//	GET  /apps/:app/stores  store ids of an app
//	POST /account/events    inject an account event (json AccountEventInfo)
func (s *Service) NewAdminRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/metrics", func(c *gin.Context) {
		var buf bytes.Buffer
		s.cfg.Metrics.WritePrometheus(&buf)
		c.Data(http.StatusOK, "text/plain; version=0.0.4", buf.Bytes())
	})

	r.GET("/dump", func(c *gin.Context) {
		var buf bytes.Buffer
		s.Dump(&buf)
		c.String(http.StatusOK, buf.String())
	})

	r.GET("/devices", func(c *gin.Context) {
		ctx := kvstore.WithCaller(c.Request.Context(), adminCaller)
		local, _ := s.GetLocalDevice(ctx)
		remote, _ := s.GetDeviceList(ctx, kvstore.NoFilter)
		c.JSON(http.StatusOK, gin.H{"local": local, "remote": remote})
	})

	r.GET("/apps/:app/stores", func(c *gin.Context) {
		ctx := kvstore.WithCaller(c.Request.Context(), adminCaller)
		var (
			status kvstore.Status
			ids    []kvstore.StoreId
		)
		s.GetAllKvStoreId(ctx, kvstore.AppId(c.Param("app")), func(st kvstore.Status, list []kvstore.StoreId) {
			status, ids = st, list
		})
		if status != kvstore.Success {
			c.JSON(httpStatus(status), gin.H{"error": status.String()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"stores": ids})
	})

	r.POST("/account/events", func(c *gin.Context) {
		var info account.AccountEventInfo
		if err := c.ShouldBindJSON(&info); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.cfg.Accounts.NotifyAccountChanged(info)
		c.JSON(http.StatusOK, gin.H{"status": "success"})
	})

	return r
}

// ServeAdmin runs the admin router on addr until ctx is done.
func (s *Service) ServeAdmin(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.NewAdminRouter()}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	log.Infof("admin endpoint listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func httpStatus(status kvstore.Status) int {
	switch status {
	case kvstore.InvalidArgument:
		return http.StatusBadRequest
	case kvstore.PermissionDenied:
		return http.StatusForbidden
	case kvstore.NotSupport:
		return http.StatusNotImplemented
	default:
		return http.StatusInternalServerError
	}
}
