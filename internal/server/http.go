// Package server assembles the HTTP transport.
package server

import (
	"context"
	"strconv"

	"ReplyLane/internal/conf"
	"ReplyLane/internal/server/middleware"
	"ReplyLane/internal/service"
	pkglog "ReplyLane/pkg/log"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/go-kratos/kratos/v2/middleware/recovery"
	"github.com/go-kratos/kratos/v2/transport/http"
	"github.com/google/wire"
)

// ProviderSet is server providers.
var ProviderSet = wire.NewSet(NewHTTPServer)

// NewHTTPServer new an HTTP server.
func NewHTTPServer(c *conf.Server, pipeline *service.PipelineService, sla *service.SLAService, logger log.Logger) *http.Server {
	logHelper := pkglog.NewLogHelper(logger)

	var opts = []http.ServerOption{
		http.Middleware(
			recovery.Recovery(),
			middleware.Logging(logHelper),
		),
	}
	if c.Http.Network != "" {
		opts = append(opts, http.Network(c.Http.Network))
	}
	if c.Http.Addr != "" {
		opts = append(opts, http.Address(c.Http.Addr))
	}
	if c.Http.Timeout != nil {
		opts = append(opts, http.Timeout(c.Http.Timeout.AsDuration()))
	}
	srv := http.NewServer(opts...)

	registerPipelineRoutes(srv, pipeline)
	registerSLARoutes(srv, sla)

	return srv
}

func registerPipelineRoutes(srv *http.Server, svc *service.PipelineService) {
	r := srv.Route("/v1/pipeline")

	r.POST("/execute", func(ctx http.Context) error {
		var in service.ExecuteRequest
		if err := ctx.Bind(&in); err != nil {
			return err
		}

		h := ctx.Middleware(func(c context.Context, req interface{}) (interface{}, error) {
			return svc.Execute(c, req.(*service.ExecuteRequest))
		})
		out, err := h(ctx, &in)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/metrics", func(ctx http.Context) error {
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.Metrics(c)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/executions", func(ctx http.Context) error {
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.ActiveExecutions(c)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.POST("/breakers/reset", func(ctx http.Context) error {
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.ResetBreakers(c)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
}

func registerSLARoutes(srv *http.Server, svc *service.SLAService) {
	r := srv.Route("/v1/sla")

	r.GET("/current", func(ctx http.Context) error {
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.Current(c)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/summary", func(ctx http.Context) error {
		hours := 24
		if raw := ctx.Query().Get("hours"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil {
				hours = parsed
			}
		}

		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.Summary(c, hours)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})

	r.GET("/breach", func(ctx http.Context) error {
		h := ctx.Middleware(func(c context.Context, _ interface{}) (interface{}, error) {
			return svc.Breach(c)
		})
		out, err := h(ctx, nil)
		if err != nil {
			return err
		}
		return ctx.Result(200, out)
	})
}
