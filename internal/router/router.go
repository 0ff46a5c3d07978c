package router

import (
	"github.com/cloudwego/hertz/pkg/app/server"

	"WearSync/internal/handler"
	"WearSync/internal/middleware"
)

func Register(h *server.Hertz, participants *handler.ParticipantHandler) {
	h.Use(middleware.RecoverMiddleware())
	h.Use(middleware.RequestIDMiddleware())
	h.Use(middleware.OpenTelemetryMiddleware())

	h.GET("/ping", handler.Ping)

	v1 := h.Group("/v1")

	// 参与者同步相关路由，研究人员内网调用
	p := v1.Group("/participants/:id")
	{
		p.GET("/status", participants.GetStatus)
		p.POST("/sync", participants.TriggerSync)
		p.GET("/report", participants.GetReport)
	}
}
