package main

import (
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/zap"

	"github.com/noah-isme/grade-portal/internal/handler"
	"github.com/noah-isme/grade-portal/internal/middleware"
	"github.com/noah-isme/grade-portal/internal/models"
	"github.com/noah-isme/grade-portal/pkg/config"
	"github.com/noah-isme/grade-portal/pkg/logger"
	corsmiddleware "github.com/noah-isme/grade-portal/pkg/middleware/cors"
	reqidmiddleware "github.com/noah-isme/grade-portal/pkg/middleware/requestid"
)

func newRouter(cfg *config.Config, app *application, logr *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(app.metrics))

	ops := handler.NewMetricsHandler(app.metrics, app.db)
	r.GET("/health", ops.Health)
	r.GET("/ready", ops.Ready)
	r.GET("/metrics", ops.Prometheus)
	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	grades := handler.NewGradeHandler(app.grades)
	students := handler.NewStudentHandler(app.students)
	links := handler.NewLinkHandler(app.links)
	alerts := handler.NewAlertHandler(app.alerts)
	notifications := handler.NewNotificationHandler(app.notifications, logr.Named("http"))
	reports := handler.NewReportHandler(app.reports)

	admin := middleware.RequireRoles(models.RoleAdmin)
	staff := middleware.RequireRoles(models.RoleAdmin, models.RoleTeacher)
	parent := middleware.RequireRoles(models.RoleParent)
	inbox := middleware.RequireRoles(models.RoleStudent, models.RoleParent)

	api := r.Group(cfg.APIPrefix)
	api.POST("/parents/register", links.Register)
	api.GET("/files/:token", notifications.Download)

	secured := api.Group("")
	secured.Use(middleware.JWT(app.tokens))

	secured.POST("/grades", staff, grades.Submit)
	secured.POST("/grades/bulk", staff, grades.SubmitBulk)
	secured.PUT("/grades/:id", staff, grades.Update)
	secured.GET("/grades/pending", admin, grades.Pending)
	secured.POST("/grades/:id/approve", admin, grades.Approve)
	secured.POST("/grades/:id/reject", admin, grades.Reject)
	secured.POST("/grades/approve-bulk", admin, grades.ApproveBulk)
	secured.POST("/grades/check", admin, alerts.CheckGrades)

	secured.GET("/students", staff, students.List)
	secured.POST("/students", admin, students.Create)
	secured.GET("/students/:studentId", staff, students.Get)
	secured.DELETE("/students/:studentId", admin, students.Delete)
	secured.GET("/students/:studentId/grades", grades.StudentGrades)
	secured.GET("/students/:studentId/transcript", reports.Transcript)

	secured.DELETE("/parents/:id", admin, links.DeleteParent)
	secured.POST("/links", parent, links.Request)
	secured.GET("/links", admin, links.List)
	secured.POST("/links/repair", admin, links.Repair)
	secured.POST("/links/:id/approve", admin, links.Approve)
	secured.POST("/links/:id/reject", admin, links.Reject)
	secured.DELETE("/links/:id", admin, links.Delete)

	secured.GET("/alerts", parent, alerts.List)
	secured.PATCH("/alerts/:id/read", parent, alerts.MarkRead)

	secured.GET("/notifications", inbox, notifications.List)
	secured.GET("/notifications/unread-count", inbox, notifications.UnreadCount)
	secured.PATCH("/notifications/:id/read", inbox, notifications.MarkRead)
	secured.DELETE("/notifications/:id", inbox, notifications.Delete)
	secured.POST("/notifications", admin, notifications.Send)

	if app.sockets != nil {
		ws := handler.NewRealtimeHandler(app.sockets, logr.Named("realtime"))
		api.GET("/ws", middleware.WebsocketJWT(app.tokens), ws.Connect)
	}

	return r
}
