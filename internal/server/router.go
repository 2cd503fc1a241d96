package server

import (
	"net/http"

	"groupchat/internal/auth"
	"groupchat/internal/config"
	"groupchat/internal/metrics"
	"groupchat/internal/mw"
	"groupchat/internal/service"
	"groupchat/internal/storage"
	"groupchat/internal/ws"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps 是路由需要的全部组件，由 main 构造。
type Deps struct {
	Auth     *auth.Authenticator
	Access   *service.AccessService
	Users    *service.UserService
	Groups   *service.GroupService
	Channels *service.ChannelService
	Messages *service.MessageService
	Bans     *service.BanService
	Hub      *ws.Hub
	Store    storage.Store
	Limiter  *mw.RateLimiter
}

// SetupRouter 统一初始化 Gin 中间件、REST API 以及 WebSocket 端点。
func SetupRouter(cfg config.Config, d Deps) *gin.Engine {
	h := NewHandler(d, cfg.UploadMaxBytes)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(metrics.GinMiddleware())
	r.Use(mw.CORS(cfg.Env, cfg.CORSOrigins))
	if d.Limiter != nil {
		r.Use(d.Limiter.Middleware())
	}

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/ws", ws.Serve(d.Hub, d.Auth, d.Access))
	if _, ok := d.Store.(*storage.DiskStore); ok {
		r.Static("/files", cfg.Storage.Dir)
	}

	api := r.Group("/api/v1")
	api.POST("/auth/register", h.Register)
	api.POST("/auth/login", h.Login)
	api.POST("/auth/refresh", h.RefreshToken)

	// 需要 Bearer Token 的业务接口。
	authed := api.Group("")
	authed.Use(d.Auth.Middleware())

	authed.GET("/users", h.ListUsers)
	authed.GET("/users/:id", h.GetUser)
	authed.PUT("/users/me", h.UpdateProfile)
	authed.PUT("/users/me/avatar", h.SetAvatar)
	authed.DELETE("/users/:id", h.DeleteUser)

	authed.POST("/groups", h.CreateGroup)
	authed.GET("/groups", h.ListGroups)
	authed.GET("/groups/:id", h.GetGroup)
	authed.PUT("/groups/:id", h.UpdateGroup)
	authed.DELETE("/groups/:id", h.DeleteGroup)
	authed.GET("/groups/:id/members", h.GroupMembers)
	authed.POST("/groups/:id/members", h.InviteMember)
	authed.PUT("/groups/:id/members/:userId", h.SetMemberRole)
	authed.DELETE("/groups/:id/members/:userId", h.RemoveMember)
	authed.GET("/groups/:id/channels", h.ListChannels)
	authed.POST("/groups/:id/channels", h.CreateChannel)
	authed.POST("/groups/:id/bans", h.CreateBan)

	authed.PUT("/channels/:id", h.UpdateChannel)
	authed.DELETE("/channels/:id", h.DeleteChannel)
	authed.GET("/channels/:id/members", h.ChannelMembers)
	authed.GET("/channels/:id/presence", h.ChannelPresence)
	authed.GET("/channels/:id/messages", h.ListMessages)
	authed.POST("/channels/:id/messages", h.PostMessage)
	authed.PUT("/channels/:id/messages/:messageId", h.EditMessage)
	authed.DELETE("/channels/:id/messages/:messageId", h.DeleteMessage)

	authed.GET("/bans", h.ListBans)
	authed.PUT("/bans/:id", h.UpdateBan)
	authed.DELETE("/bans/:id", h.DeleteBan)

	authed.POST("/attachments", h.UploadAttachment)

	return r
}
