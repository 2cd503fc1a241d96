package server

import (
	"errors"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"groupchat/internal/auth"
	"groupchat/internal/service"
	"groupchat/internal/storage"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Handler 聚合所有 HTTP handler，依赖注入 service 层。
type Handler struct {
	users     *service.UserService
	groups    *service.GroupService
	channels  *service.ChannelService
	messages  *service.MessageService
	bans      *service.BanService
	store     storage.Store
	uploadMax int64
}

func NewHandler(d Deps, uploadMax int64) *Handler {
	return &Handler{
		users:     d.Users,
		groups:    d.Groups,
		channels:  d.Channels,
		messages:  d.Messages,
		bans:      d.Bans,
		store:     d.Store,
		uploadMax: uploadMax,
	}
}

func statusFor(kind service.Kind) int {
	switch kind {
	case service.KindUnauthorized:
		return http.StatusUnauthorized
	case service.KindValidation:
		return http.StatusBadRequest
	case service.KindNotFound:
		return http.StatusNotFound
	case service.KindForbidden:
		return http.StatusForbidden
	case service.KindConflict:
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError 按错误类别映射状态码；内部错误只记录日志，不把细节返回给客户端。
func writeError(c *gin.Context, err error, msg string) {
	kind := service.KindOf(err)
	if kind == service.KindInternal {
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Str("path", c.FullPath()).Msg(msg)
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg, "code": kind})
		return
	}
	c.JSON(statusFor(kind), gin.H{"error": err.Error(), "code": kind})
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg, "code": service.KindValidation})
}

func idParam(c *gin.Context, name string) (uint, bool) {
	v, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || v == 0 {
		badRequest(c, "invalid "+name)
		return 0, false
	}
	return uint(v), true
}

// Register 处理用户注册请求。
func (h *Handler) Register(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	result, err := h.users.Register(req.Username, req.Password)
	if err != nil {
		writeError(c, err, "failed to create user")
		return
	}
	c.JSON(http.StatusOK, result)
}

// Login 处理用户登录请求。
func (h *Handler) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" || req.Password == "" {
		badRequest(c, "invalid payload")
		return
	}
	result, err := h.users.Login(req.Username, req.Password)
	if err != nil {
		writeError(c, err, "login failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

// RefreshToken 处理 token 刷新请求。
func (h *Handler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.RefreshToken == "" {
		badRequest(c, "invalid payload")
		return
	}
	result, err := h.users.RefreshTokens(req.RefreshToken)
	if err != nil {
		if !errors.Is(err, service.ErrInvalidRefresh) {
			log.Warn().Err(err).Msg("refresh token")
		}
		writeError(c, err, "refresh failed")
		return
	}
	c.JSON(http.StatusOK, result)
}

func (h *Handler) ListUsers(c *gin.Context) {
	users, err := h.users.List(auth.GetUserID(c))
	if err != nil {
		writeError(c, err, "failed to list users")
		return
	}
	c.JSON(http.StatusOK, gin.H{"users": users})
}

func (h *Handler) GetUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	u, err := h.users.Get(id)
	if err != nil {
		writeError(c, err, "failed to load user")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// UpdateProfile 修改当前用户的显示名与状态。
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req struct {
		DisplayName *string `json:"display_name"`
		Status      *string `json:"status"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid payload")
		return
	}
	u, err := h.users.UpdateProfile(auth.GetUserID(c), service.UpdateProfileInput{DisplayName: req.DisplayName, Status: req.Status})
	if err != nil {
		writeError(c, err, "failed to update profile")
		return
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

func (h *Handler) DeleteUser(c *gin.Context) {
	id, ok := idParam(c, "id")
	if !ok {
		return
	}
	if err := h.users.Delete(auth.GetUserID(c), id); err != nil {
		writeError(c, err, "failed to delete user")
		return
	}
	c.Status(http.StatusNoContent)
}

// upload 从 multipart 字段读取文件并写入存储，返回引用。
func (h *Handler) upload(c *gin.Context, field, prefix string) (string, bool) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.uploadMax)
	fh, err := c.FormFile(field)
	if err != nil {
		badRequest(c, "missing or oversized "+field)
		return "", false
	}
	if fh.Size > h.uploadMax {
		badRequest(c, field+" too large")
		return "", false
	}
	f, err := fh.Open()
	if err != nil {
		badRequest(c, "unreadable "+field)
		return "", false
	}
	defer f.Close()
	ref, err := h.store.Put(c.Request.Context(), storage.Object{
		Prefix:      prefix,
		Ext:         filepath.Ext(fh.Filename),
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Body:        f,
	})
	if err != nil {
		log.Error().Err(err).Uint("user_id", auth.GetUserID(c)).Str("field", field).Msg("store upload")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload failed", "code": service.KindInternal})
		return "", false
	}
	return ref, true
}

// SetAvatar 上传新头像；旧头像尽力删除。
func (h *Handler) SetAvatar(c *gin.Context) {
	ref, ok := h.upload(c, "avatar", "avatars")
	if !ok {
		return
	}
	u, old, err := h.users.SetAvatar(auth.GetUserID(c), ref)
	if err != nil {
		_ = h.store.Delete(c.Request.Context(), ref)
		writeError(c, err, "failed to set avatar")
		return
	}
	if old != "" {
		if err := h.store.Delete(c.Request.Context(), old); err != nil {
			log.Warn().Err(err).Uint("user_id", u.ID).Str("ref", old).Msg("delete old avatar")
		}
	}
	c.JSON(http.StatusOK, gin.H{"user": u})
}

// UploadAttachment 保存消息附件，返回可在发消息时引用的 attachment。
func (h *Handler) UploadAttachment(c *gin.Context) {
	ref, ok := h.upload(c, "attachment", "attachments")
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"attachment": ref})
}
