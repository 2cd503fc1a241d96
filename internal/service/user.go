package service

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"groupchat/internal/auth"
	"groupchat/internal/config"
	"groupchat/internal/events"
	"groupchat/internal/models"

	"gorm.io/gorm"
)

const maxDisplayName = 128

var validStatuses = map[string]bool{"online": true, "busy": true, "away": true, "offline": true}

// UserService 封装用户相关的业务逻辑。
type UserService struct {
	db     *gorm.DB
	cfg    config.Config
	access *AccessService
	fanout Fanout
}

func NewUserService(db *gorm.DB, cfg config.Config, access *AccessService, fanout Fanout) *UserService {
	return &UserService{db: db, cfg: cfg, access: access, fanout: fanout}
}

// RegisterResult 注册成功后返回的数据。
type RegisterResult struct {
	ID       uint   `json:"id"`
	Username string `json:"username"`
}

// Register 注册新用户，返回用户 ID 和用户名。用户名与配置的超级管理员相同时获得站点管理权限。
func (s *UserService) Register(username, password string) (*RegisterResult, error) {
	username = strings.TrimSpace(username)
	if len(username) < 2 || len(username) > 64 {
		return nil, invalid("invalid username")
	}
	if len(password) < 4 || len(password) > 128 {
		return nil, invalid("invalid password")
	}
	var count int64
	if err := s.db.Model(&models.User{}).Where("username = ?", username).Count(&count).Error; err != nil {
		return nil, internal(err)
	}
	if count > 0 {
		return nil, ErrUsernameTaken
	}
	hash, err := auth.HashPassword(password)
	if err != nil {
		return nil, internal(err)
	}
	user := models.User{
		Username:     username,
		DisplayName:  username,
		PasswordHash: hash,
		Status:       "offline",
		IsSuperAdmin: s.cfg.SuperAdminUsername != "" && username == s.cfg.SuperAdminUsername,
	}
	if err := s.db.Create(&user).Error; err != nil {
		if isUniqueViolation(err) {
			return nil, ErrUsernameTaken
		}
		return nil, internal(err)
	}
	s.fanout.Publish(events.UserEvent{Action: events.Created, User: user})
	return &RegisterResult{ID: user.ID, Username: user.Username}, nil
}

// LoginResult 登录成功后返回的数据。
type LoginResult struct {
	AccessToken  string      `json:"access_token"`
	RefreshToken string      `json:"refresh_token"`
	User         models.User `json:"user"`
}

// Login 校验用户名密码并签发 token 对。
func (s *UserService) Login(username, password string) (*LoginResult, error) {
	var user models.User
	if err := s.db.Where("username = ?", strings.TrimSpace(username)).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, internal(err)
	}
	if !auth.VerifyPassword(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	at, err := auth.GenerateAccessToken(user.ID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
	if err != nil {
		return nil, internal(err)
	}
	rt, err := auth.GenerateRefreshToken()
	if err != nil {
		return nil, internal(err)
	}
	exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
	if err := auth.SaveRefreshToken(s.db, user.ID, rt, exp); err != nil {
		return nil, internal(err)
	}
	return &LoginResult{AccessToken: at, RefreshToken: rt, User: user}, nil
}

// RefreshResult 刷新 token 后返回的新 token 对。
type RefreshResult struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshTokens 验证旧 refresh token 并签发新 token 对（旋转刷新）。
func (s *UserService) RefreshTokens(oldRT string) (*RefreshResult, error) {
	var result RefreshResult
	err := s.db.Transaction(func(tx *gorm.DB) error {
		rec, err := auth.ValidateRefreshToken(tx, oldRT)
		if err != nil {
			return ErrInvalidRefresh
		}
		if err := auth.RevokeRefreshToken(tx, oldRT); err != nil {
			return err
		}
		at, err := auth.GenerateAccessToken(rec.UserID, s.cfg.JWTSecret, s.cfg.AccessTokenTTLMinutes)
		if err != nil {
			return err
		}
		newRT, err := auth.GenerateRefreshToken()
		if err != nil {
			return err
		}
		exp := time.Now().Add(time.Duration(s.cfg.RefreshTokenTTLDays) * 24 * time.Hour)
		if err := auth.SaveRefreshToken(tx, rec.UserID, newRT, exp); err != nil {
			return err
		}
		result.AccessToken = at
		result.RefreshToken = newRT
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrInvalidRefresh) {
			return nil, err
		}
		return nil, internal(err)
	}
	return &result, nil
}

func (s *UserService) Get(userID uint) (*models.User, error) {
	var u models.User
	if err := s.db.First(&u, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, internal(err)
	}
	return &u, nil
}

// List 返回全部用户，仅站点超级管理员可用。
func (s *UserService) List(actorID uint) ([]models.User, error) {
	actor, err := s.Get(actorID)
	if err != nil {
		return nil, err
	}
	if !actor.IsSuperAdmin {
		return nil, ErrNotSiteAdmin
	}
	users := []models.User{}
	if err := s.db.Order("id asc").Find(&users).Error; err != nil {
		return nil, internal(err)
	}
	return users, nil
}

type UpdateProfileInput struct {
	DisplayName *string
	Status      *string
}

func (s *UserService) UpdateProfile(actorID uint, in UpdateProfileInput) (*models.User, error) {
	u, err := s.Get(actorID)
	if err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if utf8.RuneCountInString(name) > maxDisplayName {
			return nil, invalid("display name too long")
		}
		u.DisplayName = name
		updates["display_name"] = name
	}
	if in.Status != nil {
		if !validStatuses[*in.Status] {
			return nil, invalid("status must be one of online, busy, away, offline")
		}
		u.Status = *in.Status
		updates["status"] = u.Status
	}
	if len(updates) == 0 {
		return u, nil
	}
	if err := s.db.Model(u).Updates(updates).Error; err != nil {
		return nil, internal(err)
	}
	s.fanout.Publish(events.UserEvent{Action: events.Updated, User: *u})
	return u, nil
}

// SetAvatar 更新头像引用，返回旧引用供调用方清理。
func (s *UserService) SetAvatar(actorID uint, ref string) (*models.User, string, error) {
	u, err := s.Get(actorID)
	if err != nil {
		return nil, "", err
	}
	old := u.Avatar
	u.Avatar = ref
	if err := s.db.Model(u).Update("avatar", ref).Error; err != nil {
		return nil, "", internal(err)
	}
	s.fanout.Publish(events.UserEvent{Action: events.Updated, User: *u})
	return u, old, nil
}

// Delete 删除用户及其成员关系、针对其的封禁和 refresh token。
// 仍是某个群组 super 的用户不能删除。
func (s *UserService) Delete(actorID, userID uint) error {
	if actorID != userID {
		actor, err := s.Get(actorID)
		if err != nil {
			return err
		}
		if !actor.IsSuperAdmin {
			return ErrNotSiteAdmin
		}
	}
	u, err := s.Get(userID)
	if err != nil {
		return err
	}
	var memberships []models.Membership
	if err := s.db.Where("user_id = ?", userID).Find(&memberships).Error; err != nil {
		return internal(err)
	}
	for _, m := range memberships {
		if m.Role == models.RoleSuper {
			return ErrOwnsGroups
		}
	}

	err = s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("user_id = ?", userID).Delete(&models.Membership{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.Ban{}).Error; err != nil {
			return err
		}
		if err := tx.Where("user_id = ?", userID).Delete(&models.RefreshToken{}).Error; err != nil {
			return err
		}
		return tx.Delete(&models.User{}, userID).Error
	})
	if err != nil {
		return internal(err)
	}

	for _, m := range memberships {
		s.fanout.Publish(events.MembershipEvent{Action: events.Deleted, Membership: m})
		s.fanout.EvictUser(userID, s.access.groupRooms(m.GroupID)...)
	}
	s.fanout.Publish(events.UserEvent{Action: events.Deleted, User: *u})
	return nil
}
