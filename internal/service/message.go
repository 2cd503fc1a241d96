package service

import (
	"errors"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"groupchat/internal/clock"
	"groupchat/internal/events"
	"groupchat/internal/metrics"
	"groupchat/internal/models"

	"gorm.io/gorm"
)

const (
	maxMessageContent = 4000
	defaultPageSize   = 50
	maxPageSize       = 200
)

// MessageService 封装消息相关的业务逻辑。每个操作都先经过频道访问检查。
type MessageService struct {
	db     *gorm.DB
	access *AccessService
	fanout Fanout
	clock  clock.Clock

	mu   sync.Mutex
	last map[uint]time.Time // 每个频道最近分配的时间戳
}

func NewMessageService(db *gorm.DB, access *AccessService, fanout Fanout, clk clock.Clock) *MessageService {
	return &MessageService{db: db, access: access, fanout: fanout, clock: clk, last: make(map[uint]time.Time)}
}

type PostMessageInput struct {
	Content    string
	Attachment string
	ReplyTo    *uint
}

// MessageDTO 是对外输出的消息数据，附带作者用户名。
type MessageDTO struct {
	models.Message
	Username string `json:"username"`
}

func validateContent(content, attachment string) error {
	if strings.TrimSpace(content) == "" && attachment == "" {
		return invalid("content or attachment is required")
	}
	if utf8.RuneCountInString(content) > maxMessageContent {
		return invalid("content too long")
	}
	return nil
}

// nextTimestamp 为频道分配严格递增的时间戳，时钟回拨或同一微秒内的并发写入也不会乱序。
func (s *MessageService) nextTimestamp(channelID uint) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.last[channelID]
	if !ok {
		var m models.Message
		err := s.db.Where("channel_id = ?", channelID).Order("sent_at desc").Take(&m).Error
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return time.Time{}, internal(err)
		}
		last = m.SentAt
	}
	now := s.clock.Now()
	if !now.After(last) {
		now = last.Add(time.Microsecond)
	}
	s.last[channelID] = now
	return now, nil
}

func (s *MessageService) Post(actorID, channelID uint, in PostMessageInput) (*models.Message, error) {
	if err := validateContent(in.Content, in.Attachment); err != nil {
		return nil, err
	}
	if _, err := s.access.CanAccessChannel(actorID, channelID); err != nil {
		return nil, err
	}
	if in.ReplyTo != nil {
		var count int64
		if err := s.db.Model(&models.Message{}).Where("id = ? AND channel_id = ?", *in.ReplyTo, channelID).Count(&count).Error; err != nil {
			return nil, internal(err)
		}
		if count == 0 {
			return nil, invalid("reply_to must reference a message in the same channel")
		}
	}
	ts, err := s.nextTimestamp(channelID)
	if err != nil {
		return nil, err
	}
	msg := models.Message{
		ChannelID:  channelID,
		UserID:     actorID,
		Content:    in.Content,
		Attachment: in.Attachment,
		ReplyTo:    in.ReplyTo,
		SentAt:     ts,
	}
	if err := s.db.Create(&msg).Error; err != nil {
		return nil, internal(err)
	}
	metrics.MessagesPostedTotal.Inc()
	s.fanout.Publish(events.MessageEvent{Action: events.Created, Message: msg})
	return &msg, nil
}

// List 从 before（缺省为当前时刻）向前分页，存储层倒序查询后反转为升序返回。
func (s *MessageService) List(actorID, channelID uint, limit int, before *time.Time) ([]MessageDTO, error) {
	if _, err := s.access.CanAccessChannel(actorID, channelID); err != nil {
		return nil, err
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}

	q := s.db.Where("channel_id = ?", channelID)
	if before != nil {
		q = q.Where("sent_at < ?", before.UTC())
	}

	var msgs []models.Message
	if err := q.Order("sent_at desc").Order("id desc").Limit(limit).Find(&msgs).Error; err != nil {
		return nil, internal(err)
	}

	// 反转为升序
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}

	usernames, err := s.resolveUsernames(msgs)
	if err != nil {
		return nil, err
	}

	out := make([]MessageDTO, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, MessageDTO{Message: m, Username: usernames[m.UserID]})
	}
	return out, nil
}

// resolveUsernames 批量获取消息涉及的用户名。
func (s *MessageService) resolveUsernames(msgs []models.Message) (map[uint]string, error) {
	seen := make(map[uint]struct{}, len(msgs))
	userIDs := make([]uint, 0, len(msgs))
	for _, m := range msgs {
		if _, ok := seen[m.UserID]; ok {
			continue
		}
		seen[m.UserID] = struct{}{}
		userIDs = append(userIDs, m.UserID)
	}

	usernames := make(map[uint]string, len(userIDs))
	if len(userIDs) > 0 {
		var users []models.User
		if err := s.db.Select("id", "username").Where("id IN ?", userIDs).Find(&users).Error; err != nil {
			return nil, internal(err)
		}
		for _, u := range users {
			usernames[u.ID] = u.Username
		}
	}
	return usernames, nil
}

// own 检查访问权限并加载属于 actor 的消息。
func (s *MessageService) own(actorID, channelID, messageID uint) (*models.Message, error) {
	if _, err := s.access.CanAccessChannel(actorID, channelID); err != nil {
		return nil, err
	}
	var msg models.Message
	err := s.db.Where("id = ? AND channel_id = ?", messageID, channelID).First(&msg).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrMessageNotFound
		}
		return nil, internal(err)
	}
	if msg.UserID != actorID {
		return nil, ErrNotAuthor
	}
	return &msg, nil
}

// Edit 只修改内容。
func (s *MessageService) Edit(actorID, channelID, messageID uint, content string) (*models.Message, error) {
	msg, err := s.own(actorID, channelID, messageID)
	if err != nil {
		return nil, err
	}
	if err := validateContent(content, msg.Attachment); err != nil {
		return nil, err
	}
	now := s.clock.Now()
	msg.Content = content
	msg.EditedAt = &now
	if err := s.db.Model(msg).Updates(map[string]any{"content": content, "edited_at": now}).Error; err != nil {
		return nil, internal(err)
	}
	s.fanout.Publish(events.MessageEvent{Action: events.Updated, Message: *msg})
	return msg, nil
}

func (s *MessageService) Delete(actorID, channelID, messageID uint) error {
	msg, err := s.own(actorID, channelID, messageID)
	if err != nil {
		return err
	}
	if err := s.db.Delete(&models.Message{}, msg.ID).Error; err != nil {
		return internal(err)
	}
	s.fanout.Publish(events.MessageEvent{Action: events.Deleted, Message: *msg})
	return nil
}
