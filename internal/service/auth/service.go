package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"bingo-service/internal/config"
	"bingo-service/internal/model"
	pkgAuth "bingo-service/pkg/auth"
	appErr "bingo-service/pkg/errors"
	"bingo-service/pkg/logger"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const minPasswordLength = 6

type Service struct {
	db *gorm.DB
}

type LoginResult struct {
	Token    string     `json:"token"`
	ExpireAt time.Time  `json:"expireAt"`
	User     model.User `json:"user"`
}

func NewService(db *gorm.DB) *Service {
	return &Service{db: db}
}

// Register creates a player whose opening balance is the configured
// starting balance, and logs them in.
func (s *Service) Register(ctx context.Context, phone, password, fullName string) (*LoginResult, error) {
	phone = strings.TrimSpace(phone)
	if !ValidPhone(phone) {
		return nil, appErr.ErrInvalidPhone
	}
	if len(password) < minPasswordLength {
		return nil, appErr.ErrInvalidPassword
	}

	var exists int64
	if err := s.db.WithContext(ctx).Model(&model.User{}).Where("phone = ?", phone).Count(&exists).Error; err != nil {
		return nil, err
	}
	if exists > 0 {
		return nil, appErr.ErrPhoneTaken
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	starting := config.GlobalConfig.Game.StartingBalance
	user := model.User{
		Phone:           phone,
		PasswordHash:    string(hash),
		FullName:        strings.TrimSpace(fullName),
		Role:            model.RolePlayer,
		Balance:         starting,
		StartingBalance: starting,
	}
	if err := s.db.WithContext(ctx).Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, appErr.ErrPhoneTaken
		}
		return nil, err
	}
	logger.Log.Info("user registered",
		zap.Int64("userID", user.ID),
		zap.String("phone", maskPhone(phone)),
	)
	return s.issue(user)
}

func (s *Service) Login(ctx context.Context, phone, password string) (*LoginResult, error) {
	phone = strings.TrimSpace(phone)
	if phone == "" || password == "" {
		return nil, appErr.ErrInvalidCredentials
	}

	var user model.User
	if err := s.db.WithContext(ctx).Where("phone = ?", phone).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, appErr.ErrInvalidCredentials
	}
	return s.issue(user)
}

func (s *Service) issue(user model.User) (*LoginResult, error) {
	token, expireAt, err := pkgAuth.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, err
	}
	return &LoginResult{
		Token:    token,
		ExpireAt: expireAt,
		User:     user,
	}, nil
}

// RequireAdmin reads the caller's role from the store rather than trusting
// the token claim, so demotions take effect immediately.
func (s *Service) RequireAdmin(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return appErr.ErrUnauthorized
	}
	var user model.User
	err := s.db.WithContext(ctx).Select("id", "role").First(&user, userID).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return appErr.ErrUnauthorized
		}
		return err
	}
	if !user.IsAdmin() {
		return appErr.ErrAdminRequired
	}
	return nil
}

func (s *Service) EnsureDefaultAdmin(ctx context.Context) error {
	cfg := config.GlobalConfig.Admin
	if cfg.DefaultPhone == "" || cfg.DefaultPassword == "" {
		logger.Log.Warn("default admin credentials not configured; skipping bootstrap")
		return nil
	}

	var exists int64
	if err := s.db.WithContext(ctx).
		Model(&model.User{}).
		Where("phone = ?", cfg.DefaultPhone).
		Count(&exists).Error; err != nil {
		return err
	}
	if exists > 0 {
		return nil
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(cfg.DefaultPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	name := cfg.DefaultName
	if name == "" {
		name = "Administrator"
	}
	admin := model.User{
		Phone:        cfg.DefaultPhone,
		PasswordHash: string(hash),
		FullName:     name,
		Role:         model.RoleAdmin,
	}
	if err := s.db.WithContext(ctx).Create(&admin).Error; err != nil {
		return err
	}
	logger.Log.Info("default admin account created",
		zap.String("phone", maskPhone(cfg.DefaultPhone)))
	return nil
}

// ValidPhone accepts 6 to 32 digits with an optional leading +.
func ValidPhone(phone string) bool {
	if len(phone) < 6 || len(phone) > 32 {
		return false
	}
	for i, r := range phone {
		if r == '+' && i == 0 {
			continue
		}
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func maskPhone(phone string) string {
	if len(phone) < 7 {
		return phone
	}
	return phone[:3] + "****" + phone[len(phone)-3:]
}
