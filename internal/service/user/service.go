package user

import (
	"context"
	"errors"
	"strings"

	"bingo-service/internal/model"
	"bingo-service/internal/service/auth"
	"bingo-service/internal/service/ledger"
	appErr "bingo-service/pkg/errors"
	"bingo-service/pkg/logger"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultAdminUserPageSize = 20
	maxAdminUserPageSize     = 100
)

type Service struct {
	db    *gorm.DB
	authz ledger.Authorizer
}

type UpdateProfileRequest struct {
	FullName *string
	Phone    *string
}

type AdminUpdateRequest struct {
	FullName *string
	Phone    *string
	Role     *string
}

type AdminListUsersFilter struct {
	Page    int
	Size    int
	Role    string
	Keyword string
}

type AdminListUsersResult struct {
	Items []model.User
	Total int64
}

func NewService(db *gorm.DB, authz ledger.Authorizer) *Service {
	return &Service{db: db, authz: authz}
}

func (f *AdminListUsersFilter) sanitize() {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Size <= 0 {
		f.Size = defaultAdminUserPageSize
	}
	if f.Size > maxAdminUserPageSize {
		f.Size = maxAdminUserPageSize
	}
	f.Role = strings.ToLower(strings.TrimSpace(f.Role))
	f.Keyword = strings.TrimSpace(f.Keyword)
}

func applyAdminUserFilters(db *gorm.DB, filter AdminListUsersFilter) *gorm.DB {
	if filter.Role != "" {
		db = db.Where("role = ?", filter.Role)
	}
	if filter.Keyword != "" {
		like := "%" + filter.Keyword + "%"
		db = db.Where("phone LIKE ? OR full_name LIKE ?", like, like)
	}
	return db
}

func (s *Service) GetProfile(ctx context.Context, userID int64) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, appErr.ErrUserNotFound
		}
		return nil, err
	}
	return &user, nil
}

// UpdateProfile lets a user edit their own name and phone. Role and money
// fields are never touched here.
func (s *Service) UpdateProfile(ctx context.Context, userID int64, req UpdateProfileRequest) (*model.User, error) {
	updates, err := profileUpdates(req.FullName, req.Phone)
	if err != nil {
		return nil, err
	}
	if err := s.apply(ctx, userID, updates); err != nil {
		return nil, err
	}
	return s.GetProfile(ctx, userID)
}

// AdminUpdateProfile edits another user's profile, including their role.
func (s *Service) AdminUpdateProfile(ctx context.Context, adminID, userID int64, req AdminUpdateRequest) (*model.User, error) {
	if err := s.authz.RequireAdmin(ctx, adminID); err != nil {
		return nil, err
	}
	updates, err := profileUpdates(req.FullName, req.Phone)
	if err != nil {
		return nil, err
	}
	if req.Role != nil {
		role := strings.ToLower(strings.TrimSpace(*req.Role))
		if role != model.RolePlayer && role != model.RoleAdmin {
			return nil, appErr.ErrInvalidRole
		}
		updates["role"] = role
	}
	if err := s.apply(ctx, userID, updates); err != nil {
		return nil, err
	}

	logger.Log.Info("admin updated user profile",
		zap.Int64("adminID", adminID),
		zap.Int64("userID", userID),
		zap.Any("fields", keys(updates)),
	)
	return s.GetProfile(ctx, userID)
}

func profileUpdates(fullName, phone *string) (map[string]interface{}, error) {
	updates := map[string]interface{}{}
	if fullName != nil {
		updates["full_name"] = strings.TrimSpace(*fullName)
	}
	if phone != nil {
		p := strings.TrimSpace(*phone)
		if !auth.ValidPhone(p) {
			return nil, appErr.ErrInvalidPhone
		}
		updates["phone"] = p
	}
	return updates, nil
}

func (s *Service) apply(ctx context.Context, userID int64, updates map[string]interface{}) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var exists int64
		if err := tx.Model(&model.User{}).Where("id = ?", userID).Count(&exists).Error; err != nil {
			return err
		}
		if exists == 0 {
			return appErr.ErrUserNotFound
		}
		if len(updates) == 0 {
			return nil
		}
		if phone, ok := updates["phone"]; ok {
			var taken int64
			if err := tx.Model(&model.User{}).
				Where("phone = ? AND id <> ?", phone, userID).
				Count(&taken).Error; err != nil {
				return err
			}
			if taken > 0 {
				return appErr.ErrPhoneTaken
			}
		}
		err := tx.Model(&model.User{}).Where("id = ?", userID).Updates(updates).Error
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return appErr.ErrPhoneTaken
		}
		return err
	})
}

func (s *Service) AdminListUsers(ctx context.Context, filter AdminListUsersFilter) (*AdminListUsersResult, error) {
	filter.sanitize()

	countQuery := applyAdminUserFilters(s.db.WithContext(ctx).Model(&model.User{}), filter)
	var total int64
	if err := countQuery.Count(&total).Error; err != nil {
		return nil, err
	}

	result := &AdminListUsersResult{
		Items: make([]model.User, 0),
		Total: total,
	}
	if total == 0 {
		return result, nil
	}

	dataQuery := applyAdminUserFilters(s.db.WithContext(ctx).Model(&model.User{}), filter)
	if err := dataQuery.
		Order("id DESC").
		Limit(filter.Size).
		Offset((filter.Page - 1) * filter.Size).
		Find(&result.Items).Error; err != nil {
		return nil, err
	}

	return result, nil
}

func keys(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}
