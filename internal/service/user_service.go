package service

import (
	"errors"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/internal/repository"
	"exam_portal_backend/internal/util"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

type UserService struct {
	UserRepo *repository.UserRepository
}

func NewUserService(userRepo *repository.UserRepository) *UserService {
	return &UserService{UserRepo: userRepo}
}

func (s *UserService) GetUser(id uint) (*model.User, error) {
	user, err := s.UserRepo.FindByID(id)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, util.ErrUserNotFound
	}
	return user, err
}

type UpdateProfileReq struct {
	Name   *string `json:"name"`
	Avatar *string `json:"avatar"`
}

func (s *UserService) UpdateProfile(userID uint, req UpdateProfileReq) (*model.User, error) {
	user, err := s.GetUser(userID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil && *req.Name != "" {
		user.Name = *req.Name
	}
	if req.Avatar != nil {
		user.Avatar = *req.Avatar
	}

	if err := s.UserRepo.Update(user); err != nil {
		return nil, err
	}
	return user, nil
}

type AdminUpdateUserReq struct {
	Name   *string         `json:"name"`
	Avatar *string         `json:"avatar"`
	Role   *model.UserRole `json:"role"`
}

// AdminUpdateUser 管理员侧更新：在个人资料之外还允许改角色
func (s *UserService) AdminUpdateUser(userID uint, req AdminUpdateUserReq) (*model.User, error) {
	user, err := s.GetUser(userID)
	if err != nil {
		return nil, err
	}

	if req.Name != nil && *req.Name != "" {
		user.Name = *req.Name
	}
	if req.Avatar != nil {
		user.Avatar = *req.Avatar
	}
	if req.Role != nil {
		user.Role = *req.Role
	}

	if err := s.UserRepo.Update(user); err != nil {
		return nil, err
	}
	return user, nil
}

func (s *UserService) ListUsers(page, limit int, role, keyword string) ([]model.User, int64, error) {
	return s.UserRepo.List(page, limit, role, keyword)
}

func (s *UserService) SetDisabled(userID uint, disabled bool) error {
	user, err := s.GetUser(userID)
	if err != nil {
		return err
	}
	user.Disabled = disabled
	return s.UserRepo.Update(user)
}

func (s *UserService) ResetPassword(userID uint, newPassword string) error {
	user, err := s.GetUser(userID)
	if err != nil {
		return err
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	user.Password = string(hashed)
	return s.UserRepo.Update(user)
}

func (s *UserService) DeleteUser(userID uint) error {
	return s.UserRepo.Delete(userID)
}
