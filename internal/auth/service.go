package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"userapikey/backend/internal/auth/jwt"
	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/storage"
)

var (
	// ErrEmailExists 邮箱已存在
	ErrEmailExists = errors.New("email already exists")
	// ErrUsernameExists 用户名已存在
	ErrUsernameExists = errors.New("username already exists")
	// ErrUserNotFound 用户不存在
	ErrUserNotFound = errors.New("user not found")
	// ErrInvalidCredentials 凭证无效
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrUserInactive 用户已被禁用
	ErrUserInactive = errors.New("user is inactive")
	// ErrInvalidTrustLevel 信任等级超出范围
	ErrInvalidTrustLevel = errors.New("invalid trust level")
)

// Service 认证服务
type Service struct {
	userRepo storage.UserRepository
	tokens   *jwt.Manager
	log      *zap.Logger
}

// NewService 创建认证服务
func NewService(userRepo storage.UserRepository, tokens *jwt.Manager, log *zap.Logger) *Service {
	return &Service{
		userRepo: userRepo,
		tokens:   tokens,
		log:      log,
	}
}

// CreateUserInput 创建用户输入（注册与命令行共用）
type CreateUserInput struct {
	Email      string
	Password   string
	Username   string
	Role       domain.UserRole
	TrustLevel int
}

// AuthResponse 认证响应
type AuthResponse struct {
	User        *domain.User `json:"user"`
	AccessToken string       `json:"accessToken"`
	TokenType   string       `json:"tokenType"`
	ExpiresIn   int64        `json:"expiresIn"`
}

// Register 用户自助注册，新用户为普通角色、信任等级 0
func (s *Service) Register(req *domain.RegisterRequest) (*AuthResponse, error) {
	user, err := s.CreateUser(CreateUserInput{
		Email:      req.Email,
		Password:   req.Password,
		Username:   req.Username,
		Role:       domain.RoleUser,
		TrustLevel: domain.MinTrustLevel,
	})
	if err != nil {
		return nil, err
	}
	return s.issue(user)
}

// CreateUser 校验输入并创建用户
//
// 参数:
//   - input: 用户信息，邮箱会被转换为小写
//
// 返回值:
//   - *domain.User: 创建成功的用户
//   - error: 校验失败返回 domain 中的校验错误，重复时返回 ErrEmailExists / ErrUsernameExists
func (s *Service) CreateUser(input CreateUserInput) (*domain.User, error) {
	email := strings.ToLower(strings.TrimSpace(input.Email))
	username := strings.TrimSpace(input.Username)

	if err := domain.ValidateEmail(email); err != nil {
		return nil, err
	}
	if err := domain.ValidateUsername(username); err != nil {
		return nil, err
	}
	if err := domain.ValidatePassword(input.Password); err != nil {
		return nil, err
	}
	if input.TrustLevel < domain.MinTrustLevel || input.TrustLevel > domain.MaxTrustLevel {
		return nil, ErrInvalidTrustLevel
	}
	role := input.Role
	if role == "" {
		role = domain.RoleUser
	}

	// 检查邮箱是否已存在
	if user, err := s.userRepo.GetUserByEmail(email); err == nil && user != nil {
		return nil, ErrEmailExists
	}

	// 检查用户名是否已存在
	if user, err := s.userRepo.GetUserByUsername(username); err == nil && user != nil {
		return nil, ErrUsernameExists
	}

	passwordHash, err := HashPassword(input.Password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	now := time.Now().UTC()
	user := &domain.User{
		ID:           uuid.New().String(),
		Email:        email,
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		TrustLevel:   input.TrustLevel,
		IsActive:     true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := s.userRepo.CreateUser(user); err != nil {
		// 检查与写入之间的竞争
		if errors.Is(err, storage.ErrUserExists) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.Info("user created",
		zap.String("userID", user.ID),
		zap.String("role", string(user.Role)),
		zap.Int("trustLevel", user.TrustLevel),
	)
	return user, nil
}

// Login 用户登录（用户名或邮箱）
func (s *Service) Login(req *domain.LoginRequest) (*AuthResponse, error) {
	identifier := strings.TrimSpace(req.Username)

	// 优先按邮箱查找
	user, err := s.userRepo.GetUserByEmail(strings.ToLower(identifier))
	if err != nil {
		// 如果按邮箱查找失败，尝试按用户名查找
		user, err = s.userRepo.GetUserByUsername(identifier)
		if err != nil {
			return nil, ErrInvalidCredentials
		}
	}

	// 先校验密码，避免通过禁用状态探测账号
	if !CheckPassword(req.Password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, ErrUserInactive
	}

	if err := s.userRepo.UpdateLastLogin(user.ID); err != nil {
		s.log.Warn("failed to update last login", zap.String("userID", user.ID), zap.Error(err))
	}

	return s.issue(user)
}

// GetUserByID 根据 ID 获取用户
func (s *Service) GetUserByID(userID string) (*domain.User, error) {
	user, err := s.userRepo.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return user, nil
}

func (s *Service) issue(user *domain.User) (*AuthResponse, error) {
	token, err := s.tokens.Generate(user.ID, string(user.Role))
	if err != nil {
		return nil, err
	}
	return &AuthResponse{
		User:        user,
		AccessToken: token.AccessToken,
		TokenType:   token.TokenType,
		ExpiresIn:   token.ExpiresIn,
	}, nil
}

// HashPassword 哈希密码
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword 检查密码是否匹配
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}
