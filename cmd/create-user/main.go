package main

import (
	"flag"
	"fmt"
	"os"

	"userapikey/backend/internal/auth"
	jwtpkg "userapikey/backend/internal/auth/jwt"
	"userapikey/backend/internal/config"
	"userapikey/backend/internal/domain"
	"userapikey/backend/internal/logger"
	"userapikey/backend/internal/storage/postgres"
)

// create-user 直接写入数据库创建账号，用于初始化管理员或预置高信任等级用户。
func main() {
	email := flag.String("email", "", "邮箱")
	password := flag.String("password", "", "密码")
	username := flag.String("username", "", "用户名")
	roleStr := flag.String("role", "user", "角色: user、admin 或 super")
	trustLevel := flag.Int("trust-level", domain.MinTrustLevel, "信任等级 0-4")
	flag.Parse()

	if *email == "" || *password == "" || *username == "" {
		fmt.Println("Usage: create-user -email=<email> -password=<password> -username=<name> [-role=admin] [-trust-level=2]")
		os.Exit(1)
	}

	var role domain.UserRole
	switch *roleStr {
	case "user":
		role = domain.RoleUser
	case "admin":
		role = domain.RoleAdmin
	case "super":
		role = domain.RoleSuper
	default:
		fmt.Printf("Invalid role %q\n", *roleStr)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	var store *postgres.Store
	switch cfg.Database.Type {
	case "postgres":
		store, err = postgres.NewStore(cfg.Database.DSN)
	case "mysql":
		store, err = postgres.NewMySQLStore(cfg.Database.DSN)
	default:
		fmt.Println("USERAPI_DATABASE_TYPE must be postgres or mysql; memory storage does not outlive this command")
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	tokens := jwtpkg.NewManager(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.AccessExpiry)
	authService := auth.NewService(store, tokens, log)

	user, err := authService.CreateUser(auth.CreateUserInput{
		Email:      *email,
		Password:   *password,
		Username:   *username,
		Role:       role,
		TrustLevel: *trustLevel,
	})
	if err != nil {
		fmt.Printf("Failed to create user: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("✓ User created successfully!\n")
	fmt.Printf("  ID:          %s\n", user.ID)
	fmt.Printf("  Email:       %s\n", user.Email)
	fmt.Printf("  Username:    %s\n", user.Username)
	fmt.Printf("  Role:        %s\n", user.Role)
	fmt.Printf("  Trust level: %d\n", user.TrustLevel)
}
