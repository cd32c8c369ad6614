// 创建初始管理员账号脚本
//
// 首次部署后执行一次，已存在同邮箱账号时直接退出。
//
// 用法: go run scripts/seed_admin.go -email admin@example.com -password <密码>

package main

import (
	"errors"
	"exam_portal_backend/internal/config"
	"exam_portal_backend/internal/model"
	"exam_portal_backend/pkg/database"
	"exam_portal_backend/pkg/logger"
	"flag"
	"log"
	"os"

	"golang.org/x/crypto/bcrypt"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
)

func main() {
	email := flag.String("email", "admin@example.com", "管理员邮箱")
	password := flag.String("password", "", "管理员密码（至少8位）")
	name := flag.String("name", "管理员", "管理员姓名")
	flag.Parse()

	if len(*password) < 8 {
		log.Fatal("密码至少8位")
	}

	data, err := os.ReadFile("configs/config.yaml")
	if err != nil {
		log.Fatalf("无法读取配置文件: %v", err)
	}

	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	logger.InitLogger(&cfg)

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		log.Fatalf("数据库连接失败: %v", err)
	}

	var existing model.User
	err = db.Where("email = ?", *email).First(&existing).Error
	if err == nil {
		log.Printf("账号已存在: %s (id=%d)，跳过", *email, existing.ID)
		return
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Fatalf("查询失败: %v", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(*password), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("密码加密失败: %v", err)
	}

	admin := model.User{
		Name:     *name,
		Email:    *email,
		Password: string(hashed),
		Role:     model.Admin,
	}
	if err := db.Create(&admin).Error; err != nil {
		log.Fatalf("创建管理员失败: %v", err)
	}

	log.Printf("管理员已创建: %s (id=%d)", *email, admin.ID)
}
