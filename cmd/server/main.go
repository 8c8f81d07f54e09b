// cmd/server/main.go
package main

import (
	"log"

	"github.com/Corphon/TranscriptQA/internal/app"
	"github.com/Corphon/TranscriptQA/internal/config"
)

func main() {
	log.Println("🚀 启动 TranscriptQA 服务器...")

	// 1. 加载配置（.env + 环境变量）
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("❌ 加载配置失败: %v", err)
	}
	log.Printf("✅ 配置加载完成，端口: %s，LLM 提供商: %s", cfg.Port, cfg.LLM.Provider)

	// 2. 初始化日志、服务和路由
	application, err := app.New(cfg)
	if err != nil {
		log.Fatalf("❌ 初始化应用失败: %v", err)
	}

	if ready, state := application.Services().LLM.GetProviderStatus(); !ready {
		log.Printf("⚠️ AI 功能不可用: %s", state)
	}

	log.Printf("🔗 访问地址: http://localhost:%s", cfg.Port)

	// 3. 运行直到收到停止信号
	if err := application.Run(); err != nil {
		log.Fatalf("❌ %v", err)
	}
	log.Println("👋 服务器已退出")
}
