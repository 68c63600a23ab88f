package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"integration-console/pkg/lifecycle"
	console "integration-console/sdk/go"
)

// 配置
const (
	ServerURL = "http://localhost:8080"
	HookURL   = "https://hooks.zapier.com/hooks/standard/demo"
)

func main() {
	token := os.Getenv("CONSOLE_TOKEN")
	if token == "" {
		log.Fatal("请设置 CONSOLE_TOKEN 环境变量（控制台登录 Token）")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := console.NewClient(ServerURL,
		console.WithToken(token),
		console.WithTimeout(15*time.Second),
	)

	fmt.Println("========================================")
	fmt.Println("       集成管理控制台 SDK 演示")
	fmt.Println("========================================")

	// 1. 现有连接
	conns, err := client.ListConnections(ctx)
	if err != nil {
		log.Fatalf("获取连接失败: %v", err)
	}
	for _, conn := range conns {
		fmt.Printf("  - %s [%s] %s\n", conn.IntegrationID, conn.Status, conn.Label)
	}

	// 2. 生成带订阅权限的 Key
	generated, err := client.GenerateApiKey(ctx, "SDK 演示", []string{
		lifecycle.ScopeWebhookSubscribe,
		lifecycle.ScopeAnalysesRead,
	}, 30)
	if err != nil {
		log.Fatalf("生成 API Key 失败: %v", err)
	}
	fmt.Printf("\nAPI Key（只显示一次）: %s\n", generated.Secret)
	key := generated.Key

	// 3. 连接测试
	report, err := client.RunConnectionTest(ctx, key.ID)
	switch {
	case errors.Is(err, lifecycle.ErrUnknownResponseShape):
		var shapeErr *console.ResponseShapeError
		if errors.As(err, &shapeErr) {
			fmt.Printf("服务端返回了无法识别的结构: %s\n", shapeErr.Raw)
		}
	case err != nil:
		log.Printf("连接测试失败: %v", err)
	default:
		for _, check := range report.Checks {
			fmt.Printf("  %-15s %-8s %s\n", check.Name, check.Status, check.Message)
		}
		fmt.Printf("结论: %s（%s）\n", report.Overall, report.Message)
	}

	// 4. 订阅 analysis.completed
	sub, err := client.Subscribe(ctx, key, HookURL, string(lifecycle.TriggerAnalysisCompleted))
	if err != nil {
		log.Fatalf("订阅失败: %v", err)
	}
	fmt.Printf("\n订阅成功: %s，签名密钥: %s\n", sub.Webhook.ID, sub.Secret)

	if result, err := client.TestWebhook(ctx, sub.Webhook.ID); err != nil {
		log.Printf("测试投递失败: %v", err)
	} else {
		fmt.Printf("测试投递: success=%v status=%d %dms\n", result.Success, result.StatusCode, result.DurationMs)
	}

	// 5. 清理
	if err := client.Unsubscribe(ctx, sub.Webhook.ID, true); err != nil {
		log.Printf("删除订阅失败: %v", err)
	}
	if err := client.RevokeApiKey(ctx, &key, true); err != nil {
		log.Printf("撤销 API Key 失败: %v", err)
	}
	fmt.Printf("API Key 已撤销: active=%v\n", key.IsActive)
}
