package main

import (
	"flag"
	"fmt"
	"os"

	"integration-console/internal/pkg/crypto"
)

// 生成管理员密码的 bcrypt 哈希，可直接写入 users.password_hash
//
//	go run ./tools -password 'Test123456'
func main() {
	password := flag.String("password", "", "明文密码")
	minLength := flag.Int("min-length", 8, "最小长度")
	flag.Parse()

	if !crypto.PasswordStrongEnough(*password, *minLength) {
		fmt.Fprintf(os.Stderr, "密码至少 %d 位，且需包含字母和数字\n", *minLength)
		os.Exit(1)
	}

	hash, err := crypto.HashPassword(*password)
	if err != nil {
		fmt.Fprintln(os.Stderr, "生成哈希失败:", err)
		os.Exit(1)
	}
	fmt.Printf("bcrypt哈希: %s\n", hash)
}
